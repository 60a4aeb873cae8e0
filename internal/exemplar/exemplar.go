// Package exemplar selects reference workflow graphs used to ground
// generation. Selection is a pure function over a fixed, versioned corpus:
// same request, same corpus, same result.
package exemplar

// CorpusVersion identifies the built-in exemplar set.
const CorpusVersion = "2026-07"

// Exemplar is one read-only reference graph.
type Exemplar struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	// Bucket is a complexity class: 1 simple, 2 standard, 3 complex.
	Bucket  int    `json:"bucket"`
	Summary string `json:"summary"`
	// Sketch is a compact textual outline of the graph, included verbatim
	// in prompts as an example.
	Sketch string `json:"sketch"`
}

// DefaultCorpus is the built-in exemplar set, in canonical corpus order.
// Order matters: score ties are broken by position.
var DefaultCorpus = []Exemplar{
	{
		ID: "ex-webhook-slack", Category: "notification", Bucket: 1,
		Tags:    []string{"webhook", "slack", "notify", "alert", "message"},
		Summary: "Webhook trigger fans out a formatted Slack alert.",
		Sketch:  "webhook -> parse payload -> format message -> slack.post",
	},
	{
		ID: "ex-form-email", Category: "notification", Bucket: 1,
		Tags:    []string{"form", "email", "gmail", "autoresponder"},
		Summary: "Form submission triggers a templated email reply.",
		Sketch:  "form.trigger -> validate fields -> render template -> gmail.send",
	},
	{
		ID: "ex-sheet-crm-sync", Category: "data-sync", Bucket: 2,
		Tags:    []string{"sheets", "crm", "hubspot", "sync", "dedupe", "upsert"},
		Summary: "Spreadsheet rows are deduplicated and upserted into a CRM.",
		Sketch:  "sheets.poll -> diff rows -> dedupe -> map fields -> hubspot.upsert -> log result",
	},
	{
		ID: "ex-db-warehouse", Category: "data-sync", Bucket: 3,
		Tags:    []string{"postgres", "warehouse", "etl", "batch", "schedule", "transform"},
		Summary: "Scheduled batch ETL from an operational database to a warehouse.",
		Sketch:  "cron -> postgres.select -> chunk -> transform -> warehouse.load -> reconcile counts -> alert on drift",
	},
	{
		ID: "ex-invoice-approval", Category: "approval", Bucket: 2,
		Tags:    []string{"invoice", "approval", "slack", "condition", "branch", "escalate"},
		Summary: "Invoice over a threshold branches into a human approval step.",
		Sketch:  "invoice.created -> if amount > limit -> slack.approve? -> [yes] pay -> [no] escalate",
	},
	{
		ID: "ex-pr-review-gate", Category: "approval", Bucket: 2,
		Tags:    []string{"github", "review", "gate", "condition", "merge"},
		Summary: "Pull-request events gate on review state before merging.",
		Sketch:  "github.pr -> check reviews -> if approved -> merge -> notify; else request changes",
	},
	{
		ID: "ex-price-watch", Category: "scraping", Bucket: 2,
		Tags:    []string{"scrape", "http", "price", "monitor", "schedule", "compare"},
		Summary: "Scheduled scrape compares prices and alerts on change.",
		Sketch:  "cron -> http.get -> extract price -> compare to last -> if changed -> store + alert",
	},
	{
		ID: "ex-weekly-report", Category: "reporting", Bucket: 2,
		Tags:    []string{"report", "aggregate", "schedule", "email", "chart", "summary"},
		Summary: "Weekly aggregation across sources rendered into an emailed report.",
		Sketch:  "cron.weekly -> fetch metrics -> aggregate -> render report -> email.send",
	},
	{
		ID: "ex-support-triage", Category: "ai-enrichment", Bucket: 3,
		Tags:    []string{"ticket", "classify", "llm", "route", "sentiment", "zendesk"},
		Summary: "Support tickets are classified by a model and routed per label.",
		Sketch:  "ticket.created -> llm.classify -> switch label -> route to queue -> tag + ack",
	},
	{
		ID: "ex-lead-enrich", Category: "ai-enrichment", Bucket: 3,
		Tags:    []string{"lead", "enrich", "llm", "crm", "lookup", "score"},
		Summary: "New leads are enriched from public data and scored before CRM write.",
		Sketch:  "lead.created -> lookup company -> llm.summarize -> score -> crm.update -> notify owner",
	},
}
