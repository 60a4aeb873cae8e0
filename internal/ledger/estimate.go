package ledger

import (
	"strings"
	"unicode"

	"flowsmith/internal/types"
)

// Tier is a credit-cost band derived from the complexity score.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierVeryHigh Tier = "very_high"
)

// Estimate is the advisory sizing of one request. It drives the pre-check
// and exemplar proximity only; settlement never reads it.
type Estimate struct {
	Score  int   `json:"score"`
	Tier   Tier  `json:"tier"`
	Cost   int64 `json:"cost"`
	Bucket int   `json:"bucket"`
	Apps   int   `json:"apps"`
}

// branchWords signal conditional or multi-path flows.
var branchWords = map[string]struct{}{
	"if": {}, "when": {}, "unless": {}, "branch": {}, "condition": {},
	"conditional": {}, "filter": {}, "route": {}, "switch": {}, "approve": {},
	"approval": {}, "otherwise": {}, "else": {}, "escalate": {}, "retry": {},
}

// appWords are integration names recognized by the estimator.
var appWords = map[string]struct{}{
	"slack": {}, "gmail": {}, "email": {}, "sheets": {}, "spreadsheet": {},
	"hubspot": {}, "salesforce": {}, "github": {}, "gitlab": {}, "postgres": {},
	"mysql": {}, "stripe": {}, "twilio": {}, "notion": {}, "airtable": {},
	"discord": {}, "jira": {}, "zendesk": {}, "webhook": {}, "s3": {},
	"dropbox": {}, "calendar": {}, "trello": {}, "shopify": {}, "crm": {},
}

// EstimateComplexity scores a request deterministically: prompt length,
// branching keywords, and how many distinct integrations it names.
func EstimateComplexity(req types.GenerationRequest) Estimate {
	text := req.Prompt + " " + strings.Join(req.Hints, " ")
	words := splitWords(text)

	score := len(words) / 10
	apps := map[string]struct{}{}
	for _, w := range words {
		if _, ok := branchWords[w]; ok {
			score += 3
		}
		if _, ok := appWords[w]; ok {
			apps[w] = struct{}{}
		}
	}
	score += len(apps) * 4
	if len(apps) >= 3 {
		score += 5
	}

	est := Estimate{Score: score, Apps: len(apps)}
	switch {
	case score < 10:
		est.Tier, est.Cost, est.Bucket = TierLow, 2, 1
	case score < 20:
		est.Tier, est.Cost, est.Bucket = TierMedium, 4, 2
	case score < 32:
		est.Tier, est.Cost, est.Bucket = TierHigh, 7, 3
	default:
		est.Tier, est.Cost, est.Bucket = TierVeryHigh, 11, 3
	}
	return est
}

// CostFromUsage converts measured gateway usage into the actual credit
// charge: one credit per inference call plus one per started 2000 tokens.
func CostFromUsage(requests, tokens int64) int64 {
	if requests <= 0 && tokens <= 0 {
		return 0
	}
	cost := requests + (tokens+1999)/2000
	if cost < 1 {
		cost = 1
	}
	return cost
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
