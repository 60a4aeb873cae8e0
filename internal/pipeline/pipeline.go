// Package pipeline coordinates one generation run end to end: admission
// pre-check, exemplar selection, planning, bounded-parallel module
// synthesis, assembly, and settlement. A run either returns a complete
// workflow graph with its actual cost, or a typed stage error with the
// guarantee that zero credits were consumed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"flowsmith/internal/architect"
	"flowsmith/internal/artifact"
	"flowsmith/internal/assemble"
	"flowsmith/internal/events"
	"flowsmith/internal/exemplar"
	"flowsmith/internal/flowerr"
	"flowsmith/internal/ledger"
	"flowsmith/internal/llm"
	"flowsmith/internal/synth"
	"flowsmith/internal/types"
)

// Config tunes one pipeline instance.
type Config struct {
	// ExemplarCount is how many exemplars ground each run.
	ExemplarCount int
	// MaxInFlight caps concurrent synthesis calls.
	MaxInFlight int
	// Deadline bounds a whole run from admission through settlement.
	Deadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.ExemplarCount <= 0 {
		c.ExemplarCount = 3
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.Deadline <= 0 {
		c.Deadline = 3 * time.Minute
	}
	return c
}

// Result is a successful run: the assembled graph and its settlement.
type Result struct {
	Graph         *types.WorkflowGraph `json:"graph"`
	Entry         ledger.Entry         `json:"entry"`
	EstimatedCost int64                `json:"estimated_cost"`
	ActualCost    int64                `json:"actual_cost"`
}

// Pipeline owns one configured generation path. Safe for concurrent Runs;
// each run's artifacts are private to it, only the ledger is shared.
type Pipeline struct {
	architect *architect.Architect
	synth     *synth.Synthesizer
	selector  *exemplar.Selector
	ledger    *ledger.Ledger
	artifacts artifact.Store
	events    events.Sink
	cfg       Config
}

// New wires a pipeline. artifacts and sink may be nil.
func New(client llm.Client, led *ledger.Ledger, sel *exemplar.Selector, artifacts artifact.Store, sink events.Sink, cfg Config) *Pipeline {
	if sel == nil {
		sel = exemplar.NewSelector(nil)
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		architect: &architect.Architect{LLM: client},
		synth:     &synth.Synthesizer{LLM: client, MaxInFlight: cfg.MaxInFlight},
		selector:  sel,
		ledger:    led,
		artifacts: artifacts,
		events:    sink,
		cfg:       cfg,
	}
}

// Run executes one generation request to a terminal outcome. On any stage
// failure a zero-cost settlement is recorded and the stage error returned.
func (p *Pipeline) Run(ctx context.Context, req types.GenerationRequest, settings types.PrincipalSettings) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Deadline)
	defer cancel()

	p.emit(req, flowerr.StageAdmission, "started", "")
	adm, err := p.ledger.Precheck(ctx, req)
	if err != nil {
		// Fail fast: no inference was performed. The zero-amount entry
		// keeps the audit trail contiguous.
		return nil, p.fail(ctx, req, settings, err)
	}
	p.emit(req, flowerr.StageAdmission, "finished", string(adm.Estimate.Tier))

	exemplars := p.selector.Select(req, adm.Estimate.Bucket, p.cfg.ExemplarCount)
	p.emit(req, flowerr.StageExemplars, "finished", "")

	meter := &llm.Meter{}
	mctx := llm.WithMeter(ctx, meter)

	p.emit(req, flowerr.StageArchitect, "started", "")
	bp, err := p.architect.Plan(mctx, req, exemplars)
	if err != nil {
		return nil, p.fail(ctx, req, settings, p.normalize(ctx, flowerr.StageArchitect, err))
	}
	p.emit(req, flowerr.StageArchitect, "finished", bp.Summary)

	p.emit(req, flowerr.StageSynthesis, "started", "")
	graphs, err := p.synth.Run(mctx, req, bp, exemplars)
	if err != nil {
		return nil, p.fail(ctx, req, settings, p.normalize(ctx, flowerr.StageSynthesis, err))
	}
	p.emit(req, flowerr.StageSynthesis, "finished", "")

	p.emit(req, flowerr.StageAssembly, "started", "")
	wf, err := assemble.Assemble(req, bp, graphs)
	if err != nil {
		return nil, p.fail(ctx, req, settings, p.normalize(ctx, flowerr.StageAssembly, err))
	}
	p.emit(req, flowerr.StageAssembly, "finished", "")

	usage := meter.Snapshot()
	actual := ledger.CostFromUsage(usage.Requests, usage.Tokens)

	p.emit(req, flowerr.StageSettlement, "started", "")
	entry, err := p.ledger.Settle(context.WithoutCancel(ctx), req.Principal, req.ID,
		actual, settings.BonusFirst, ledger.OutcomeSuccess)
	if err != nil {
		// Settlement is the one stage the caller layer retries; the graph
		// exists and must eventually be reconciled with a charge.
		p.emit(req, flowerr.StageSettlement, "failed", err.Error())
		return nil, err
	}
	p.emit(req, flowerr.StageSettlement, "finished", "")

	p.publish(ctx, req, wf)

	return &Result{
		Graph:         wf,
		Entry:         entry,
		EstimatedCost: adm.Estimate.Cost,
		ActualCost:    actual,
	}, nil
}

// fail records the zero-cost settlement for a terminal stage error and
// passes the error through.
func (p *Pipeline) fail(ctx context.Context, req types.GenerationRequest, settings types.PrincipalSettings, stageErr error) error {
	var se *flowerr.StageError
	stage := "pipeline"
	if errors.As(stageErr, &se) {
		stage = se.Stage
	}
	p.emit(req, stage, "failed", stageErr.Error())

	if _, err := p.ledger.Settle(context.WithoutCancel(ctx), req.Principal, req.ID,
		0, settings.BonusFirst, ledger.OutcomeFailure); err != nil {
		log.Printf("pipeline %s: zero-cost settlement failed: %v", req.ID, err)
	}
	return stageErr
}

// normalize guarantees a StageError and maps a blown deadline to the
// timeout kind regardless of which stage observed it first.
func (p *Pipeline) normalize(ctx context.Context, stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		if !flowerr.Is(err, flowerr.KindTimeout) {
			return flowerr.Wrap(stage, flowerr.KindTimeout, "pipeline deadline exceeded", err)
		}
	}
	if _, ok := flowerr.KindOf(err); ok {
		return err
	}
	kind := flowerr.KindPlanning
	switch stage {
	case flowerr.StageSynthesis:
		kind = flowerr.KindModule
	case flowerr.StageAssembly:
		kind = flowerr.KindAssembly
	}
	return flowerr.Wrap(stage, kind, "stage failed", err)
}

// publish hands the finished graph to the history store. Best-effort: the
// run already settled.
func (p *Pipeline) publish(ctx context.Context, req types.GenerationRequest, wf *types.WorkflowGraph) {
	if p.artifacts == nil {
		return
	}
	b, err := json.Marshal(wf)
	if err != nil {
		log.Printf("pipeline %s: marshal artifact: %v", req.ID, err)
		return
	}
	key := "workflows/" + req.ID + ".json"
	if err := p.artifacts.Put(context.WithoutCancel(ctx), key, b); err != nil {
		log.Printf("pipeline %s: publish artifact: %v", req.ID, err)
	}
}

func (p *Pipeline) emit(req types.GenerationRequest, stage, status, detail string) {
	p.events.Emit(events.Event{
		RequestID: req.ID,
		Stage:     stage,
		Status:    status,
		Detail:    detail,
	})
}
