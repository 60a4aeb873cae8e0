// Package synth generates one subgraph per blueprint module. Modules fan
// out to bounded concurrent gateway calls and fan back in before assembly;
// a module gets exactly one corrective retry before the run is aborted.
package synth

import (
	"context"
	"fmt"
	"sync"

	"flowsmith/internal/exemplar"
	"flowsmith/internal/flowerr"
	"flowsmith/internal/llm"
	"flowsmith/internal/types"
	"flowsmith/internal/util/jsonutil"
)

// Role tags synthesizer gateway calls.
const Role = "synthesizer"

// tokensPerNode sizes a module's output budget from its declared range.
const tokensPerNode = 120

// Synthesizer fans module generation out over the inference gateway.
type Synthesizer struct {
	LLM llm.Client
	// MaxInFlight caps concurrent gateway calls; <=0 means 4.
	MaxInFlight int
}

// attempt states of one module's synthesis.
type state int

const (
	statePending state = iota
	stateRetrying
	stateSucceeded
	stateFailed
)

// Run synthesizes every module of the blueprint. Results are ordered by
// module index, not completion order. The first terminal module failure
// cancels the remaining work; no partial result set is ever returned.
func (s *Synthesizer) Run(ctx context.Context, req types.GenerationRequest, bp types.Blueprint, exemplars []exemplar.Exemplar) ([]types.ModuleGraph, error) {
	limit := s.MaxInFlight
	if limit <= 0 {
		limit = 4
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, limit)
	results := make([]types.ModuleGraph, len(bp.Modules))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := range bp.Modules {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				fail(ctxErr(ctx))
				return
			}
			g, err := s.synthesizeOne(ctx, req, bp, idx, exemplars)
			if err != nil {
				fail(err)
				return
			}
			results[idx] = g
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// synthesizeOne drives one module through the explicit retry state machine:
// pending -> retrying -> succeeded|failed. A validation or call failure on
// the retry attempt is terminal.
func (s *Synthesizer) synthesizeOne(ctx context.Context, req types.GenerationRequest, bp types.Blueprint, idx int, exemplars []exemplar.Exemplar) (types.ModuleGraph, error) {
	spec := bp.Modules[idx]
	st := statePending
	note := ""

	for {
		g, err := s.attempt(ctx, req, bp, idx, exemplars, note)
		if err == nil {
			err = validateModule(spec, g)
			if err == nil {
				return g, nil
			}
		}
		if ctx.Err() != nil {
			return types.ModuleGraph{}, ctxErr(ctx)
		}
		switch st {
		case statePending:
			st = stateRetrying
			note = fmt.Sprintf("The previous attempt was rejected: %v. Correct this and return the full module again.", err)
		case stateRetrying:
			st = stateFailed
			return types.ModuleGraph{}, flowerr.Wrap(flowerr.StageSynthesis, flowerr.KindModule,
				fmt.Sprintf("module %q failed after retry", spec.Name), err)
		}
	}
}

func (s *Synthesizer) attempt(ctx context.Context, req types.GenerationRequest, bp types.Blueprint, idx int, exemplars []exemplar.Exemplar, note string) (types.ModuleGraph, error) {
	spec := bp.Modules[idx]
	in := buildInput(req, bp, idx)
	p, err := buildPrompt(spec, exemplars, note)
	if err != nil {
		return types.ModuleGraph{}, err
	}

	cctx := llm.WithRole(ctx, Role)
	cctx = llm.WithTokenBudget(cctx, spec.MaxNodes*tokensPerNode)
	raw, err := s.LLM.GenerateJSON(cctx, p, in)
	if err != nil {
		return types.ModuleGraph{}, err
	}

	var g types.ModuleGraph
	if err := jsonutil.UnmarshalRaw(raw, &g); err != nil {
		return types.ModuleGraph{}, fmt.Errorf("unparsable module response: %w", err)
	}
	if g.Module == "" {
		g.Module = spec.Name
	}
	return g, nil
}

func ctxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return flowerr.Wrap(flowerr.StageSynthesis, flowerr.KindTimeout, "synthesis deadline exceeded", ctx.Err())
	}
	return flowerr.Wrap(flowerr.StageSynthesis, flowerr.KindModule, "synthesis canceled", ctx.Err())
}
