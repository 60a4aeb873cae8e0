// Package architect runs the planning stage: one inference call that
// decomposes a request into ordered module specifications with a data-flow
// plan. The raw response is untrusted until the output validator admits it.
package architect

import (
	"context"
	"errors"
	"fmt"

	"flowsmith/internal/exemplar"
	"flowsmith/internal/flowerr"
	"flowsmith/internal/llm"
	"flowsmith/internal/prompt"
	"flowsmith/internal/types"
	"flowsmith/internal/util/jsonutil"
)

// Role tags architect gateway calls.
const Role = "architect"

// planTokenBudget caps the blueprint response.
const planTokenBudget = 2048

// Architect plans blueprints through the inference gateway.
type Architect struct {
	LLM llm.Client
}

// Plan issues the planning call and validates the result. A rejected
// response gets exactly one corrective retry; a second rejection maps to a
// planning error and aborts the pipeline with no charge.
func (a *Architect) Plan(ctx context.Context, req types.GenerationRequest, exemplars []exemplar.Exemplar) (types.Blueprint, error) {
	note := ""
	for attempt := 0; ; attempt++ {
		bp, err := a.plan(ctx, req, exemplars, note)
		if err == nil {
			return bp, nil
		}
		// Only a blown deadline is a timeout. A caller that walked
		// away cancels the run instead.
		if cause := ctx.Err(); cause != nil {
			if errors.Is(cause, context.DeadlineExceeded) {
				return types.Blueprint{}, flowerr.Wrap(flowerr.StageArchitect, flowerr.KindTimeout, "planning call timed out", cause)
			}
			return types.Blueprint{}, flowerr.Wrap(flowerr.StageArchitect, flowerr.KindPlanning, "planning canceled", cause)
		}
		if attempt > 0 {
			return types.Blueprint{}, flowerr.Wrap(flowerr.StageArchitect, flowerr.KindPlanning, "planning failed after retry", err)
		}
		note = fmt.Sprintf("The previous attempt was rejected: %v. Correct this and return the full blueprint again.", err)
	}
}

func (a *Architect) plan(ctx context.Context, req types.GenerationRequest, exemplars []exemplar.Exemplar, note string) (types.Blueprint, error) {
	p, err := buildPrompt(req, exemplars, note)
	if err != nil {
		return types.Blueprint{}, fmt.Errorf("prompt build failed: %w", err)
	}

	ctx = llm.WithRole(ctx, Role)
	ctx = llm.WithTokenBudget(ctx, planTokenBudget)
	raw, err := a.LLM.GenerateJSON(ctx, p, planInput(req))
	if err != nil {
		return types.Blueprint{}, fmt.Errorf("planning call failed: %w", err)
	}

	var bp types.Blueprint
	if err := jsonutil.UnmarshalRaw(raw, &bp); err != nil {
		return types.Blueprint{}, fmt.Errorf("unparsable planning response: %w", err)
	}
	if err := Validate(bp); err != nil {
		return types.Blueprint{}, fmt.Errorf("blueprint validation failed: %w", err)
	}
	return bp, nil
}

func planInput(req types.GenerationRequest) map[string]any {
	return map[string]any{
		"prompt":   req.Prompt,
		"platform": req.Platform,
		"hints":    req.Hints,
	}
}

func buildPrompt(req types.GenerationRequest, exemplars []exemplar.Exemplar, note string) (string, error) {
	spec := prompt.Spec{
		Purpose: "Decompose the user's automation request into an ordered set of workflow modules with a data-flow plan.",
		Background: fmt.Sprintf(
			"The workflow targets the %q automation platform. Each module becomes an independently generated subgraph; modules are later wired together along the declared edges.",
			req.Platform),
		OutputFields: []prompt.Field{
			{Name: "summary", Type: "string", Required: false, Description: "one-line plan summary"},
			{Name: "modules", Type: "array", Required: true, Description: "ordered module specs: name, integrations, min_nodes, max_nodes, error_handling"},
			{Name: "edges", Type: "array", Required: true, Description: "data-flow edges: from, to, from_role, to_role"},
		},
		Constraints: []string{
			"Between 3 and 7 modules.",
			"Every module declares at least one integration.",
			"min_nodes and max_nodes lie within [10, 30] with min_nodes <= max_nodes.",
			"Edges reference declared module names only; module order must be a valid topological order (no cycles).",
			"from_role and to_role name boundary node roles inside the modules (e.g. \"output\", \"input\").",
		},
		Rules: []string{
			"Return STRICT JSON only, a single object, no prose.",
			"Module names are short lowercase identifiers.",
		},
		OutputFormat: `{"summary":"...","modules":[{"name":"...","integrations":["..."],"min_nodes":10,"max_nodes":16,"error_handling":"..."}],"edges":[{"from":"...","to":"...","from_role":"output","to_role":"input"}]}`,
		Note:         note,
	}
	for _, ex := range exemplars {
		spec.Examples = append(spec.Examples, prompt.Example{
			Label: "Reference pattern (" + ex.Category + ")",
			Body:  ex.Summary + "\n" + ex.Sketch,
		})
	}
	return prompt.Build(spec)
}
