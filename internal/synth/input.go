package synth

import (
	"strings"

	"flowsmith/internal/exemplar"
	"flowsmith/internal/prompt"
	"flowsmith/internal/types"
)

// Input is the gateway payload for one module call. Synthesis only needs
// the specification, never another module's output; data-flow wiring
// happens later in assembly.
type Input struct {
	Module   types.ModuleSpec `json:"module"`
	Platform string           `json:"platform"`
	Request  string           `json:"request"`
	Summary  string           `json:"summary,omitempty"`
	InRoles  []string         `json:"in_roles,omitempty"`
	OutRoles []string         `json:"out_roles,omitempty"`
}

func buildInput(req types.GenerationRequest, bp types.Blueprint, idx int) Input {
	spec := bp.Modules[idx]
	in := Input{
		Module:   spec,
		Platform: req.Platform,
		Request:  req.Prompt,
		Summary:  bp.Summary,
	}
	for _, e := range bp.Edges {
		if strings.EqualFold(e.To, spec.Name) {
			in.InRoles = appendUnique(in.InRoles, e.ToRole)
		}
		if strings.EqualFold(e.From, spec.Name) {
			in.OutRoles = appendUnique(in.OutRoles, e.FromRole)
		}
	}
	return in
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return list
		}
	}
	return append(list, s)
}

func buildPrompt(spec types.ModuleSpec, exemplars []exemplar.Exemplar, note string) (string, error) {
	p := prompt.Spec{
		Purpose: "Generate the subgraph for one workflow module of a larger automation.",
		Background: "The module is part of a multi-module workflow. Boundary nodes named in in_roles/out_roles " +
			"are wired to other modules later; give each such role to exactly one node.",
		OutputFields: []prompt.Field{
			{Name: "module", Type: "string", Required: true, Description: "the module name, echoed back"},
			{Name: "nodes", Type: "array", Required: true, Description: "nodes: id, type, role (boundary only), params"},
			{Name: "connections", Type: "array", Required: true, Description: "directed edges between node ids: from, to"},
		},
		Constraints: []string{
			"Node count stays within the declared min_nodes..max_nodes range.",
			"Node ids are unique within the module (n1, n2, ...).",
			"Every connection references node ids that exist in this module.",
			"The internal graph is acyclic.",
			"Honor the module's error_handling note.",
		},
		Rules: []string{
			"Return STRICT JSON only, a single object, no prose.",
		},
		OutputFormat: `{"module":"...","nodes":[{"id":"n1","type":"...","role":"input","params":{}}],"connections":[{"from":"n1","to":"n2"}]}`,
		Note:         note,
	}
	for _, ex := range exemplars {
		p.Examples = append(p.Examples, prompt.Example{
			Label: "Reference pattern (" + ex.Category + ")",
			Body:  ex.Sketch,
		})
	}
	return prompt.Build(p)
}
