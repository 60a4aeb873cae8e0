// Package types holds the artifact types produced and consumed by the
// generation pipeline. Everything here is a plain value type; once a stage
// hands an artifact downstream it is never mutated again, with the single
// exception of the assembler's id rewrite.
package types

import "strings"

// GenerationRequest is one natural-language workflow request. Immutable once
// accepted by admission.
type GenerationRequest struct {
	ID        string   `json:"id"`
	Principal string   `json:"principal"`
	Prompt    string   `json:"prompt"`
	Platform  string   `json:"platform"`
	Hints     []string `json:"hints,omitempty"`
}

// PrincipalSettings are read-only per-principal attributes supplied by the
// session layer: depletion preference and subscription tier.
type PrincipalSettings struct {
	BonusFirst bool   `json:"bonus_first"`
	Tier       string `json:"tier,omitempty"`
}

// ModuleSpec is one planned module inside a Blueprint.
type ModuleSpec struct {
	Name          string   `json:"name"`
	Integrations  []string `json:"integrations"`
	MinNodes      int      `json:"min_nodes"`
	MaxNodes      int      `json:"max_nodes"`
	ErrorHandling string   `json:"error_handling,omitempty"`
}

// FlowEdge declares a data-flow connection between two modules. FromRole and
// ToRole name the boundary node roles inside each module's subgraph that the
// assembler wires together.
type FlowEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	FromRole string `json:"from_role"`
	ToRole   string `json:"to_role"`
}

// Blueprint is the architect's decomposition of a request: an ordered module
// list plus the inter-module data-flow plan. Module order is a topological
// order of Edges.
type Blueprint struct {
	Modules []ModuleSpec `json:"modules"`
	Edges   []FlowEdge   `json:"edges"`
	Summary string       `json:"summary,omitempty"`
}

// ModuleIndex returns the position of the named module, or -1.
func (b Blueprint) ModuleIndex(name string) int {
	for i, m := range b.Modules {
		if strings.EqualFold(m.Name, name) {
			return i
		}
	}
	return -1
}

// Node is one step inside a module subgraph. ID is module-local until
// assembly. Role marks data-flow boundary nodes ("input", "output", or a
// custom role referenced by a FlowEdge).
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Role   string         `json:"role,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Connection is a directed edge between two node ids.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ModuleGraph is the synthesized subgraph for one ModuleSpec.
type ModuleGraph struct {
	Module      string       `json:"module"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NodeByRole returns the first node carrying the given role.
func (g ModuleGraph) NodeByRole(role string) (Node, bool) {
	for _, n := range g.Nodes {
		if strings.EqualFold(n.Role, role) {
			return n, true
		}
	}
	return Node{}, false
}

// Position is a cosmetic layout coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// WorkflowNode is a node in the assembled graph: globally unique id, owning
// module for traceability, and a layout position.
type WorkflowNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Role   string         `json:"role,omitempty"`
	Module string         `json:"module"`
	Params map[string]any `json:"params,omitempty"`
	Pos    Position       `json:"pos"`
}

// ModuleBoundary records which global node ids belong to one blueprint module.
type ModuleBoundary struct {
	Name    string   `json:"name"`
	NodeIDs []string `json:"node_ids"`
}

// WorkflowGraph is the assembled artifact handed to the caller. After
// assembly it is never mutated.
type WorkflowGraph struct {
	RequestID   string           `json:"request_id"`
	Platform    string           `json:"platform"`
	Nodes       []WorkflowNode   `json:"nodes"`
	Connections []Connection     `json:"connections"`
	Modules     []ModuleBoundary `json:"modules"`
}
