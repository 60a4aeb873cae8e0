package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"flowsmith/internal/types"
)

// FakeClient returns deterministic, minimal JSON payloads per role for
// offline mode and tests. No network, no randomness.
type FakeClient struct {
	tokenCap int
}

func NewFakeClient(cap int) *FakeClient {
	if cap <= 0 {
		cap = 4096
	}
	return &FakeClient{tokenCap: cap}
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }
func (f *FakeClient) CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(text) / 4
}
func (f *FakeClient) TokenCapacity() int { return f.tokenCap }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	switch RoleFrom(ctx) {
	case "architect":
		return f.fakeBlueprint()
	case "synthesizer":
		return f.fakeModule(input)
	default:
		b, _ := json.Marshal(map[string]any{})
		return b, nil
	}
}

func (f *FakeClient) fakeBlueprint() (json.RawMessage, error) {
	bp := types.Blueprint{
		Summary: "fake three-module plan",
		Modules: []types.ModuleSpec{
			{Name: "trigger", Integrations: []string{"webhook"}, MinNodes: 10, MaxNodes: 12, ErrorHandling: "stop on error"},
			{Name: "process", Integrations: []string{"transform"}, MinNodes: 10, MaxNodes: 14, ErrorHandling: "retry once"},
			{Name: "deliver", Integrations: []string{"email"}, MinNodes: 10, MaxNodes: 12, ErrorHandling: "notify on failure"},
		},
		Edges: []types.FlowEdge{
			{From: "trigger", To: "process", FromRole: "output", ToRole: "input"},
			{From: "process", To: "deliver", FromRole: "output", ToRole: "input"},
		},
	}
	return json.Marshal(bp)
}

// fakeModule reads the module spec back out of the synthesizer input and
// emits a simple chain graph inside the declared node range, with boundary
// roles on the first and last nodes.
func (f *FakeClient) fakeModule(input any) (json.RawMessage, error) {
	var in struct {
		Module   types.ModuleSpec `json:"module"`
		InRoles  []string         `json:"in_roles"`
		OutRoles []string         `json:"out_roles"`
	}
	b, _ := json.Marshal(input)
	_ = json.Unmarshal(b, &in)

	n := in.Module.MinNodes
	if n < 1 {
		n = 10
	}
	g := types.ModuleGraph{Module: in.Module.Name}
	for i := 0; i < n; i++ {
		node := types.Node{
			ID:   fmt.Sprintf("n%d", i+1),
			Type: "step",
		}
		if i < len(in.InRoles) {
			node.Role = in.InRoles[i]
		}
		if j := n - 1 - i; j < len(in.OutRoles) && node.Role == "" {
			node.Role = in.OutRoles[j]
		}
		g.Nodes = append(g.Nodes, node)
	}
	for i := 0; i < n-1; i++ {
		g.Connections = append(g.Connections, types.Connection{
			From: fmt.Sprintf("n%d", i+1),
			To:   fmt.Sprintf("n%d", i+2),
		})
	}
	return json.Marshal(g)
}
