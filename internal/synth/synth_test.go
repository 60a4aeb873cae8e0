package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/flowerr"
	"flowsmith/internal/types"
)

// moduleClient answers synthesis calls per module name, with optional
// scripted failures on early attempts.
type moduleClient struct {
	mu       sync.Mutex
	calls    map[string]int
	failOnce map[string]bool // first attempt returns invalid output
	failAll  map[string]bool
	cycleAll map[string]bool // every attempt returns a cyclic graph

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newModuleClient() *moduleClient {
	return &moduleClient{
		calls:    map[string]int{},
		failOnce: map[string]bool{},
		failAll:  map[string]bool{},
		cycleAll: map[string]bool{},
	}
}

func (c *moduleClient) Name() string { return "module-stub" }

func (c *moduleClient) GenerateJSON(ctx context.Context, _ string, input any) (json.RawMessage, error) {
	cur := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.maxInFlight.Load()
		if cur <= peak || c.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	name := in.Module.Name

	c.mu.Lock()
	c.calls[name]++
	attempt := c.calls[name]
	c.mu.Unlock()

	if c.failAll[name] || (c.failOnce[name] && attempt == 1) {
		// Too few nodes: rejected by output validation.
		return json.RawMessage(fmt.Sprintf(`{"module":%q,"nodes":[{"id":"n1","type":"noop"}],"connections":[]}`, name)), nil
	}
	if c.cycleAll[name] {
		return cyclicModuleJSON(name, in.Module.MinNodes), nil
	}
	return moduleJSON(name, in.Module.MinNodes, in.InRoles, in.OutRoles), nil
}

func (c *moduleClient) CountTokens(text string) int { return len(text) / 4 }
func (c *moduleClient) TokenCapacity() int          { return 8192 }
func (c *moduleClient) Close() error                { return nil }

func (c *moduleClient) attempts(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func moduleJSON(name string, n int, inRoles, outRoles []string) json.RawMessage {
	g := types.ModuleGraph{Module: name}
	for i := 0; i < n; i++ {
		node := types.Node{ID: fmt.Sprintf("n%d", i+1), Type: "step"}
		if i == 0 && len(inRoles) > 0 {
			node.Role = inRoles[0]
		}
		if i == n-1 && len(outRoles) > 0 {
			node.Role = outRoles[0]
		}
		g.Nodes = append(g.Nodes, node)
		if i > 0 {
			g.Connections = append(g.Connections, types.Connection{
				From: fmt.Sprintf("n%d", i), To: fmt.Sprintf("n%d", i+1),
			})
		}
	}
	raw, _ := json.Marshal(g)
	return raw
}

// cyclicModuleJSON builds an in-range graph whose last node connects back to
// the first.
func cyclicModuleJSON(name string, n int) json.RawMessage {
	g := types.ModuleGraph{Module: name}
	for i := 0; i < n; i++ {
		g.Nodes = append(g.Nodes, types.Node{ID: fmt.Sprintf("n%d", i+1), Type: "step"})
		if i > 0 {
			g.Connections = append(g.Connections, types.Connection{
				From: fmt.Sprintf("n%d", i), To: fmt.Sprintf("n%d", i+1),
			})
		}
	}
	g.Connections = append(g.Connections, types.Connection{From: fmt.Sprintf("n%d", n), To: "n1"})
	raw, _ := json.Marshal(g)
	return raw
}

func testBlueprint() types.Blueprint {
	return types.Blueprint{
		Summary: "webhook to slack",
		Modules: []types.ModuleSpec{
			{Name: "trigger", Integrations: []string{"webhook"}, MinNodes: 10, MaxNodes: 14},
			{Name: "process", Integrations: []string{"code"}, MinNodes: 10, MaxNodes: 16},
			{Name: "deliver", Integrations: []string{"slack"}, MinNodes: 10, MaxNodes: 12},
		},
		Edges: []types.FlowEdge{
			{From: "trigger", To: "process", FromRole: "output", ToRole: "input"},
			{From: "process", To: "deliver", FromRole: "output", ToRole: "input"},
		},
	}
}

func testRequest() types.GenerationRequest {
	return types.GenerationRequest{ID: "req-1", Principal: "alice", Platform: "n8n", Prompt: "post to slack"}
}

func TestRunAllModules(t *testing.T) {
	client := newModuleClient()
	s := &Synthesizer{LLM: client}

	bp := testBlueprint()
	graphs, err := s.Run(context.Background(), testRequest(), bp, nil)
	require.NoError(t, err)
	require.Len(t, graphs, 3)

	// Results hold module order regardless of completion order.
	for i, g := range graphs {
		assert.Equal(t, bp.Modules[i].Name, g.Module)
		assert.GreaterOrEqual(t, len(g.Nodes), bp.Modules[i].MinNodes)
	}
}

func TestRunRetriesOnceThenSucceeds(t *testing.T) {
	client := newModuleClient()
	client.failOnce["process"] = true
	s := &Synthesizer{LLM: client}

	graphs, err := s.Run(context.Background(), testRequest(), testBlueprint(), nil)
	require.NoError(t, err)
	require.Len(t, graphs, 3)
	assert.Equal(t, 2, client.attempts("process"))
	assert.Equal(t, 1, client.attempts("trigger"))
}

func TestRunFailsAfterSingleRetry(t *testing.T) {
	client := newModuleClient()
	client.failAll["process"] = true
	s := &Synthesizer{LLM: client}

	_, err := s.Run(context.Background(), testRequest(), testBlueprint(), nil)
	require.Error(t, err)
	assert.True(t, flowerr.Is(err, flowerr.KindModule))
	assert.Contains(t, err.Error(), `module "process" failed after retry`)
	// Exactly one retry, never more.
	assert.Equal(t, 2, client.attempts("process"))
}

func TestRunRejectsCyclicModule(t *testing.T) {
	client := newModuleClient()
	client.cycleAll["process"] = true
	s := &Synthesizer{LLM: client}

	_, err := s.Run(context.Background(), testRequest(), testBlueprint(), nil)
	require.Error(t, err)
	assert.True(t, flowerr.Is(err, flowerr.KindModule))
	assert.Equal(t, 2, client.attempts("process"))
}

func TestRunBoundedConcurrency(t *testing.T) {
	client := newModuleClient()
	client.delay = 20 * time.Millisecond
	s := &Synthesizer{LLM: client, MaxInFlight: 2}

	bp := testBlueprint()
	// Widen to 5 modules so the bound is observable.
	bp.Modules = append(bp.Modules,
		types.ModuleSpec{Name: "audit", Integrations: []string{"sheets"}, MinNodes: 10, MaxNodes: 12},
		types.ModuleSpec{Name: "archive", Integrations: []string{"s3"}, MinNodes: 10, MaxNodes: 12},
	)

	_, err := s.Run(context.Background(), testRequest(), bp, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, client.maxInFlight.Load(), int32(2))
}

func TestRunDeadlineMapsToTimeout(t *testing.T) {
	client := newModuleClient()
	client.delay = 200 * time.Millisecond
	s := &Synthesizer{LLM: client}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx, testRequest(), testBlueprint(), nil)
	require.Error(t, err)
	assert.True(t, flowerr.Is(err, flowerr.KindTimeout))
}

func TestValidateModule(t *testing.T) {
	spec := types.ModuleSpec{Name: "process", MinNodes: 10, MaxNodes: 20}

	ok := types.ModuleGraph{Module: "process"}
	for i := 0; i < 12; i++ {
		ok.Nodes = append(ok.Nodes, types.Node{ID: fmt.Sprintf("n%d", i+1), Type: "step"})
	}
	ok.Connections = []types.Connection{{From: "n1", To: "n2"}}
	require.NoError(t, validateModule(spec, ok))

	t.Run("tolerance widens range", func(t *testing.T) {
		g := types.ModuleGraph{Module: "process"}
		for i := 0; i < 8; i++ { // 8 >= floor(10*0.8)
			g.Nodes = append(g.Nodes, types.Node{ID: fmt.Sprintf("n%d", i+1)})
		}
		assert.NoError(t, validateModule(spec, g))
	})
	t.Run("below tolerated range", func(t *testing.T) {
		g := types.ModuleGraph{Module: "process", Nodes: []types.Node{{ID: "n1"}}}
		assert.ErrorContains(t, validateModule(spec, g), "node count")
	})
	t.Run("duplicate id", func(t *testing.T) {
		g := ok
		g.Nodes = append([]types.Node{}, ok.Nodes...)
		g.Nodes[3].ID = "n1"
		assert.ErrorContains(t, validateModule(spec, g), "duplicate node id")
	})
	t.Run("dangling connection", func(t *testing.T) {
		g := ok
		g.Connections = []types.Connection{{From: "n1", To: "n99"}}
		assert.ErrorContains(t, validateModule(spec, g), "unknown node")
	})
	t.Run("two-node cycle", func(t *testing.T) {
		g := ok
		g.Connections = []types.Connection{{From: "n1", To: "n2"}, {From: "n2", To: "n1"}}
		assert.ErrorContains(t, validateModule(spec, g), "cycle")
	})
	t.Run("long cycle", func(t *testing.T) {
		var g types.ModuleGraph
		require.NoError(t, json.Unmarshal(cyclicModuleJSON("process", 12), &g))
		assert.ErrorContains(t, validateModule(spec, g), "cycle")
	})
	t.Run("wrong module name", func(t *testing.T) {
		g := ok
		g.Module = "other"
		assert.ErrorContains(t, validateModule(spec, g), "does not match")
	})
}
