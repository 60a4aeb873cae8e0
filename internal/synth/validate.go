package synth

import (
	"fmt"
	"strings"

	"flowsmith/internal/types"
)

// nodeCountTolerance widens the declared range by ±20% before a module is
// rejected for its size.
const nodeCountTolerance = 0.2

// validateModule checks one synthesized module against its spec: node count
// within the declared range with tolerance, unique module-local ids, and
// internally resolvable connections.
func validateModule(spec types.ModuleSpec, g types.ModuleGraph) error {
	if !strings.EqualFold(g.Module, spec.Name) {
		return fmt.Errorf("module name %q does not match spec %q", g.Module, spec.Name)
	}

	low := int(float64(spec.MinNodes) * (1 - nodeCountTolerance))
	high := int(float64(spec.MaxNodes) * (1 + nodeCountTolerance))
	if n := len(g.Nodes); n < low || n > high {
		return fmt.Errorf("node count %d outside tolerated range [%d,%d]", n, low, high)
	}

	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("duplicate node id %q", id)
		}
		ids[id] = struct{}{}
	}

	indegree := make(map[string]int, len(g.Nodes))
	adjacent := make(map[string][]string, len(g.Nodes))
	for _, c := range g.Connections {
		if _, ok := ids[c.From]; !ok {
			return fmt.Errorf("connection references unknown node %q", c.From)
		}
		if _, ok := ids[c.To]; !ok {
			return fmt.Errorf("connection references unknown node %q", c.To)
		}
		adjacent[c.From] = append(adjacent[c.From], c.To)
		indegree[c.To]++
	}

	// Kahn's algorithm over the internal connections. Anything left
	// unvisited sits on a cycle.
	ready := make([]string, 0, len(g.Nodes))
	for id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	visited := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++
		for _, next := range adjacent[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if visited != len(g.Nodes) {
		return fmt.Errorf("internal connections form a cycle")
	}
	return nil
}
