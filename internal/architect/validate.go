package architect

import (
	"fmt"
	"strings"

	"flowsmith/internal/types"
)

const (
	minModules = 3
	maxModules = 7
	minNodes   = 10
	maxNodes   = 30
)

// Validate enforces the blueprint invariants: module count in [3,7],
// non-empty integrations, node ranges inside [10,30], edges referencing
// declared modules, and a module order that is a valid topological order of
// the data-flow edges. Cross-module cycles are rejected, not repaired.
func Validate(bp types.Blueprint) error {
	if n := len(bp.Modules); n < minModules || n > maxModules {
		return fmt.Errorf("module count %d outside [%d,%d]", n, minModules, maxModules)
	}

	index := make(map[string]int, len(bp.Modules))
	for i, m := range bp.Modules {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("module %d has empty name", i)
		}
		if _, dup := index[strings.ToLower(name)]; dup {
			return fmt.Errorf("duplicate module name %q", name)
		}
		index[strings.ToLower(name)] = i

		if len(m.Integrations) == 0 {
			return fmt.Errorf("module %q has no integrations", name)
		}
		if m.MinNodes < minNodes || m.MaxNodes > maxNodes || m.MinNodes > m.MaxNodes {
			return fmt.Errorf("module %q node range [%d,%d] outside [%d,%d]",
				name, m.MinNodes, m.MaxNodes, minNodes, maxNodes)
		}
	}

	for _, e := range bp.Edges {
		from, okFrom := index[strings.ToLower(strings.TrimSpace(e.From))]
		to, okTo := index[strings.ToLower(strings.TrimSpace(e.To))]
		if !okFrom {
			return fmt.Errorf("edge references unknown module %q", e.From)
		}
		if !okTo {
			return fmt.Errorf("edge references unknown module %q", e.To)
		}
		if from == to {
			return fmt.Errorf("edge from module %q to itself", e.From)
		}
		if strings.TrimSpace(e.FromRole) == "" || strings.TrimSpace(e.ToRole) == "" {
			return fmt.Errorf("edge %s->%s missing a boundary role", e.From, e.To)
		}
		// Module order doubles as the topological order; an edge pointing
		// backwards is either an ordering bug or a cross-module cycle.
		if from >= to {
			return fmt.Errorf("edge %s->%s violates module order (cycle or misordered plan)", e.From, e.To)
		}
	}
	return nil
}
