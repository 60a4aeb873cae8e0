package assemble

import (
	"flowsmith/internal/flowerr"
	"flowsmith/internal/types"
)

// validateGraph is the final structural check before the graph leaves the
// pipeline: unique global ids, fully resolvable connections, and module
// boundary metadata consistent with the blueprint.
func validateGraph(bp types.Blueprint, wf *types.WorkflowGraph) error {
	ids := make(map[string]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if _, dup := ids[n.ID]; dup {
			return flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly, "duplicate global node id %q", n.ID)
		}
		ids[n.ID] = n.Module
	}

	for _, c := range wf.Connections {
		if _, ok := ids[c.From]; !ok {
			return flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly, "connection from unknown node %q", c.From)
		}
		if _, ok := ids[c.To]; !ok {
			return flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly, "connection to unknown node %q", c.To)
		}
	}

	if len(wf.Modules) != len(bp.Modules) {
		return flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
			"graph lists %d modules, blueprint has %d", len(wf.Modules), len(bp.Modules))
	}
	for i, mb := range wf.Modules {
		if mb.Name != bp.Modules[i].Name {
			return flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
				"module boundary %d is %q, blueprint says %q", i, mb.Name, bp.Modules[i].Name)
		}
		for _, id := range mb.NodeIDs {
			owner, ok := ids[id]
			if !ok {
				return flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
					"module %q boundary lists unknown node %q", mb.Name, id)
			}
			if owner != mb.Name {
				return flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
					"node %q is owned by %q but listed under %q", id, owner, mb.Name)
			}
		}
	}
	return nil
}
