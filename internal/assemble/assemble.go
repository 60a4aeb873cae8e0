// Package assemble merges module subgraphs into one workflow graph. It is
// the only stage allowed to mutate previously produced data: module-local
// node ids are rewritten into a global namespace.
package assemble

import (
	"fmt"

	"flowsmith/internal/flowerr"
	"flowsmith/internal/types"
)

// Assemble merges the ordered module graphs per the blueprint's data-flow
// plan. graphs must be keyed by module index (fan-in order is irrelevant).
func Assemble(req types.GenerationRequest, bp types.Blueprint, graphs []types.ModuleGraph) (*types.WorkflowGraph, error) {
	if len(graphs) != len(bp.Modules) {
		return nil, flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
			"have %d module graphs for %d modules", len(graphs), len(bp.Modules))
	}

	wf := &types.WorkflowGraph{
		RequestID: req.ID,
		Platform:  req.Platform,
	}

	// Namespace every node id with its module index and remap the module's
	// internal connections to the new ids.
	idMaps := make([]map[string]string, len(graphs))
	for i, g := range graphs {
		idMaps[i] = make(map[string]string, len(g.Nodes))
		boundary := types.ModuleBoundary{Name: bp.Modules[i].Name}
		for j, n := range g.Nodes {
			gid := globalID(i, n.ID)
			idMaps[i][n.ID] = gid
			wf.Nodes = append(wf.Nodes, types.WorkflowNode{
				ID:     gid,
				Type:   n.Type,
				Role:   n.Role,
				Module: bp.Modules[i].Name,
				Params: n.Params,
				Pos:    nodePosition(i, j),
			})
			boundary.NodeIDs = append(boundary.NodeIDs, gid)
		}
		wf.Modules = append(wf.Modules, boundary)
		for _, c := range g.Connections {
			wf.Connections = append(wf.Connections, types.Connection{
				From: idMaps[i][c.From],
				To:   idMaps[i][c.To],
			})
		}
	}

	// Materialize the blueprint's inter-module edges through the declared
	// boundary roles.
	for _, e := range bp.Edges {
		fromIdx := bp.ModuleIndex(e.From)
		toIdx := bp.ModuleIndex(e.To)
		if fromIdx < 0 || toIdx < 0 {
			return nil, flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
				"edge %s->%s references unknown module", e.From, e.To)
		}
		fromNode, ok := graphs[fromIdx].NodeByRole(e.FromRole)
		if !ok {
			return nil, flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
				"module %q has no node with role %q", e.From, e.FromRole)
		}
		toNode, ok := graphs[toIdx].NodeByRole(e.ToRole)
		if !ok {
			return nil, flowerr.Newf(flowerr.StageAssembly, flowerr.KindAssembly,
				"module %q has no node with role %q", e.To, e.ToRole)
		}
		wf.Connections = append(wf.Connections, types.Connection{
			From: idMaps[fromIdx][fromNode.ID],
			To:   idMaps[toIdx][toNode.ID],
		})
	}

	if err := validateGraph(bp, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// globalID namespaces a module-local node id with the module index.
func globalID(moduleIdx int, localID string) string {
	return fmt.Sprintf("m%d.%s", moduleIdx, localID)
}
