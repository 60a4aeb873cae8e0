package assemble

import "flowsmith/internal/types"

// Layout constants. Purely cosmetic: positions never affect validation.
const (
	moduleSpacingX = 360
	nodeSpacingY   = 120
	columnRows     = 8
	columnOffsetX  = 160
)

// nodePosition lays modules out left-to-right in blueprint order and nodes
// within a module top-to-bottom in synthesis order, folding long modules
// into an extra column.
func nodePosition(moduleIdx, nodeIdx int) types.Position {
	col := nodeIdx / columnRows
	row := nodeIdx % columnRows
	return types.Position{
		X: moduleIdx*moduleSpacingX + col*columnOffsetX,
		Y: row * nodeSpacingY,
	}
}
