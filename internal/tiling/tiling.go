// Package tiling splits a full frame into a rows x cols grid of TileBlocks,
// shared by the Dispatcher (splitting the live sample) and the
// ContinuousFilter (re-splitting a cached history frame for its
// post-detection hit test).
package tiling

import (
	"image"

	"github.com/shanda/dolphind/internal/frame"
)

// Split divides f into a rows x cols grid, row-major outer loop and
// column-major inner loop, matching the original detector's construct_gray
// layout: reshape(rows, cols, tileH, tileW) then transpose axes (0,2,1,3).
// Each returned block owns a cloned buffer; callers must Close every block.
func Split(f frame.Frame, rows, cols int) [][]frame.TileBlock {
	w, h := f.Mat.Cols(), f.Mat.Rows()
	tileW, tileH := w/cols, h/rows
	shape := image.Pt(w, h)

	blocks := make([][]frame.TileBlock, rows)
	for r := 0; r < rows; r++ {
		blocks[r] = make([]frame.TileBlock, cols)
		for c := 0; c < cols; c++ {
			rect := image.Rect(c*tileW, r*tileH, (c+1)*tileW, (r+1)*tileH)
			region := f.Mat.Region(rect)
			blocks[r][c] = frame.TileBlock{
				Index:      f.Index,
				Row:        r,
				Col:        c,
				Mat:        region.Clone(),
				FrameShape: shape,
			}
			region.Close()
		}
	}
	return blocks
}

// TileSize returns the per-tile (width, height) for a frame of the given
// shape split into rows x cols.
func TileSize(shape image.Point, rows, cols int) (tileW, tileH int) {
	return shape.X / cols, shape.Y / rows
}
