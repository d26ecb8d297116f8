package frame

import "image"

// BBoxPoints expands rect by pad pixels on every side, offsets it by
// (dx, dy), and clamps the result to shape (width, height). It mirrors the
// original detector's bbox_points helper: p1 = clamp((x+dx-pad, y+dy-pad));
// p2 = clamp((x+dx+w+pad, y+dy+h+pad)).
func BBoxPoints(pad int, r Rect, shape image.Point, dx, dy int) (p1, p2 image.Point) {
	x1 := clamp(r.X+dx-pad, 0, shape.X)
	y1 := clamp(r.Y+dy-pad, 0, shape.Y)
	x2 := clamp(r.X+dx+r.W+pad, 0, shape.X)
	y2 := clamp(r.Y+dy+r.H+pad, 0, shape.Y)
	return image.Pt(x1, y1), image.Pt(x2, y2)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TileOffset returns the full-frame pixel offset of tile (row, col) given
// per-tile dimensions tileW, tileH.
func TileOffset(row, col, tileW, tileH int) (offsetX, offsetY int) {
	return col * tileW, row * tileH
}
