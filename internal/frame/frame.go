// Package frame defines the core frame and detection types that flow through
// the dolphind pipeline, from dispatch through reconstruction and rendering.
package frame

import (
	"image"

	"gocv.io/x/gocv"
)

// Index is a monotonic, gap-free, 1-based frame counter assigned by the
// Dispatcher. It is never reset during the lifetime of a pipeline run.
type Index int64

// Frame is a single decoded frame, backed by a gocv.Mat. Callers that take
// ownership of a Frame must call Close when done with it; Frame values
// stored in a cache are closed by the cache's evictor, never by the reader.
type Frame struct {
	Index Index
	Mat   gocv.Mat
}

// Close releases the underlying Mat. Safe to call on a zero-value Frame.
func (f Frame) Close() error {
	if !f.Mat.Empty() && f.Mat.Ptr() != nil {
		return f.Mat.Close()
	}
	return nil
}

// Clone returns a deep copy of f with its own backing buffer, owned by the
// caller.
func (f Frame) Clone() Frame {
	return Frame{Index: f.Index, Mat: f.Mat.Clone()}
}

// Shape returns the frame's (width, height) in pixels.
func (f Frame) Shape() image.Point {
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

// Rect is an axis-aligned box in full-frame pixel coordinates.
type Rect struct {
	X, Y, W, H int
}

// ToImageRect converts Rect to the standard library's image.Rectangle.
func (r Rect) ToImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// TileBlock is one cell of the rows x cols grid a sampled frame is split
// into, owning its own cropped buffer. Row/Col identify the cell; FrameShape
// is the shape of the full frame it was cut from, needed to translate
// tile-local rectangles back to full-frame coordinates.
type TileBlock struct {
	Index      Index
	Row, Col   int
	Mat        gocv.Mat
	FrameShape image.Point
}

// Close releases the block's cropped buffer.
func (b TileBlock) Close() error {
	return b.Mat.Close()
}

// DetectionResult is the single-shot output of one TileDetector invocation
// on one TileBlock. Rectangles are in tile-local coordinates; the
// Reconstructor translates them to full-frame coordinates using
// (Row*tileH, Col*tileW) offsets.
type DetectionResult struct {
	Index  Index
	Row    int
	Col    int
	Binary gocv.Mat // H'xW' u8 binary mask, tile-local
	Rects  []Rect   // tile-local coordinates
}

// Close releases the detection's binary mask.
func (d DetectionResult) Close() error {
	return d.Binary.Close()
}

// Translate returns a copy of d's rectangles shifted into full-frame
// coordinates, given this tile's pixel offset.
func (d DetectionResult) Translate(offsetX, offsetY int) []Rect {
	out := make([]Rect, len(d.Rects))
	for i, r := range d.Rects {
		out[i] = Rect{X: r.X + offsetX, Y: r.Y + offsetY, W: r.W, H: r.H}
	}
	return out
}

// ConstructResult is the Reconstructor's transient, per-frame output: the
// original frame, the reconstructed whole-frame binary mask, and whatever
// classifier verdict (if any) was reached for it.
type ConstructResult struct {
	Original  Frame
	Binary    gocv.Mat
	Confirmed bool
}
