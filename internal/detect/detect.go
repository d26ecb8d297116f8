// Package detect implements the per-tile detector kernel: a stateless
// function from a cropped tile block to a binary mask and candidate
// rectangles. The kernel itself is a pluggable concern treated as an
// external collaborator; Detector is the interface the Dispatcher's
// worker pool calls, with a thresholding default good enough to exercise
// the rest of the pipeline.
package detect

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/frame"
)

// Params configures one tile's detector instance. Stateless across calls:
// the same Params value may be reused concurrently by any worker.
type Params struct {
	Row, Col         int
	TileW, TileH     int
	Threshold        float32 // binary threshold applied to the grayscale tile
	MinContourArea   float64 // rectangles smaller than this are discarded
	MaxRectsPerFrame int     // safety cap on candidate rectangles per tile
}

// Detector is a pure function of (TileBlock, Params) -> DetectionResult.
// Implementations must be side-effect free and safe to call concurrently
// from any worker in the TileDetector pool.
type Detector interface {
	Detect(block frame.TileBlock, params Params) (frame.DetectionResult, error)
}

// Threshold is the default Detector: grayscale, binary threshold, then
// contour extraction. It has no internal state and performs no I/O, so a
// single instance may be shared by every worker in the pool.
type Threshold struct{}

// Detect implements Detector.
func (Threshold) Detect(block frame.TileBlock, params Params) (frame.DetectionResult, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(block.Mat, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, params.Threshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	rects := make([]frame.Rect, 0, contours.Size())
	cap := params.MaxRectsPerFrame
	if cap <= 0 {
		cap = 32
	}
	for i := 0; i < contours.Size() && len(rects) < cap; i++ {
		c := contours.At(i)
		if gocv.ContourArea(c) < params.MinContourArea {
			continue
		}
		br := gocv.BoundingRect(c)
		rects = append(rects, toRect(br))
	}

	return frame.DetectionResult{
		Index:  block.Index,
		Row:    block.Row,
		Col:    block.Col,
		Binary: binary,
		Rects:  rects,
	}, nil
}

func toRect(r image.Rectangle) frame.Rect {
	return frame.Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Pool runs rows*cols Detector workers, one per tile position, as a
// fixed-size worker pool shared across the pipeline's lifetime. Submission
// and collection of one sample's tiles happen within the Dispatcher's
// per-sample deadline; Pool only provides the fan-out/fan-in mechanics.
type Pool struct {
	rows, cols int
	det        Detector
	params     [][]Params // [row][col]
}

// NewPool builds a Pool of rows*cols workers sharing a single stateless
// Detector, with params[row][col] precomputed once at startup.
func NewPool(rows, cols int, det Detector, tileW, tileH int, base Params) *Pool {
	params := make([][]Params, rows)
	for r := 0; r < rows; r++ {
		params[r] = make([]Params, cols)
		for c := 0; c < cols; c++ {
			p := base
			p.Row, p.Col = r, c
			p.TileW, p.TileH = tileW, tileH
			params[r][c] = p
		}
	}
	return &Pool{rows: rows, cols: cols, det: det, params: params}
}

// Dispatch submits all rows*cols tiles of one sampled frame concurrently and
// blocks until every tile has returned a result or an error. On the first
// error, Dispatch still waits for all workers to finish (so no goroutine
// leaks or TileBlock stays unclosed) but returns the error; the caller must
// drop the whole sample: if tile-detect fails on any tile, the whole
// sample is dropped rather than reconstructed partially.
func (p *Pool) Dispatch(blocks [][]frame.TileBlock) ([]frame.DetectionResult, error) {
	type slot struct {
		res frame.DetectionResult
		err error
	}
	n := p.rows * p.cols
	results := make(chan slot, n)

	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			block := blocks[r][c]
			params := p.params[r][c]
			go func() {
				res, err := p.det.Detect(block, params)
				results <- slot{res, err}
			}()
		}
	}

	out := make([]frame.DetectionResult, 0, n)
	var firstErr error
	for i := 0; i < n; i++ {
		s := <-results
		if s.err != nil {
			if firstErr == nil {
				firstErr = s.err
			}
			continue
		}
		out = append(out, s.res)
	}
	if firstErr != nil {
		for _, r := range out {
			_ = r.Close()
		}
		return nil, firstErr
	}
	return out, nil
}
