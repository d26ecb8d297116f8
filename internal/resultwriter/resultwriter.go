// Package resultwriter implements the best-effort disk persistence path:
// for each candidate detection (a tile result with rectangles, queued by
// the Reconstructor before classification), save a PNG of the frame, a 224x224 crop
// around each rectangle, and append the rectangle list to a JSON
// sidecar. Failures are logged and swallowed; this path never affects
// detection or rendering.
package resultwriter

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/frame"
)

// cropHalfWidth is half the side length of the square crop saved per
// rectangle (224x224 total).
const cropHalfWidth = 112

// item is one queued (frame, index, rects) tuple.
type item struct {
	original frame.Frame
	index    frame.Index
	rects    []frame.Rect
}

// Writer drains a bounded queue of candidate-detection tuples and persists
// them to the per-channel workspace. Queue overflow drops the newest item
// and logs.
type Writer struct {
	log   *slog.Logger
	paths Paths

	queue chan item

	mu       sync.Mutex
	sidecar  map[string][]jsonRect
	sequence int
}

// Paths is the set of on-disk directories a Writer persists into, injected
// rather than resolved through a back-reference to the owning pipeline.
type Paths struct {
	FramesDir string
	CropsDir  string
	BBoxJSON  string
}

type jsonRect struct {
	X, Y, W, H int
}

// New creates a Writer with a queue of the given depth.
func New(paths Paths, queueDepth int) *Writer {
	return &Writer{
		log:     slog.With("component", "result-writer"),
		paths:   paths,
		queue:   make(chan item, queueDepth),
		sidecar: make(map[string][]jsonRect),
	}
}

// Enqueue submits a candidate-detection tuple for persistence. Non-blocking:
// if the queue is full, the tuple is dropped and logged, preferring
// recency over completeness.
func (w *Writer) Enqueue(original frame.Frame, index frame.Index, rects []frame.Rect) {
	select {
	case w.queue <- item{original: original, index: index, rects: rects}:
	default:
		w.log.Warn("result queue full, dropping detection", "index", index)
	}
}

// Run drains the queue until stop fires and the queue is empty.
func (w *Writer) Run(stop <-chan struct{}) {
	for {
		select {
		case it := <-w.queue:
			w.persist(it)
		case <-stop:
			w.drainRemaining()
			return
		}
	}
}

func (w *Writer) drainRemaining() {
	for {
		select {
		case it := <-w.queue:
			w.persist(it)
		default:
			return
		}
	}
}

func (w *Writer) persist(it item) {
	w.sequence++
	name := fmt.Sprintf("%s_%d_%s.png", time.Now().Format("01-02-15-04-05"), w.sequence, uuid.NewString()[:8])

	framePath := filepath.Join(w.paths.FramesDir, name)
	if ok := gocv.IMWrite(framePath, it.original.Mat); !ok {
		w.log.Warn("failed to write frame png", "path", framePath)
	}

	for _, r := range it.rects {
		w.writeCrop(it.original, name, r)
	}

	w.saveBBox(name, it.rects)
}

func (w *Writer) writeCrop(original frame.Frame, name string, r frame.Rect) {
	cx, cy := r.X+r.W/2, r.Y+r.H/2
	w_, h_ := original.Mat.Cols(), original.Mat.Rows()
	x1 := clampInt(cx-cropHalfWidth, 0, w_)
	y1 := clampInt(cy-cropHalfWidth, 0, h_)
	x2 := clampInt(cx+cropHalfWidth, 0, w_)
	y2 := clampInt(cy+cropHalfWidth, 0, h_)
	if x2 <= x1 || y2 <= y1 {
		return
	}

	crop := original.Mat.Region(image.Rect(x1, y1, x2, y2))
	defer crop.Close()

	cropPath := filepath.Join(w.paths.CropsDir, name)
	if ok := gocv.IMWrite(cropPath, crop); !ok {
		w.log.Warn("failed to write crop png", "path", cropPath)
	}
}

// saveBBox read-modify-writes the bbox.json sidecar, flushing every record
// rather than batching writes, so a crash never loses more than the
// record currently being persisted.
func (w *Writer) saveBBox(name string, rects []frame.Rect) {
	w.mu.Lock()
	defer w.mu.Unlock()

	jr := make([]jsonRect, len(rects))
	for i, r := range rects {
		jr[i] = jsonRect{r.X, r.Y, r.W, r.H}
	}
	w.sidecar[name] = jr

	data, err := json.MarshalIndent(w.sidecar, "", "  ")
	if err != nil {
		w.log.Warn("failed to marshal bbox sidecar", "error", err)
		return
	}
	if err := os.WriteFile(w.paths.BBoxJSON, data, 0o644); err != nil {
		w.log.Warn("failed to write bbox sidecar", "path", w.paths.BBoxJSON, "error", err)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
