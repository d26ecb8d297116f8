// Package reconstruct implements the Reconstructor: it joins the tile
// results for one dispatched sample, translates rectangles to full-frame
// coordinates, applies the classifier and the ContinuousFilter, and on a
// confirmed detection emits an event, stamps the render frame, and arms
// the ClipRenderer.
package reconstruct

import (
	"image"
	"log/slog"
	"math/rand"
	"time"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/classify"
	"github.com/shanda/dolphind/internal/dispatch"
	"github.com/shanda/dolphind/internal/eventclient"
	"github.com/shanda/dolphind/internal/filter"
	"github.com/shanda/dolphind/internal/frame"
	"github.com/shanda/dolphind/internal/resultwriter"
)

const (
	originalPollInterval = 500 * time.Millisecond
	originalPollRetries  = 20
	bboxPad              = 80
)

// Renderer is the subset of *render.ClipRenderer the Reconstructor drives.
type Renderer interface {
	Reset(d frame.Index)
	Notify(current frame.Index)
}

// Config holds per-channel settings the Reconstructor needs.
type Config struct {
	Channel  int
	RTSP     string
	Render   bool
	TileRows int
	TileCols int
}

// Reconstructor is the single serial task per pipeline, joining tile
// results for one frame before starting the next.
type Reconstructor struct {
	log        *slog.Logger
	cfg        Config
	original   *cache.FrameCache[frame.Frame]
	renderRect *cache.RenderRectCache
	classifier classify.Classifier
	cf         *filter.ContinuousFilter
	events     *eventclient.Client
	writer     *resultwriter.Writer
	renderer   Renderer
	evictor    *cache.Evictor
}

// New creates a Reconstructor.
func New(cfg Config, original *cache.FrameCache[frame.Frame], renderRect *cache.RenderRectCache, classifier classify.Classifier, cf *filter.ContinuousFilter, events *eventclient.Client, writer *resultwriter.Writer, renderer Renderer, evictor *cache.Evictor) *Reconstructor {
	return &Reconstructor{
		log:        slog.With("component", "reconstructor", "channel", cfg.Channel),
		cfg:        cfg,
		original:   original,
		renderRect: renderRect,
		classifier: classifier,
		cf:         cf,
		events:     events,
		writer:     writer,
		renderer:   renderer,
		evictor:    evictor,
	}
}

// Process runs the full 4.3 algorithm for one dispatched sample. Tile
// results are translated to full-frame coordinates and closed before
// returning, regardless of outcome.
func (r *Reconstructor) Process(sample dispatch.Sample) {
	defer func() {
		for _, res := range sample.Results {
			_ = res.Close()
		}
	}()

	original, ok := r.pollOriginal(sample.Target)
	if !ok {
		r.log.Warn("original frame unavailable after retries, skipping reconstruction", "index", sample.Target)
		return
	}

	renderFrame := original.Clone()
	armed := false
	defer func() {
		// Ownership of renderFrame transfers to RenderCache on a confirmed
		// detection; otherwise it must be released here.
		if !armed {
			renderFrame.Close()
		}
	}()

	tileW := original.Shape().X / r.cfg.TileCols
	tileH := original.Shape().Y / r.cfg.TileRows

	// The ContinuousFilter's post-detection hit test compares rectangles
	// against the full original frame, so it needs full-frame coordinates;
	// build a translated view once per sample rather than per rectangle.
	fullFrameResults := make([]frame.DetectionResult, len(sample.Results))
	for i, res := range sample.Results {
		offsetX, offsetY := frame.TileOffset(res.Row, res.Col, tileW, tileH)
		fullFrameResults[i] = res
		fullFrameResults[i].Rects = res.Translate(offsetX, offsetY)
	}

	for i, res := range sample.Results {
		if len(res.Rects) == 0 {
			continue
		}
		fullRects := fullFrameResults[i].Rects

		r.writer.Enqueue(original, sample.Target, fullRects)

		for _, rect := range fullRects {
			if !r.classify(original, rect) {
				continue
			}

			decision := r.cf.Evaluate(sample.Target, fullFrameResults, original)
			if decision == filter.Suppress {
				return
			}

			r.emitDetected(sample.Target, []frame.Rect{rect})

			if r.cfg.Render {
				r.drawRect(renderFrame, rect)
				r.renderRect.WriteBoth(sample.Target, renderFrame, r.accumulateRects(sample.Target, rect))
				armed = true
				r.renderer.Reset(sample.Target)
			}
		}
	}

	r.renderer.Notify(sample.Target)
	r.evictor.Check(r.original)
	r.evictor.Check(r.renderRect)
}

// accumulateRects appends rect to whatever rectangles are already cached at
// index (from an earlier confirmation on this same sample), so the stored
// RectCache entry always holds the full rectangle list for the frame.
func (r *Reconstructor) accumulateRects(index frame.Index, rect frame.Rect) []frame.Rect {
	existing, _ := r.renderRect.GetRects(index)
	return append(existing, rect)
}

func (r *Reconstructor) classify(original frame.Frame, rect frame.Rect) bool {
	patch := original.Mat.Region(rect.ToImageRect())
	defer patch.Close()
	return r.classifier.Predict(patch) == classify.Hit
}

func (r *Reconstructor) pollOriginal(target frame.Index) (frame.Frame, bool) {
	for i := 0; i < originalPollRetries; i++ {
		if f, ok := r.original.Get(target); ok {
			return f, true
		}
		time.Sleep(originalPollInterval)
	}
	return frame.Frame{}, false
}

func (r *Reconstructor) emitDetected(index frame.Index, rects []frame.Rect) {
	payload, err := eventclient.EncodeDetected(r.cfg.RTSP, r.cfg.Channel, index, rects)
	if err != nil {
		r.log.Warn("failed to encode detected event", "error", err)
		return
	}
	r.events.Send(payload)
}

func (r *Reconstructor) drawRect(renderFrame frame.Frame, rect frame.Rect) {
	p1, p2 := frame.BBoxPoints(bboxPad, rect, renderFrame.Shape(), 0, 0)
	color := gocv.NewScalar(float64(rand.Intn(256)), float64(rand.Intn(256)), float64(rand.Intn(256)), 0)
	gocv.Rectangle(&renderFrame.Mat, image.Rectangle{Min: p1, Max: p2}, color, 2)
}
