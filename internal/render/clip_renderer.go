// Package render implements the ClipRenderer state machine: for each
// confirmed detection window, write two MP4 clips covering
// [D-future_frames, D+future_frames), one with boxes drawn (rect clip)
// and one unadorned (original clip).
package render

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/eventclient"
	"github.com/shanda/dolphind/internal/frame"
)

const (
	pastPhaseTimeout    = 30 * time.Second
	futureWaitTimeout   = 30 * time.Second
	missingFrameSleep   = 500 * time.Millisecond
	missingFrameRetries = 100
	bboxPad             = 80
)

// Config holds the per-pipeline tunables a ClipRenderer needs, sourced from
// PipelineConfig.
type Config struct {
	FutureFrames      int
	SampleRate        int
	RectStreamDir     string
	OriginalStreamDir string
	Width, Height     int // output resolution; defaults to 1920x1080 if zero
	FPS               float64
}

// Notifier sends an already-encoded event payload, satisfied by
// *eventclient.Client.
type Notifier interface {
	Send(payload string)
}

// ClipRenderer implements the Idle -> Armed(D) -> PastWritten(D) ->
// FuturePrepared(D) -> Released -> Idle state machine.
type ClipRenderer struct {
	log        *slog.Logger
	cfg        Config
	original   *cache.FrameCache[frame.Frame]
	renderRect *cache.RenderRectCache
	notifier   Notifier
	newWriter  WriterFactory

	mu           sync.Mutex
	detectIndex  frame.Index
	armed        bool
	writeDone    bool
	streamCnt    int
	nextPrepared *latch
}

// New creates a ClipRenderer. If newWriter is nil, NewGoCVWriter is used.
func New(cfg Config, original *cache.FrameCache[frame.Frame], renderRect *cache.RenderRectCache, notifier Notifier, newWriter WriterFactory) *ClipRenderer {
	if cfg.Width == 0 {
		cfg.Width = 1920
	}
	if cfg.Height == 0 {
		cfg.Height = 1080
	}
	if cfg.FPS == 0 {
		cfg.FPS = 24.0
	}
	if newWriter == nil {
		newWriter = NewGoCVWriter
	}
	return &ClipRenderer{
		log:          slog.With("component", "clip-renderer"),
		cfg:          cfg,
		original:     original,
		renderRect:   renderRect,
		notifier:     notifier,
		newWriter:    newWriter,
		detectIndex:  0,
		nextPrepared: newLatch(true),
	}
}

// Reset arms the renderer on a new detection index D, but only once the
// previous window has actually ended (detectIndex - previous > FutureFrames),
// matching the original's is_window_reach guard: repeat confirmations within
// an active window must not re-arm it.
func (r *ClipRenderer) Reset(d frame.Index) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int64(d-r.detectIndex) <= int64(r.cfg.FutureFrames) {
		return
	}
	r.detectIndex = d
	r.armed = false
	r.writeDone = false
	r.nextPrepared.Signal()
	r.log.Info("reset stream render", "detect_index", d)
}

// Notify informs the renderer that dispatch has reached current_index. On
// the first call after a reset it arms the window and spawns the two render
// tasks; once both tasks have been triggered and current_index has reached
// the future-frames edge, it releases the future-phase latch.
func (r *ClipRenderer) Notify(current frame.Index) {
	r.mu.Lock()
	if !r.armed {
		r.nextPrepared.Clear()
		r.streamCnt++
		cnt := r.streamCnt
		detectIdx := r.detectIndex
		r.armed = true
		r.mu.Unlock()

		ts := time.Now()
		go r.rectRenderTask(detectIdx, ts, cnt)
		go r.originalRenderTask(detectIdx, ts, cnt)

		r.mu.Lock()
		r.writeDone = true
	}

	release := r.armed && r.writeDone && int64(current-r.detectIndex) >= int64(r.cfg.FutureFrames) && !r.nextPrepared.IsSet()
	r.mu.Unlock()

	if release {
		r.nextPrepared.Signal()
		r.log.Info("future frames accessible", "current_index", current, "detect_index", r.detectIndex)
	}
}

func (r *ClipRenderer) rectRenderTask(detectIdx frame.Index, ts time.Time, streamCnt int) {
	target := filepath.Join(r.cfg.RectStreamDir, fmt.Sprintf("%s-%d.mp4", ts.Format("01-02-15-04-05"), streamCnt))
	w, err := r.newWriter(target, r.cfg.FPS, r.cfg.Width, r.cfg.Height)
	if err != nil {
		r.log.Warn("failed to open rect clip writer", "path", target, "error", err)
		return
	}

	nextCnt := detectIdx - frame.Index(r.cfg.FutureFrames)
	nextCnt = r.writeRenderVideoWork(w, nextCnt, detectIdx)

	if !r.nextPrepared.IsSet() {
		r.nextPrepared.Wait(futureWaitTimeout)
	}

	endCnt := nextCnt + frame.Index(r.cfg.FutureFrames)
	r.writeRenderVideoWork(w, nextCnt, endCnt)

	if err := w.Close(); err != nil {
		r.log.Warn("failed to close rect clip writer", "path", target, "error", err)
	}

	payload, err := eventclient.EncodePackaged(filepath.Base(target), target)
	if err != nil {
		r.log.Warn("failed to encode packaged event", "error", err)
		return
	}
	if r.notifier != nil {
		r.notifier.Send(payload)
	}
}

func (r *ClipRenderer) originalRenderTask(detectIdx frame.Index, ts time.Time, streamCnt int) {
	target := filepath.Join(r.cfg.OriginalStreamDir, fmt.Sprintf("%s-%d.mp4", ts.Format("01-02-15-04-05"), streamCnt))
	w, err := r.newWriter(target, r.cfg.FPS, r.cfg.Width, r.cfg.Height)
	if err != nil {
		r.log.Warn("failed to open original clip writer", "path", target, "error", err)
		return
	}

	nextCnt := detectIdx - frame.Index(r.cfg.FutureFrames)
	nextCnt = r.writeOriginalVideoWork(w, nextCnt, detectIdx)

	if !r.nextPrepared.IsSet() {
		r.nextPrepared.Wait(futureWaitTimeout)
	}

	endCnt := nextCnt + frame.Index(r.cfg.FutureFrames)
	r.writeOriginalVideoWork(w, nextCnt, endCnt)

	if err := w.Close(); err != nil {
		r.log.Warn("failed to close original clip writer", "path", target, "error", err)
	}
}

// writeRenderVideoWork drains RenderCache/RectCache/OriginalCache from
// nextCnt up to (not including) endCnt, interpolating across gaps in
// RenderCache, and returns the index reached.
func (r *ClipRenderer) writeRenderVideoWork(w VideoWriter, nextCnt, endCnt frame.Index) frame.Index {
	if nextCnt < 1 {
		nextCnt = 1
	}
	start := time.Now()
	tryTimes := 0

	for nextCnt < endCnt {
		if time.Since(start) > pastPhaseTimeout {
			r.log.Info("render task time overflow, completing early")
			break
		}

		render, okRender := r.renderRect.GetRender(nextCnt)
		if okRender {
			forwardCnt := nextCnt + frame.Index(r.cfg.SampleRate)
			if forwardCnt > endCnt {
				forwardCnt = endCnt
			}
			for forwardCnt > nextCnt {
				if _, ok := r.renderRect.GetRender(forwardCnt); ok {
					break
				}
				forwardCnt--
			}

			if forwardCnt-nextCnt <= 1 {
				_ = w.Write(render.Mat)
				nextCnt++
				continue
			}

			nextCnt = r.interpolateSpan(w, nextCnt, forwardCnt)
			continue
		}

		if orig, ok := r.original.Get(nextCnt); ok {
			_ = w.Write(orig.Mat)
			nextCnt++
			continue
		}

		tryTimes++
		time.Sleep(missingFrameSleep)
		if tryTimes > missingFrameRetries {
			tryTimes = 0
			r.log.Info("missing frame retry overflow, skipping index", "index", nextCnt)
			nextCnt++
		}
	}
	return nextCnt
}

// interpolateSpan draws step frames between nextCnt and forwardCnt by
// linearly interpolating each rectangle's position, applying the
// |Δx|,|Δy| <= 100/step rejection rule. Returns forwardCnt. If the two
// rectangle lists differ in length it writes nextCnt's original frame
// un-interpolated and returns nextCnt+1 instead.
func (r *ClipRenderer) interpolateSpan(w VideoWriter, nextCnt, forwardCnt frame.Index) frame.Index {
	step := int(forwardCnt - nextCnt)
	firstRects, _ := r.renderRect.GetRects(nextCnt)
	lastRects, _ := r.renderRect.GetRects(forwardCnt)
	if len(firstRects) != len(lastRects) {
		if orig, ok := r.original.Get(nextCnt); ok {
			_ = w.Write(orig.Mat)
		}
		return nextCnt + 1
	}

	for i := 0; i < step; i++ {
		cnt := nextCnt + frame.Index(i)
		orig, ok := r.original.Get(cnt)
		if !ok {
			continue
		}

		drawFlag := true
		canvas := orig.Clone()
		for j := range firstRects {
			dx := float64(lastRects[j].X-firstRects[j].X) / float64(step)
			dy := float64(lastRects[j].Y-firstRects[j].Y) / float64(step)
			if math.Abs(dx) > 100/float64(step) || math.Abs(dy) > 100/float64(step) {
				drawFlag = false
				break
			}
			p1, p2 := frame.BBoxPoints(bboxPad, firstRects[j], orig.Shape(), int(dx*float64(i)), int(dy*float64(i)))
			gocv.Rectangle(&canvas.Mat, image.Rectangle{Min: p1, Max: p2}, randomColor(), 2)
		}

		if drawFlag {
			_ = w.Write(canvas.Mat)
		} else {
			_ = w.Write(orig.Mat)
		}
		canvas.Close()
	}
	return forwardCnt
}

// writeOriginalVideoWork drains OriginalCache from nextCnt up to endCnt with
// no interpolation, for the unadorned clip.
func (r *ClipRenderer) writeOriginalVideoWork(w VideoWriter, nextCnt, endCnt frame.Index) frame.Index {
	if nextCnt < 1 {
		nextCnt = 1
	}
	start := time.Now()
	tryTimes := 0

	for nextCnt < endCnt {
		if time.Since(start) > pastPhaseTimeout {
			r.log.Info("original render task time overflow, completing early")
			break
		}

		if orig, ok := r.original.Get(nextCnt); ok {
			_ = w.Write(orig.Mat)
			nextCnt++
			continue
		}

		tryTimes++
		time.Sleep(missingFrameSleep)
		if tryTimes > missingFrameRetries {
			tryTimes = 0
			r.log.Info("missing frame retry overflow, skipping index", "index", nextCnt)
			nextCnt++
		}
	}
	return nextCnt
}

func randomColor() gocv.Scalar {
	return gocv.NewScalar(float64(rand.Intn(256)), float64(rand.Intn(256)), float64(rand.Intn(256)), 0)
}
