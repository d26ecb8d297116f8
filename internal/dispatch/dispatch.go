// Package dispatch implements the Dispatcher: it assigns each frame
// from a FrameSource a monotonic index, inserts it into the
// OriginalCache, and on sample boundaries crops it into a tile grid and
// submits the grid to the detector pool.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/detect"
	"github.com/shanda/dolphind/internal/frame"
	"github.com/shanda/dolphind/internal/tiling"
)

// Source yields decoded frames. The Dispatcher assigns its own index
// regardless of any source-supplied one.
// Next blocks up to a small poll interval and returns ok=false on EOS.
type Source interface {
	Next(ctx context.Context) (mat frame.Frame, ok bool, err error)
}

// Config holds the Dispatcher's per-channel tunables.
type Config struct {
	Rows, Cols int
	SampleRate int
	PreCache   int
}

// Sample is one dispatched, fully tile-detected frame handed to the
// Reconstructor.
type Sample struct {
	Target  frame.Index
	Results []frame.DetectionResult
}

// Dispatcher is the single serial task per pipeline.
type Dispatcher struct {
	log      *slog.Logger
	cfg      Config
	source   Source
	original *cache.FrameCache[frame.Frame]
	pool     *detect.Pool
	evictor  *cache.Evictor
	out      chan<- Sample

	counter atomic.Int64
}

// New creates a Dispatcher. out is the channel the Reconstructor reads
// dispatched samples from; the caller owns its lifetime.
func New(cfg Config, source Source, original *cache.FrameCache[frame.Frame], pool *detect.Pool, evictor *cache.Evictor, out chan<- Sample) *Dispatcher {
	if cfg.SampleRate < 1 {
		cfg.SampleRate = 1
	}
	return &Dispatcher{
		log:      slog.With("component", "dispatcher"),
		cfg:      cfg,
		source:   source,
		original: original,
		pool:     pool,
		evictor:  evictor,
		out:      out,
	}
}

// Run pulls frames from the source until ctx is cancelled or the source
// reaches end-of-stream, implementing the full 4.1 algorithm per frame.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f, ok, err := d.source.Next(ctx)
		if err != nil {
			return fmt.Errorf("frame source: %w", err)
		}
		if !ok {
			d.log.Info("frame source reached end of stream")
			return nil
		}

		index := frame.Index(d.counter.Add(1))
		f.Index = index
		d.original.Insert(index, f)

		if int(index) <= d.cfg.PreCache {
			d.evictor.Check(d.original)
			continue
		}

		target := index - frame.Index(d.cfg.PreCache)
		if int64(target)%int64(d.cfg.SampleRate) != 0 {
			d.evictor.Check(d.original)
			continue
		}

		if err := d.dispatchSample(target); err != nil {
			d.log.Warn("sample dropped", "target", target, "error", err)
		}

		d.evictor.Check(d.original)
	}
}

func (d *Dispatcher) dispatchSample(target frame.Index) error {
	targetFrame, ok := d.original.Get(target)
	if !ok {
		return fmt.Errorf("target frame %d not in original cache", target)
	}

	blocks := tiling.Split(targetFrame, d.cfg.Rows, d.cfg.Cols)
	defer func() {
		for r := range blocks {
			for c := range blocks[r] {
				_ = blocks[r][c].Close()
			}
		}
	}()

	results, err := d.pool.Dispatch(blocks)
	if err != nil {
		return fmt.Errorf("tile detect: %w", err)
	}

	select {
	case d.out <- Sample{Target: target, Results: results}:
		return nil
	default:
		for _, r := range results {
			_ = r.Close()
		}
		d.log.Warn("reconstructor input full, dropping sample", "target", target)
		return nil
	}
}
