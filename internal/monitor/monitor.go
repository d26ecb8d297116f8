// Package monitor builds and supervises the N StreamPipelines, one per
// configured channel, and owns the shared shutdown latch every component
// ultimately watches.
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/classify"
	"github.com/shanda/dolphind/internal/config"
	"github.com/shanda/dolphind/internal/detect"
	"github.com/shanda/dolphind/internal/dispatch"
	"github.com/shanda/dolphind/internal/eventclient"
	"github.com/shanda/dolphind/internal/filter"
	"github.com/shanda/dolphind/internal/frame"
	"github.com/shanda/dolphind/internal/pipeline"
	"github.com/shanda/dolphind/internal/reconstruct"
	"github.com/shanda/dolphind/internal/render"
	"github.com/shanda/dolphind/internal/resultwriter"
	"github.com/shanda/dolphind/internal/rtspsource"
	"github.com/shanda/dolphind/internal/tiling"
	"github.com/shanda/dolphind/internal/workspace"
)

const (
	eventQueueDepth  = 32
	writerQueueDepth = 64
	sampleQueueDepth = 16

	assumedWidth  = 1920
	assumedHeight = 1080

	blankLinesToShutdown = 2
)

// channel bundles the one running goroutine a Monitor supervises per
// configured video channel, plus its StreamPipeline for shutdown logging.
type channel struct {
	index    int
	pipeline *pipeline.StreamPipeline
	source   *rtspsource.Source
}

// Monitor owns every StreamPipeline's lifetime and the shutdown latch.
type Monitor struct {
	log       *slog.Logger
	server    config.Server
	pipelines []config.PipelineConfig

	mu      sync.Mutex
	running map[int]bool
}

// New builds a Monitor from server-level and per-channel configuration. It
// does not start any pipeline; call Run for that.
func New(server config.Server, pipelines []config.PipelineConfig) *Monitor {
	return &Monitor{
		log:       slog.With("component", "monitor"),
		server:    server,
		pipelines: pipelines,
		running:   make(map[int]bool),
	}
}

// claimIndex registers index as running, rejecting a duplicate
// PipelineConfig.Index in config.yaml.
func (m *Monitor) claimIndex(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[index] {
		return false
	}
	m.running[index] = true
	return true
}

// releaseIndex marks index no longer running once its pipeline has exited.
func (m *Monitor) releaseIndex(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, index)
}

// Run creates the workspace layout and StreamPipeline for every enabled
// channel, starts each in its own errgroup.Go closure with its own child
// context, so one channel's failure does not affect another, and
// blocks until the shared shutdown latch is armed by whichever of SIGINT,
// SIGTERM, the shut_down_after timer, or two consecutive blank lines on
// stdin fires first.
func (m *Monitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.watchSignals(cancel)
	m.watchShutDownAfter(cancel)
	m.watchStdin(cancel)

	channels := make([]*channel, 0, len(m.pipelines))
	g, _ := errgroup.WithContext(context.Background())

	for _, pc := range m.pipelines {
		pc := pc

		if !m.claimIndex(pc.Index) {
			m.log.Error("duplicate channel index in config, skipping", "index", pc.Index)
			continue
		}

		ch, err := m.buildChannel(pc)
		if err != nil {
			m.log.Error("failed to build channel, skipping", "index", pc.Index, "error", err)
			m.releaseIndex(pc.Index)
			continue
		}
		channels = append(channels, ch)

		childCtx, childCancel := context.WithCancel(ctx)
		go func() {
			<-ctx.Done()
			childCancel()
		}()

		g.Go(func() error {
			defer childCancel()
			defer m.releaseIndex(ch.index)
			if err := ch.pipeline.Run(childCtx); err != nil {
				m.log.Error("pipeline exited with error", "channel", ch.index, "error", err)
			}
			_ = ch.source.Close()
			return nil
		})
	}

	if len(channels) == 0 {
		return fmt.Errorf("no channels configured, nothing to monitor")
	}

	m.log.Info("monitor running", "channels", len(channels))
	return g.Wait()
}

// buildChannel wires one PipelineConfig into a fully constructed
// StreamPipeline: workspace directories, the RTSP source, the three caches,
// the detector pool, the ContinuousFilter, the ClipRenderer, the
// ResultWriter, the EventClient, the Dispatcher, and the Reconstructor, in
// leaf-first dependency order.
func (m *Monitor) buildChannel(pc config.PipelineConfig) (*channel, error) {
	paths, err := workspace.Create(m.server.Workspace, pc.Index, pc.Routine.Rows, pc.Routine.Cols)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	original := cache.New[frame.Frame](fmt.Sprintf("original-%d", pc.Index), maxStreamsCache(pc))
	renderRect := cache.NewRenderRectCache(maxStreamsCache(pc))
	evictor := cache.NewEvictor()

	tileW, tileH := tiling.TileSize(assumedShape(), pc.Routine.Rows, pc.Routine.Cols)
	pool := detect.NewPool(pc.Routine.Rows, pc.Routine.Cols, detect.Threshold{}, tileW, tileH, detect.Params{
		Threshold:        127,
		MinContourArea:   32,
		MaxRectsPerFrame: 16,
	})

	cf := filter.New(filter.Config{
		DetectInternal: pc.DetectInternal,
		SearchWindow:   pc.SearchWindowSize,
		Rows:           pc.Routine.Rows,
		Cols:           pc.Routine.Cols,
	}, pool, original)

	events := eventclient.New(fmt.Sprintf("%s:%d", m.server.EventHost, m.server.EventPort), eventQueueDepth)
	writer := resultwriter.New(resultwriter.Paths{
		FramesDir: paths.FramesDir,
		CropsDir:  paths.CropsDir,
		BBoxJSON:  paths.BBoxJSON,
	}, writerQueueDepth)

	clipRenderer := render.New(render.Config{
		FutureFrames:      pc.FutureFrames,
		SampleRate:        pc.SampleRate,
		RectStreamDir:     paths.RenderStreamsDir,
		OriginalStreamDir: paths.OriginalStreamsDir,
		Width:             assumedWidth,
		Height:            assumedHeight,
	}, original, renderRect, events, render.NewGoCVWriter)

	source := rtspsource.New(pc.RTSP)
	samples := make(chan dispatch.Sample, sampleQueueDepth)

	d := dispatch.New(dispatch.Config{
		Rows:       pc.Routine.Rows,
		Cols:       pc.Routine.Cols,
		SampleRate: pc.SampleRate,
		PreCache:   pc.PreCache,
	}, source, original, pool, evictor, samples)

	r := reconstruct.New(reconstruct.Config{
		Channel:  pc.Index,
		RTSP:     pc.RTSP,
		Render:   pc.Render,
		TileRows: pc.Routine.Rows,
		TileCols: pc.Routine.Cols,
	}, original, renderRect, classify.VarianceThreshold{}, cf, events, writer, clipRenderer, evictor)

	sp := pipeline.New(pipeline.Deps{
		Channel:       pc.Index,
		Dispatcher:    d,
		Reconstructor: r,
		Events:        events,
		Writer:        writer,
		Samples:       samples,
	})

	return &channel{index: pc.Index, pipeline: sp, source: source}, nil
}

func maxStreamsCache(pc config.PipelineConfig) int {
	if pc.MaxStreamsCache > 0 {
		return pc.MaxStreamsCache
	}
	return 1000
}

func assumedShape() image.Point {
	return image.Point{X: assumedWidth, Y: assumedHeight}
}

// watchSignals arms cancel on SIGINT or SIGTERM.
func (m *Monitor) watchSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		m.log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()
}

// watchShutDownAfter arms cancel after server.ShutDownAfter seconds, unless
// it is zero (disabled).
func (m *Monitor) watchShutDownAfter(cancel context.CancelFunc) {
	if m.server.ShutDownAfter <= 0 {
		return
	}
	d := time.Duration(m.server.ShutDownAfter) * time.Second
	go func() {
		time.Sleep(d)
		m.log.Info("shut_down_after elapsed, shutting down", "after", d)
		cancel()
	}()
}

// watchStdin arms cancel after two consecutive blank lines on stdin, an
// operator-friendly shutdown input for interactive/foreground runs.
func (m *Monitor) watchStdin(cancel context.CancelFunc) {
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		blanks := 0
		for scanner.Scan() {
			if scanner.Text() == "" {
				blanks++
				if blanks >= blankLinesToShutdown {
					m.log.Info("two consecutive blank lines on stdin, shutting down")
					cancel()
					return
				}
				continue
			}
			blanks = 0
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			m.log.Warn("stdin scanner error", "error", err)
		}
	}()
}
