// Package pipeline wires one channel's Dispatcher, TileDetector pool,
// Reconstructor, ContinuousFilter, ClipRenderer, caches, ResultWriter, and
// EventClient into a single StreamPipeline, supervising their lifetimes
// and unwinding them in a fixed shutdown order.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/shanda/dolphind/internal/dispatch"
	"github.com/shanda/dolphind/internal/eventclient"
	"github.com/shanda/dolphind/internal/reconstruct"
	"github.com/shanda/dolphind/internal/resultwriter"
)

// StreamPipeline is a self-contained instance of the core: one FrameSource,
// one Dispatcher, one Reconstructor, one ClipRenderer pair, three caches
// shared between them, one ResultWriter, and one EventClient. The caches and
// ClipRenderer are owned by the Dispatcher/Reconstructor/Renderer deps
// directly; StreamPipeline only supervises their Run loops and shutdown
// order.
type StreamPipeline struct {
	log     *slog.Logger
	channel int

	dispatcher    *dispatch.Dispatcher
	reconstructor *reconstruct.Reconstructor
	events        *eventclient.Client
	writer        *resultwriter.Writer

	samples chan dispatch.Sample
}

// Deps bundles the already-constructed collaborators a StreamPipeline
// supervises. Building them is Monitor's job (it owns the config, the
// workspace paths, and the per-channel FrameSource); StreamPipeline only
// orchestrates their Run loops and shutdown order.
type Deps struct {
	Channel       int
	Dispatcher    *dispatch.Dispatcher
	Reconstructor *reconstruct.Reconstructor
	Events        *eventclient.Client
	Writer        *resultwriter.Writer
	Samples       chan dispatch.Sample
}

// New creates a StreamPipeline from already-wired dependencies.
func New(d Deps) *StreamPipeline {
	return &StreamPipeline{
		log:           slog.With("component", "stream-pipeline", "channel", d.Channel),
		channel:       d.Channel,
		dispatcher:    d.Dispatcher,
		reconstructor: d.Reconstructor,
		events:        d.Events,
		writer:        d.Writer,
		samples:       d.Samples,
	}
}

// Run starts the EventClient, ResultWriter, and Dispatcher as background
// tasks and drives the Reconstructor serially off the dispatch channel,
// since the Reconstructor is the single serial task per pipeline. It
// blocks until ctx is cancelled or the Dispatcher reaches end-of-stream,
// then stops feeding the Reconstructor and stops the ResultWriter after it
// drains its queue. The EventClient stops only when ctx is cancelled, and
// the caches are not drained here.
func (p *StreamPipeline) Run(ctx context.Context) error {
	writerStop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		p.writer.Run(writerStop)
		close(writerDone)
	}()

	go p.events.Run(ctx)

	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- p.dispatcher.Run(ctx)
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case sample, ok := <-p.samples:
			if !ok {
				break loop
			}
			p.reconstructor.Process(sample)
		case err := <-dispatchErr:
			runErr = err
			break loop
		}
	}

	p.log.Info("pipeline shutting down")
	close(writerStop)
	<-writerDone

	return runErr
}
