package pipeline

import (
	"context"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/classify"
	"github.com/shanda/dolphind/internal/detect"
	"github.com/shanda/dolphind/internal/dispatch"
	"github.com/shanda/dolphind/internal/eventclient"
	"github.com/shanda/dolphind/internal/filter"
	"github.com/shanda/dolphind/internal/frame"
	"github.com/shanda/dolphind/internal/reconstruct"
	"github.com/shanda/dolphind/internal/resultwriter"
)

type missClassifier struct{}

func (missClassifier) Predict(gocv.Mat) classify.Verdict { return classify.Miss }

type noopRenderer struct{}

func (noopRenderer) Reset(frame.Index)    {}
func (noopRenderer) Notify(frame.Index)   {}

type fakeSource struct {
	frames []frame.Frame
	i      int
}

func (s *fakeSource) Next(ctx context.Context) (frame.Frame, bool, error) {
	if s.i >= len(s.frames) {
		return frame.Frame{}, false, nil
	}
	f := s.frames[s.i]
	s.i++
	return f, true, nil
}

func newTestPipeline(t *testing.T, frameCount int) *StreamPipeline {
	t.Helper()

	frames := make([]frame.Frame, frameCount)
	for i := range frames {
		frames[i] = frame.Frame{Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	}
	source := &fakeSource{frames: frames}

	original := cache.New[frame.Frame]("original", 1000)
	renderRect := cache.NewRenderRectCache(500)
	pool := detect.NewPool(1, 1, detect.Threshold{}, 64, 64, detect.Params{Threshold: 127, MinContourArea: 1})
	evictor := cache.NewEvictor()
	cf := filter.New(filter.Config{DetectInternal: 48, SearchWindow: 24, Rows: 1, Cols: 1}, pool, original)
	events := eventclient.New("127.0.0.1:1", 4)
	writer := resultwriter.New(resultwriter.Paths{FramesDir: t.TempDir(), CropsDir: t.TempDir(), BBoxJSON: t.TempDir() + "/bbox.json"}, 4)

	samples := make(chan dispatch.Sample, frameCount)
	d := dispatch.New(dispatch.Config{Rows: 1, Cols: 1, SampleRate: 1, PreCache: 0}, source, original, pool, evictor, samples)
	r := reconstruct.New(reconstruct.Config{Channel: 1, RTSP: "rtsp://cam1", Render: false, TileRows: 1, TileCols: 1}, original, renderRect, missClassifier{}, cf, events, writer, noopRenderer{}, evictor)

	return New(Deps{
		Channel:       1,
		Dispatcher:    d,
		Reconstructor: r,
		Events:        events,
		Writer:        writer,
		Samples:       samples,
	})
}

func TestStreamPipelineRunDrainsToEndOfStreamAndReturns(t *testing.T) {
	p := newTestPipeline(t, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestStreamPipelineRunStopsOnContextCancel(t *testing.T) {
	p := newTestPipeline(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after ctx cancellation")
	}
}
