package dispatch

import (
	"context"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/detect"
	"github.com/shanda/dolphind/internal/frame"
)

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

func newFrames(n int) []frame.Frame {
	out := make([]frame.Frame, n)
	for i := 0; i < n; i++ {
		out[i] = frame.Frame{Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	}
	return out
}

func TestDispatcherAssignsMonotonicGapFreeIndices(t *testing.T) {
	source := &fakeSource{frames: newFrames(10)}
	original := cache.New[frame.Frame]("original", 1000)
	pool := detect.NewPool(2, 2, detect.Threshold{}, 32, 32, detect.Params{Threshold: 127, MinContourArea: 1})
	out := make(chan Sample, 10)
	evictor := cache.NewEvictor()

	d := New(Config{Rows: 2, Cols: 2, SampleRate: 1, PreCache: 0}, source, original, pool, evictor, out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := frame.Index(1); i <= 10; i++ {
		if _, ok := original.Get(i); !ok {
			t.Errorf("expected OriginalCache to contain index %d", i)
		}
	}
}

func TestDispatcherSkipsPreCacheWarmup(t *testing.T) {
	source := &fakeSource{frames: newFrames(5)}
	original := cache.New[frame.Frame]("original", 1000)
	pool := detect.NewPool(1, 1, detect.Threshold{}, 64, 64, detect.Params{Threshold: 127, MinContourArea: 1})
	out := make(chan Sample, 10)
	evictor := cache.NewEvictor()

	d := New(Config{Rows: 1, Cols: 1, SampleRate: 1, PreCache: 3}, source, original, pool, evictor, out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-out:
		if s.Target != 1 {
			t.Errorf("first sample target = %d, want 1 (index 4 minus pre_cache=3 warmup)", s.Target)
		}
	case <-time.After(time.Second):
		t.Fatal("expected at least one dispatched sample after warmup")
	}
}

func TestDispatcherRespectsSampleRate(t *testing.T) {
	source := &fakeSource{frames: newFrames(8)}
	original := cache.New[frame.Frame]("original", 1000)
	pool := detect.NewPool(1, 1, detect.Threshold{}, 64, 64, detect.Params{Threshold: 127, MinContourArea: 1})
	out := make(chan Sample, 10)
	evictor := cache.NewEvictor()

	d := New(Config{Rows: 1, Cols: 1, SampleRate: 4, PreCache: 0}, source, original, pool, evictor, out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(out)

	var targets []frame.Index
	for s := range out {
		targets = append(targets, s.Target)
	}
	for _, tg := range targets {
		if int64(tg)%4 != 0 {
			t.Errorf("dispatched target %d is not a multiple of sample_rate 4", tg)
		}
	}
	if len(targets) != 2 {
		t.Errorf("got %d dispatched samples, want 2 (targets 4 and 8)", len(targets))
	}
}
