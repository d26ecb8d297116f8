package render

import (
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/frame"
)

type fakeWriter struct {
	mu     sync.Mutex
	frames int
	closed bool
}

func (f *fakeWriter) Write(mat gocv.Mat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Send(payload string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, payload)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func newTestRenderer(t *testing.T, futureFrames int, writers *[]*fakeWriter, notifier *fakeNotifier) (*ClipRenderer, *cache.FrameCache[frame.Frame], *cache.RenderRectCache) {
	t.Helper()
	original := cache.New[frame.Frame]("original", 1000)
	renderRect := cache.NewRenderRectCache(500)

	var mu sync.Mutex
	factory := func(path string, fps float64, w, h int) (VideoWriter, error) {
		fw := &fakeWriter{}
		mu.Lock()
		*writers = append(*writers, fw)
		mu.Unlock()
		return fw, nil
	}

	cfg := Config{FutureFrames: futureFrames, SampleRate: 1, RectStreamDir: t.TempDir(), OriginalStreamDir: t.TempDir()}
	r := New(cfg, original, renderRect, notifier, factory)
	return r, original, renderRect
}

func insertFrame(original *cache.FrameCache[frame.Frame], idx frame.Index) {
	original.Insert(idx, frame.Frame{Index: idx, Mat: gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)})
}

func TestClipRendererNotifyArmsOnceAndWritesTwoClips(t *testing.T) {
	var writers []*fakeWriter
	notifier := &fakeNotifier{}
	r, original, _ := newTestRenderer(t, 2, &writers, notifier)

	for i := frame.Index(1); i <= 6; i++ {
		insertFrame(original, i)
	}

	r.Reset(3)
	r.Notify(3)
	r.Notify(4)
	r.Notify(5) // current - detectIndex = 2 >= futureFrames, releases future latch

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if len(writers) != 2 {
		t.Fatalf("expected 2 video writers (rect + original), got %d", len(writers))
	}
	if notifier.count() != 1 {
		t.Errorf("expected exactly 1 packaged event, got %d", notifier.count())
	}
}

func TestClipRendererNotifyDoesNotReArmWhileActive(t *testing.T) {
	var writers []*fakeWriter
	notifier := &fakeNotifier{}
	r, original, _ := newTestRenderer(t, 24, &writers, notifier)
	insertFrame(original, 100)

	r.Reset(100)
	r.Notify(100)
	r.Notify(101)
	r.Notify(102)

	time.Sleep(20 * time.Millisecond)
	if len(writers) != 2 {
		t.Fatalf("expected exactly 2 writers across repeated notifies in one window, got %d", len(writers))
	}
}

func TestClipRendererResetIgnoredWithinActiveWindow(t *testing.T) {
	var writers []*fakeWriter
	notifier := &fakeNotifier{}
	r, _, _ := newTestRenderer(t, 48, &writers, notifier)

	r.Reset(100)
	r.Reset(110) // within future_frames window of 100, should be a no-op

	r.mu.Lock()
	got := r.detectIndex
	r.mu.Unlock()
	if got != 100 {
		t.Errorf("detectIndex = %d, want 100 (reset at 110 should be ignored)", got)
	}
}

func TestClipRendererInterpolateSpanSkipsOnMismatchedRectCounts(t *testing.T) {
	var writers []*fakeWriter
	notifier := &fakeNotifier{}
	r, original, renderRect := newTestRenderer(t, 10, &writers, notifier)
	insertFrame(original, 1)
	insertFrame(original, 2)

	renderFrame := frame.Frame{Index: 1, Mat: gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)}
	renderRect.WriteBoth(1, renderFrame, []frame.Rect{{X: 1, Y: 1, W: 2, H: 2}})
	renderRect.WriteBoth(3, renderFrame, []frame.Rect{{X: 1, Y: 1, W: 2, H: 2}, {X: 3, Y: 3, W: 1, H: 1}})

	fw := &fakeWriter{}
	next := r.interpolateSpan(fw, 1, 3)
	if next != 2 {
		t.Errorf("interpolateSpan with mismatched rect counts = %d, want 2 (advance by 1)", next)
	}
	if fw.count() != 1 {
		t.Errorf("interpolateSpan with mismatched rect counts wrote %d frames, want 1 (un-interpolated write before advancing)", fw.count())
	}
}
