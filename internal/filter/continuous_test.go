package filter

import (
	"testing"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/detect"
	"github.com/shanda/dolphind/internal/frame"
)

func newTestFilter(t *testing.T, detectInternal, searchWindow int) (*ContinuousFilter, *cache.FrameCache[frame.Frame]) {
	t.Helper()
	original := cache.New[frame.Frame]("original", 1000)
	pool := detect.NewPool(1, 1, detect.Threshold{}, 64, 64, detect.Params{Threshold: 127, MinContourArea: 1})
	cf := New(Config{DetectInternal: detectInternal, SearchWindow: searchWindow, Rows: 1, Cols: 1}, pool, original)
	return cf, original
}

func TestContinuousFilterFirstDetectionAlwaysEmits(t *testing.T) {
	cf, original := newTestFilter(t, 48, 24)
	f := frame.Frame{Index: 100, Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	original.Insert(100, f)

	got := cf.Evaluate(100, nil, f)
	if got != Emit {
		t.Errorf("first detection = %v, want Emit", got)
	}
}

func TestContinuousFilterBeyondDetectInternalEmits(t *testing.T) {
	cf, original := newTestFilter(t, 48, 24)
	f1 := frame.Frame{Index: 100, Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	original.Insert(100, f1)
	cf.Evaluate(100, nil, f1)

	f2 := frame.Frame{Index: 160, Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	original.Insert(160, f2)
	got := cf.Evaluate(160, nil, f2)
	if got != Emit {
		t.Errorf("detection beyond detect_internal = %v, want Emit", got)
	}
}

func TestContinuousFilterActiveWindowSuppressesImmediately(t *testing.T) {
	cf, original := newTestFilter(t, 48, 24)
	f1 := frame.Frame{Index: 100, Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	original.Insert(100, f1)
	cf.Evaluate(100, nil, f1)

	cf.mu.Lock()
	cf.filterActive = true
	cf.mu.Unlock()

	f2 := frame.Frame{Index: 110, Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	original.Insert(110, f2)
	got := cf.Evaluate(110, nil, f2)
	if got != Suppress {
		t.Errorf("within active window = %v, want Suppress", got)
	}
}

func TestContinuousFilterNoHistoryFramesEmits(t *testing.T) {
	cf, original := newTestFilter(t, 48, 24)
	f1 := frame.Frame{Index: 100, Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	original.Insert(100, f1)
	cf.Evaluate(100, nil, f1)

	f2 := frame.Frame{Index: 110, Mat: gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)}
	original.Insert(110, f2)
	// No frames [111, 134) are cached, so hit_cnt stays 0 and the Open
	// Question resolution (hit_cnt == 0 => emit) applies.
	got := cf.Evaluate(110, nil, f2)
	if got != Emit {
		t.Errorf("no history frames available = %v, want Emit", got)
	}
}
