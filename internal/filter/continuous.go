// Package filter implements the ContinuousFilter: a histogram-similarity
// debounce that suppresses repeat alerts from the same drifting object
// within a short window after a confirmed detection.
package filter

import (
	"log/slog"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/cache"
	"github.com/shanda/dolphind/internal/detect"
	"github.com/shanda/dolphind/internal/frame"
	"github.com/shanda/dolphind/internal/tiling"
)

// Decision is the outcome of evaluating a confirmed candidate.
type Decision int

const (
	Emit Decision = iota
	Suppress
)

// Config holds the ContinuousFilter's tunables, sourced from
// PipelineConfig's detect_internal and search_window_size fields.
type Config struct {
	DetectInternal   int
	SearchWindow     int
	SimilarityThresh float64 // default 0.6
	Rows, Cols       int
	DetectParams     detect.Params
}

// ContinuousFilter holds the per-pipeline debounce state described in
// the per-pipeline debounce state.
type ContinuousFilter struct {
	log   *slog.Logger
	cfg   Config
	pool  *detect.Pool
	cache *cache.FrameCache[frame.Frame]

	mu               sync.Mutex
	lastDetectionIdx frame.Index
	filterActive     bool
}

// New creates a ContinuousFilter. pool re-runs the tile kernel (no
// classifier) over history frames during the post-detection hit test;
// original is the OriginalCache it reads those history frames from.
func New(cfg Config, pool *detect.Pool, original *cache.FrameCache[frame.Frame]) *ContinuousFilter {
	if cfg.SimilarityThresh == 0 {
		cfg.SimilarityThresh = 0.6
	}
	return &ContinuousFilter{
		log:              slog.With("component", "continuous-filter"),
		cfg:              cfg,
		pool:             pool,
		cache:            original,
		lastDetectionIdx: -1,
	}
}

// Evaluate runs the continuous-detection debounce for a confirmed candidate at
// index, given the already-computed tile detection results for that frame
// (current_rects_t in the spec's notation) and the original full frame they
// came from.
func (f *ContinuousFilter) Evaluate(index frame.Index, currentResults []frame.DetectionResult, original frame.Frame) Decision {
	f.mu.Lock()
	delta := index - f.lastDetectionIdx
	if f.lastDetectionIdx == -1 || int(delta) > f.cfg.DetectInternal {
		f.lastDetectionIdx = index
		f.filterActive = false
		f.mu.Unlock()
		return Emit
	}
	if f.filterActive {
		f.mu.Unlock()
		f.log.Debug("suppressed: filter window active", "index", index)
		return Suppress
	}
	f.mu.Unlock()

	// 0 < delta <= detect_internal: run the post-detection hit test.
	avg, hitCnt := f.postDetectionSimilarity(index, currentResults, original)

	f.mu.Lock()
	defer f.mu.Unlock()
	if hitCnt > 0 && avg >= f.cfg.SimilarityThresh {
		f.filterActive = true
		f.log.Info("suppressed: same object drifting", "index", index, "avg_similarity", avg, "samples", hitCnt)
		return Suppress
	}
	f.lastDetectionIdx = index
	f.filterActive = false
	return Emit
}

// postDetectionSimilarity implements the [index+1, index+search_window_size)
// look-ahead: for each history frame present in the
// cache, re-run the tile kernel and accumulate histogram cosine similarity
// between this frame's candidate rectangles and the history frame's.
func (f *ContinuousFilter) postDetectionSimilarity(index frame.Index, currentResults []frame.DetectionResult, original frame.Frame) (avg float64, hitCnt int) {
	var hitSum float64

	for idx := index + 1; idx < index+frame.Index(f.cfg.SearchWindow); idx++ {
		historyFrame, ok := f.cache.Get(idx)
		if !ok {
			continue
		}

		histResults, err := f.detectTiles(historyFrame)
		if err != nil {
			f.log.Warn("post-detection tile re-detect failed", "index", idx, "error", err)
			continue
		}

		byRowCol := indexResults(histResults)
		for _, cur := range currentResults {
			hist, ok := byRowCol[[2]int{cur.Row, cur.Col}]
			if !ok {
				continue
			}
			n := min(len(cur.Rects), len(hist.Rects))
			for k := 0; k < n; k++ {
				sim := histogramCosineSimilarity(original.Mat, cur.Rects[k], historyFrame.Mat, hist.Rects[k])
				hitSum += sim
				hitCnt++
			}
		}
		closeResults(histResults)
	}

	if hitCnt == 0 {
		return 0, 0
	}
	return hitSum / float64(hitCnt), hitCnt
}

func (f *ContinuousFilter) detectTiles(fr frame.Frame) ([]frame.DetectionResult, error) {
	blocks := tiling.Split(fr, f.cfg.Rows, f.cfg.Cols)
	defer func() {
		for r := range blocks {
			for c := range blocks[r] {
				_ = blocks[r][c].Close()
			}
		}
	}()
	return f.pool.Dispatch(blocks)
}

func indexResults(results []frame.DetectionResult) map[[2]int]frame.DetectionResult {
	m := make(map[[2]int]frame.DetectionResult, len(results))
	for _, r := range results {
		m[[2]int{r.Row, r.Col}] = r
	}
	return m
}

func closeResults(results []frame.DetectionResult) {
	for _, r := range results {
		_ = r.Close()
	}
}

// histogramCosineSimilarity computes cosine similarity between the RGB
// color histograms of the two rectangle crops, a scale/rotation-tolerant
// proxy for "is this the same drifting object".
func histogramCosineSimilarity(curMat gocv.Mat, curRect frame.Rect, histMat gocv.Mat, histRect frame.Rect) float64 {
	curPatch := curMat.Region(curRect.ToImageRect())
	defer curPatch.Close()
	histPatch := histMat.Region(histRect.ToImageRect())
	defer histPatch.Close()

	h1 := colorHistogram(curPatch)
	defer h1.Close()
	h2 := colorHistogram(histPatch)
	defer h2.Close()

	return cosineSimilarity(h1, h2)
}

func colorHistogram(patch gocv.Mat) gocv.Mat {
	hist := gocv.NewMat()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.CalcHist([]gocv.Mat{patch}, []int{0, 1, 2}, mask, &hist, []int{8, 8, 8}, []float64{0, 256, 0, 256, 0, 256}, false)
	return hist
}

func cosineSimilarity(a, b gocv.Mat) float64 {
	// The 8x8x8 histogram is a 3-D Mat (Rows/Cols report -1), so compare its
	// flat float32 data rather than indexing by row and column.
	as, err := a.DataPtrFloat32()
	if err != nil {
		return 0
	}
	bs, err := b.DataPtrFloat32()
	if err != nil {
		return 0
	}
	var dot, normA, normB float64
	for i := 0; i < min(len(as), len(bs)); i++ {
		av, bv := float64(as[i]), float64(bs[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
