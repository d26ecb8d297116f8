package detect

import (
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/frame"
)

func TestThresholdDetectFindsBrightBlock(t *testing.T) {
	mat := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()

	bright := mat.Region(image.Rect(20, 20, 35, 35))
	bright.SetTo(gocv.NewScalar(255, 255, 255, 0))
	bright.Close()

	block := frame.TileBlock{Index: 1, Row: 0, Col: 0, Mat: mat}
	params := Params{Threshold: 127, MinContourArea: 50, MaxRectsPerFrame: 8}

	det := Threshold{}
	result, err := det.Detect(block, params)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	defer result.Close()

	if len(result.Rects) == 0 {
		t.Fatal("expected at least one candidate rectangle")
	}
}

func TestPoolDispatchCollectsAllTiles(t *testing.T) {
	rows, cols := 2, 2
	tileW, tileH := 32, 32
	det := Threshold{}
	pool := NewPool(rows, cols, det, tileW, tileH, Params{Threshold: 127, MinContourArea: 10, MaxRectsPerFrame: 8})

	blocks := make([][]frame.TileBlock, rows)
	for r := 0; r < rows; r++ {
		blocks[r] = make([]frame.TileBlock, cols)
		for c := 0; c < cols; c++ {
			m := gocv.NewMatWithSize(tileH, tileW, gocv.MatTypeCV8UC3)
			blocks[r][c] = frame.TileBlock{Index: 1, Row: r, Col: c, Mat: m}
		}
	}
	defer func() {
		for r := range blocks {
			for c := range blocks[r] {
				_ = blocks[r][c].Close()
			}
		}
	}()

	results, err := pool.Dispatch(blocks)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	defer func() {
		for _, r := range results {
			_ = r.Close()
		}
	}()

	if len(results) != rows*cols {
		t.Fatalf("got %d results, want %d", len(results), rows*cols)
	}
}
