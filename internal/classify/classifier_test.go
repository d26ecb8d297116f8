package classify

import (
	"image"
	"testing"

	"gocv.io/x/gocv"
)

func TestVarianceThresholdMissOnFlatPatch(t *testing.T) {
	patch := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer patch.Close()
	patch.SetTo(gocv.NewScalar(128, 128, 128, 0))

	c := VarianceThreshold{Min: 10}
	if got := c.Predict(patch); got != Miss {
		t.Errorf("Predict(flat) = %v, want Miss", got)
	}
}

func TestVarianceThresholdHitOnTexturedPatch(t *testing.T) {
	patch := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer patch.Close()
	patch.SetTo(gocv.NewScalar(0, 0, 0, 0))
	half := patch.Region(image.Rect(0, 0, 32, 16))
	half.SetTo(gocv.NewScalar(255, 255, 255, 0))
	half.Close()

	c := VarianceThreshold{Min: 10}
	if got := c.Predict(patch); got != Hit {
		t.Errorf("Predict(textured) = %v, want Hit", got)
	}
}

func TestVarianceThresholdMissOnEmptyPatch(t *testing.T) {
	c := VarianceThreshold{Min: 10}
	if got := c.Predict(gocv.NewMat()); got != Miss {
		t.Errorf("Predict(empty) = %v, want Miss", got)
	}
}
