// Package classify defines the binary classifier contract the Reconstructor
// consults on each candidate rectangle, plus a variance-based default
// implementation usable before a real model is wired in.
package classify

import "gocv.io/x/gocv"

// Verdict mirrors the external predict() contract: 0 means hit (confirmed
// candidate), nonzero means miss.
type Verdict int

const (
	Hit  Verdict = 0
	Miss Verdict = 1
)

// Classifier predicts whether a cropped candidate patch is a real detection.
// Implementations must be safe for concurrent use; the Reconstructor calls
// Predict synchronously, one patch at a time, so no internal locking is
// required by callers, but a real model client might be shared across
// pipelines and must guard its own state.
type Classifier interface {
	Predict(patch gocv.Mat) Verdict
}

// VarianceThreshold is a placeholder Classifier: it confirms a patch as a
// hit when its grayscale pixel variance exceeds Min, on the theory that a
// textureless patch (sky, flat water) is almost certainly a false positive.
// Real deployments replace this with a trained model client.
type VarianceThreshold struct {
	Min float64
}

// Predict implements Classifier.
func (v VarianceThreshold) Predict(patch gocv.Mat) Verdict {
	if patch.Empty() {
		return Miss
	}
	gray := gocv.NewMat()
	defer gray.Close()
	if patch.Channels() == 3 {
		gocv.CvtColor(patch, &gray, gocv.ColorBGRToGray)
	} else {
		gray = patch.Clone()
	}

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(gray, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	if sd*sd > v.Min {
		return Hit
	}
	return Miss
}
