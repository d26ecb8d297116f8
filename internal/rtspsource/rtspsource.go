// Package rtspsource adapts an RTSP URL into a dispatch.Source, the one
// concrete FrameSource implementation the core actually runs against. The
// core treats FrameSource as an external collaborator; this is that
// collaborator's boundary, kept deliberately thin.
package rtspsource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/shanda/dolphind/internal/frame"
)

const reconnectFloor = 2 * time.Second

// Source opens an RTSP stream via gocv's VideoCapture and reconnects on
// read failure, matching the dial-with-timeout-then-floor-backoff shape
// used elsewhere in the core's own reconnecting collaborators.
type Source struct {
	log *slog.Logger
	url string

	cap *gocv.VideoCapture
}

// New returns a Source that lazily opens url on the first call to Next.
func New(url string) *Source {
	return &Source{
		log: slog.With("component", "rtsp-source", "url", url),
		url: url,
	}
}

// Next implements dispatch.Source. It blocks briefly waiting for the next
// decoded frame, reconnecting the capture on read failure, and returns
// ok=false only when ctx is cancelled.
func (s *Source) Next(ctx context.Context) (frame.Frame, bool, error) {
	for {
		if ctx.Err() != nil {
			return frame.Frame{}, false, nil
		}

		if s.cap == nil {
			if !s.connect(ctx) {
				continue
			}
		}

		mat := gocv.NewMat()
		if ok := s.cap.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			s.log.Warn("rtsp read failed, reconnecting")
			s.closeCapture()
			select {
			case <-ctx.Done():
				return frame.Frame{}, false, nil
			case <-time.After(reconnectFloor):
			}
			continue
		}

		return frame.Frame{Mat: mat}, true, nil
	}
}

// connect attempts to open the capture once, sleeping out the reconnect
// floor on failure. Returns false if the caller should retry (either after
// a failed attempt or because ctx was cancelled mid-wait).
func (s *Source) connect(ctx context.Context) bool {
	cap, err := gocv.OpenVideoCapture(s.url)
	if err != nil {
		s.log.Warn("failed to open rtsp capture, will retry", "error", fmt.Errorf("open rtsp capture %s: %w", s.url, err))
		select {
		case <-ctx.Done():
		case <-time.After(reconnectFloor):
		}
		return false
	}
	s.cap = cap
	s.log.Info("rtsp capture opened")
	return true
}

func (s *Source) closeCapture() {
	if s.cap != nil {
		_ = s.cap.Close()
		s.cap = nil
	}
}

// Close releases the underlying capture, if open.
func (s *Source) Close() error {
	s.closeCapture()
	return nil
}
