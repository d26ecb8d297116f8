package render

import (
	"fmt"

	"gocv.io/x/gocv"
)

// VideoWriter is the minimal interface a render task writes frames through,
// letting tests substitute an in-memory fake for gocv.VideoWriter.
type VideoWriter interface {
	Write(mat gocv.Mat) error
	Close() error
}

// WriterFactory builds a VideoWriter for a target path, frame rate and
// frame size. Production code passes NewGoCVWriter; tests pass a fake.
type WriterFactory func(path string, fps float64, width, height int) (VideoWriter, error)

type gocvWriter struct {
	w *gocv.VideoWriter
}

// NewGoCVWriter opens an MP4 (MP4V fourcc) video writer at path, matching
// this codebase's existing dependency on gocv for all Mat-backed I/O.
func NewGoCVWriter(path string, fps float64, width, height int) (VideoWriter, error) {
	w, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	return &gocvWriter{w: w}, nil
}

func (g *gocvWriter) Write(mat gocv.Mat) error {
	return g.w.Write(mat)
}

func (g *gocvWriter) Close() error {
	return g.w.Close()
}
