// Package workspace creates the on-disk directory layout for each
// channel: block debug captures, frame/crop dumps, and the two clip
// directories, rooted at the configured workspace path.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved directories for one channel's workspace.
type Paths struct {
	Root               string
	FramesDir          string
	CropsDir           string
	RenderStreamsDir   string
	OriginalStreamsDir string
	BBoxJSON           string
}

// BlockDir returns the per-tile debug capture directory for (row, col).
func (p Paths) BlockDir(row, col int) string {
	return filepath.Join(p.Root, "blocks", fmt.Sprintf("%d-%d", row, col))
}

// Create builds the layout for channel index under root, for a rows x cols
// tile grid, and returns the resolved Paths.
func Create(root string, index, rows, cols int) (Paths, error) {
	channelRoot := filepath.Join(root, fmt.Sprintf("channel-%d", index))
	p := Paths{
		Root:               channelRoot,
		FramesDir:          filepath.Join(channelRoot, "frames"),
		CropsDir:           filepath.Join(channelRoot, "crops"),
		RenderStreamsDir:   filepath.Join(channelRoot, "render-streams"),
		OriginalStreamsDir: filepath.Join(channelRoot, "original-streams"),
		BBoxJSON:           filepath.Join(channelRoot, "bbox.json"),
	}

	dirs := []string{p.FramesDir, p.CropsDir, p.RenderStreamsDir, p.OriginalStreamsDir}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dirs = append(dirs, p.BlockDir(r, c))
		}
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Paths{}, fmt.Errorf("create workspace dir %s: %w", d, err)
		}
	}
	return p, nil
}
