package cache

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shanda/dolphind/internal/frame"
)

// Rects wraps a rectangle slice so it satisfies the closer constraint used
// by FrameCache; rectangle data owns no external resource, so Close is a
// no-op.
type Rects []frame.Rect

// Close implements closer.
func (Rects) Close() error { return nil }

// RenderRectCache holds RenderCache and RectCache side by side under one
// mutex so that invariant 3 of the data model ("RenderCache[i] exists iff
// RectCache[i] exists, both written atomically") holds by construction: the
// only way to write either map is WriteBoth, and the only way to evict
// either is EvictHalf, which drops matching keys from both.
type RenderRectCache struct {
	log   *slog.Logger
	mu    sync.RWMutex
	frame map[frame.Index]frame.Frame
	rects map[frame.Index]Rects
	limit int

	evicting atomic.Bool
}

// NewRenderRectCache creates a paired cache bounded to limit entries.
func NewRenderRectCache(limit int) *RenderRectCache {
	return &RenderRectCache{
		log:   slog.With("component", "cache", "cache", "render+rect"),
		frame: make(map[frame.Index]frame.Frame),
		rects: make(map[frame.Index]Rects),
		limit: limit,
	}
}

// WriteBoth atomically stores the render frame and its rectangle list under
// idx. Only the Reconstructor calls this.
func (c *RenderRectCache) WriteBoth(idx frame.Index, render frame.Frame, rects []frame.Rect) {
	c.mu.Lock()
	c.frame[idx] = render
	c.rects[idx] = Rects(rects)
	c.mu.Unlock()
}

// GetRender returns the render frame at idx, if present.
func (c *RenderRectCache) GetRender(idx frame.Index) (frame.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.frame[idx]
	return v, ok
}

// GetRects returns the rectangle list at idx, if present.
func (c *RenderRectCache) GetRects(idx frame.Index) ([]frame.Rect, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.rects[idx]
	return []frame.Rect(v), ok
}

// Len returns the number of render entries (equal to the number of rect
// entries by construction).
func (c *RenderRectCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frame)
}

// Limit returns the configured bound.
func (c *RenderRectCache) Limit() int {
	return c.limit
}

func (c *RenderRectCache) sortedKeys() []frame.Index {
	keys := make([]frame.Index, 0, len(c.frame))
	for k := range c.frame {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// EvictHalf deletes the lowest-keyed half of both maps if the cache
// currently exceeds its limit.
func (c *RenderRectCache) EvictHalf() {
	if c.Len() <= c.limit {
		return
	}
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	defer c.evicting.Store(false)

	c.mu.RLock()
	keys := c.sortedKeys()
	c.mu.RUnlock()
	if len(keys) <= c.limit {
		return
	}
	cut := len(keys) / 2

	c.mu.Lock()
	for _, k := range keys[:cut] {
		if v, ok := c.frame[k]; ok {
			_ = v.Close()
		}
		delete(c.frame, k)
		delete(c.rects, k)
	}
	remaining := len(c.frame)
	c.mu.Unlock()

	c.log.Debug("evicted half of render+rect cache", "dropped", cut, "remaining", remaining)
}

// DrainAll closes and removes every entry.
func (c *RenderRectCache) DrainAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.frame {
		_ = v.Close()
		delete(c.frame, k)
		delete(c.rects, k)
	}
}
