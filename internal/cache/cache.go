// Package cache implements the bounded frame-index-keyed caches shared
// across one stream pipeline: OriginalCache, and the paired
// RenderCache/RectCache. Each cache has a single writer and multiple
// readers; eviction runs as a one-shot background task driven by a shared
// Evictor, halving the cache by its lowest keys rather than dropping a
// single entry at a time, which amortizes deletion cost and preserves the
// newest frames most likely needed by an in-flight ClipRenderer.
package cache

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shanda/dolphind/internal/frame"
)

// closer is implemented by cache values that own a resource (a gocv.Mat)
// that must be released on eviction.
type closer interface {
	Close() error
}

// FrameCache is a bounded, single-writer, multi-reader map keyed by
// frame.Index. V is typically frame.Frame (OriginalCache, RenderCache).
type FrameCache[V closer] struct {
	log   *slog.Logger
	mu    sync.RWMutex
	items map[frame.Index]V
	limit int

	evicting atomic.Bool
}

// New creates a FrameCache bounded to limit entries (eviction halves the
// cache once size exceeds limit).
func New[V closer](name string, limit int) *FrameCache[V] {
	return &FrameCache[V]{
		log:   slog.With("component", "cache", "cache", name),
		items: make(map[frame.Index]V),
		limit: limit,
	}
}

// Insert stores v under idx. The sole writer (Dispatcher for
// OriginalCache) is responsible for calling Insert in index order.
func (c *FrameCache[V]) Insert(idx frame.Index, v V) {
	c.mu.Lock()
	c.items[idx] = v
	c.mu.Unlock()
}

// Get returns the value at idx, if present.
func (c *FrameCache[V]) Get(idx frame.Index) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[idx]
	return v, ok
}

// Len returns the current number of entries.
func (c *FrameCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Limit returns the configured bound.
func (c *FrameCache[V]) Limit() int {
	return c.limit
}

// Keys returns a sorted snapshot of the cache's current keys.
func (c *FrameCache[V]) Keys() []frame.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]frame.Index, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// EvictHalf deletes the lowest-keyed half of the cache if it currently
// exceeds its limit. It is safe to call from any goroutine; concurrent
// calls while an eviction is already running are no-ops, so the evictor may
// fire-and-forget after every insert without piling up goroutines.
func (c *FrameCache[V]) EvictHalf() {
	if c.Len() <= c.limit {
		return
	}
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	defer c.evicting.Store(false)

	keys := c.Keys()
	if len(keys) <= c.limit {
		return
	}
	cut := len(keys) / 2

	c.mu.Lock()
	for _, k := range keys[:cut] {
		if v, ok := c.items[k]; ok {
			_ = v.Close()
			delete(c.items, k)
		}
	}
	remaining := len(c.items)
	c.mu.Unlock()

	c.log.Debug("evicted half of cache", "dropped", cut, "remaining", remaining)
}

// DrainAll closes and removes every entry. The pipeline's shutdown path does
// not call it; entries are released only by EvictHalf.
func (c *FrameCache[V]) DrainAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.items {
		_ = v.Close()
		delete(c.items, k)
	}
}
