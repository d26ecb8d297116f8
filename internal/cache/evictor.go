package cache

// Evictable is any cache that can report its size and limit and evict its
// own lowest-keyed half.
type Evictable interface {
	Len() int
	Limit() int
	EvictHalf()
}

// Evictor is the one background task shared by every cache in a pipeline.
// It does not own a goroutine of its own; instead each call to Check spawns
// at most one short-lived background goroutine per cache (EvictHalf itself
// guards against overlapping runs), matching the "one-shot background task"
// eviction model.
type Evictor struct{}

// NewEvictor returns an Evictor. It carries no state; a single instance is
// shared by every cache a pipeline owns.
func NewEvictor() *Evictor { return &Evictor{} }

// Check triggers a background eviction of c if it is currently over its
// limit. Safe to call after every insert and after every reconstruction, as
// the Dispatcher and Reconstructor require after each sample.
func (e *Evictor) Check(c Evictable) {
	if c.Len() > c.Limit() {
		go c.EvictHalf()
	}
}
