package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/kwip/internal/resource"
)

// ErrInvariantViolation is returned when a release does not match an
// acquire. It means the caller's bookkeeping is broken and the run must stop.
var ErrInvariantViolation = errors.New("cache: refcount invariant violated")

// LoadFunc produces the value for a key on a cache miss.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

// Config configures a Cache.
type Config[V any] struct {
	// Capacity is the number of entries kept before unpinned ones are
	// evicted. Values below 1 are treated as 1.
	Capacity int

	// SizeOf reports the bytes a value holds. Sized values are charged
	// against Controller and evicted early when its memory limit is hit.
	SizeOf func(V) int64

	Controller *resource.Controller

	// OnEvict is called after a value leaves the cache, outside the lock.
	OnEvict func(key string, v V)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Loads     int64
	Evictions int64
	Entries   int
	Pinned    int
}

type slot[V any] struct {
	key   string
	value V
	refs  int
	tick  uint64
	size  int64
	live  bool
}

type evicted[V any] struct {
	key   string
	value V
}

// Cache is a refcounted LRU cache. Get pins an entry and Unget unpins it;
// pinned entries are never evicted, so the cache may hold more than
// Capacity entries while every entry is in use.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	slots    []slot[V]
	free     []int
	index    map[string]int
	clock    uint64
	live     int

	sizeOf  func(V) int64
	onEvict func(string, V)
	rc      *resource.Controller

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	loads     atomic.Int64
	evictions atomic.Int64
}

// New creates a cache.
func New[V any](cfg Config[V]) *Cache[V] {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &Cache[V]{
		capacity: cfg.Capacity,
		slots:    make([]slot[V], 0, cfg.Capacity+1),
		index:    make(map[string]int, cfg.Capacity+1),
		sizeOf:   cfg.SizeOf,
		onEvict:  cfg.OnEvict,
		rc:       cfg.Controller,
	}
}

// Capacity returns the configured entry capacity.
func (c *Cache[V]) Capacity() int {
	return c.capacity
}

// Get returns the value for key and pins it. Every successful Get must be
// paired with exactly one Unget.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s := &c.slots[i]
	s.refs++
	s.tick = c.tickLocked()
	c.hits.Add(1)
	return s.value, true
}

// Put inserts an unpinned value for key and evicts least recently used
// unpinned entries while the cache is over capacity. Putting an existing key
// is a no-op and reports false. The inserted key itself is never chosen as a
// victim by its own Put.
func (c *Cache[V]) Put(key string, v V) bool {
	c.mu.Lock()
	if _, ok := c.index[key]; ok {
		c.mu.Unlock()
		return false
	}

	var size int64
	if c.sizeOf != nil {
		size = c.sizeOf(v)
	}

	i := c.allocLocked()
	c.slots[i] = slot[V]{key: key, value: v, tick: c.tickLocked(), size: size, live: true}
	c.index[key] = i
	c.live++

	victims := c.sweepLocked(i, nil)
	victims = c.chargeLocked(i, size, victims)
	c.mu.Unlock()

	c.notify(victims)
	return true
}

// Unget releases one pin on key. Releasing a key that is absent or not
// pinned returns ErrInvariantViolation.
func (c *Cache[V]) Unget(key string) error {
	c.mu.Lock()
	i, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: release of %q which is not cached", ErrInvariantViolation, key)
	}
	s := &c.slots[i]
	if s.refs == 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: release of %q which is not pinned", ErrInvariantViolation, key)
	}
	s.refs--

	var victims []evicted[V]
	if s.refs == 0 && c.live > c.capacity {
		// The cache grew past capacity while everything was pinned.
		victims = c.sweepLocked(-1, nil)
	}
	c.mu.Unlock()

	c.notify(victims)
	return nil
}

// Acquire returns the pinned value for key, loading it on a miss.
// Concurrent misses for the same key share a single load; the load runs
// without holding the cache lock.
func (c *Cache[V]) Acquire(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	var zero V
	for {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		_, err, _ := c.group.Do(key, func() (any, error) {
			if c.Exists(key) {
				return nil, nil
			}
			v, err := load(ctx, key)
			if err != nil {
				return nil, err
			}
			c.loads.Add(1)
			c.Put(key, v)
			return nil, nil
		})
		if err != nil {
			return zero, err
		}
	}
}

// Exists reports whether key is cached, without pinning or touching it.
func (c *Cache[V]) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[key]
	return ok
}

// Refs returns the pin count of key, or -1 if it is not cached.
func (c *Cache[V]) Refs(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[key]; ok {
		return c.slots[i].refs
	}
	return -1
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Clear drops every entry regardless of refcount and returns how many of
// them were still pinned. It is only valid once no caller holds an entry;
// an Unget for a dropped key reports ErrInvariantViolation.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	var victims []evicted[V]
	pinned := 0
	for i := range c.slots {
		s := &c.slots[i]
		if !s.live {
			continue
		}
		if s.refs > 0 {
			pinned++
		}
		victims = c.evictLocked(i, victims)
	}
	c.mu.Unlock()

	c.notify(victims)
	return pinned
}

// Stats returns activity counters and occupancy.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	entries, pinned := c.live, 0
	for i := range c.slots {
		if c.slots[i].live && c.slots[i].refs > 0 {
			pinned++
		}
	}
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
		Pinned:    pinned,
	}
}

func (c *Cache[V]) tickLocked() uint64 {
	c.clock++
	return c.clock
}

func (c *Cache[V]) allocLocked() int {
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		return i
	}
	c.slots = append(c.slots, slot[V]{})
	return len(c.slots) - 1
}

// victimLocked returns the least recently used unpinned slot other than
// keep, or -1.
func (c *Cache[V]) victimLocked(keep int) int {
	victim := -1
	oldest := uint64(math.MaxUint64)
	for i := range c.slots {
		s := &c.slots[i]
		if !s.live || s.refs > 0 || i == keep {
			continue
		}
		if s.tick < oldest {
			victim, oldest = i, s.tick
		}
	}
	return victim
}

func (c *Cache[V]) sweepLocked(keep int, victims []evicted[V]) []evicted[V] {
	for c.live > c.capacity {
		i := c.victimLocked(keep)
		if i < 0 {
			break
		}
		victims = c.evictLocked(i, victims)
	}
	return victims
}

// chargeLocked reserves size bytes for slot keep, evicting other unpinned
// entries while the memory budget refuses. A value that cannot fit is kept
// and charged anyway since the caller is about to pin it.
func (c *Cache[V]) chargeLocked(keep int, size int64, victims []evicted[V]) []evicted[V] {
	if size <= 0 || c.rc == nil {
		return victims
	}
	for c.rc.AcquireMemory(size) != nil {
		i := c.victimLocked(keep)
		if i < 0 {
			c.rc.ForceMemory(size)
			break
		}
		victims = c.evictLocked(i, victims)
	}
	return victims
}

func (c *Cache[V]) evictLocked(i int, victims []evicted[V]) []evicted[V] {
	s := &c.slots[i]
	delete(c.index, s.key)
	c.rc.ReleaseMemory(s.size)
	if c.onEvict != nil {
		victims = append(victims, evicted[V]{key: s.key, value: s.value})
	}
	c.slots[i] = slot[V]{}
	c.free = append(c.free, i)
	c.live--
	c.evictions.Add(1)
	return victims
}

func (c *Cache[V]) notify(victims []evicted[V]) {
	for _, e := range victims {
		c.onEvict(e.key, e.value)
	}
}
