package cache

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/kwip/internal/resource"
)

// BlockKey identifies a fixed-size block of a named blob.
type BlockKey struct {
	Name  string
	Block int64
}

// BlockCache is an LRU cache of immutable byte blocks bounded by total size.
// Returned slices must be treated as read-only.
type BlockCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[BlockKey]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type blockEntry struct {
	key   BlockKey
	value []byte
}

// NewBlockCache creates a cache holding at most capacity bytes. When rc is
// set, cached bytes are also charged against its memory budget.
func NewBlockCache(capacity int64, rc *resource.Controller) *BlockCache {
	return &BlockCache{
		capacity:  capacity,
		items:     make(map[BlockKey]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *BlockCache) Get(key BlockKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*blockEntry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. Blocks larger than the capacity are not cached, nor
// are blocks the memory budget cannot admit after evicting everything else.
func (c *BlockCache) Set(key BlockKey, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	size := int64(len(b))
	if size > c.capacity {
		return
	}

	for c.size+size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}

	for {
		err := c.rc.AcquireMemory(size)
		if err == nil {
			break
		}
		if !errors.Is(err, resource.ErrMemoryLimitExceeded) {
			return
		}
		el := c.evictList.Back()
		if el == nil {
			return
		}
		c.removeElement(el)
	}

	c.items[key] = c.evictList.PushFront(&blockEntry{key: key, value: b})
	c.size += size
}

// Invalidate drops every block of the named blob.
func (c *BlockCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var drop []*list.Element
	for key, el := range c.items {
		if key.Name == name {
			drop = append(drop, el)
		}
	}
	for _, el := range drop {
		c.removeElement(el)
	}
}

// Stats returns the hit and miss counts.
func (c *BlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the cached bytes.
func (c *BlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *BlockCache) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	kv := el.Value.(*blockEntry)
	delete(c.items, kv.key)
	size := int64(len(kv.value))
	c.size -= size
	c.rc.ReleaseMemory(size)
}
