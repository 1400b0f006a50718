// Package pool provides typed object pools for scratch buffers that are
// reused across comparisons.
package pool

import "sync"

// Pool is a typed wrapper around sync.Pool.
type Pool[T any] struct {
	p     sync.Pool
	reset func(T)
}

// New returns a pool that allocates with newFn. reset, when non-nil, runs
// on every value handed back by Get.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		p:     sync.Pool{New: func() any { return newFn() }},
		reset: reset,
	}
}

// Get retrieves a value from the pool, allocating when empty.
func (p *Pool[T]) Get() T {
	v := p.p.Get().(T)
	if p.reset != nil {
		p.reset(v)
	}
	return v
}

// Put returns v to the pool.
func (p *Pool[T]) Put(v T) {
	p.p.Put(v)
}

// Buffers is a pool of byte slices bucketed by capacity.
type Buffers struct {
	p *Pool[*[]byte]
	// max is the largest capacity kept. Larger buffers are dropped on Put.
	max int
}

// NewBuffers returns a buffer pool keeping slices up to maxCap bytes.
func NewBuffers(maxCap int) *Buffers {
	return &Buffers{
		p: New(func() *[]byte {
			b := make([]byte, 0, 4096)
			return &b
		}, nil),
		max: maxCap,
	}
}

// Get returns a slice of length n.
func (b *Buffers) Get(n int) *[]byte {
	buf := b.p.Get()
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	*buf = (*buf)[:n]
	return buf
}

// Put returns buf to the pool.
func (b *Buffers) Put(buf *[]byte) {
	if buf == nil || (b.max > 0 && cap(*buf) > b.max) {
		return
	}
	*buf = (*buf)[:0]
	b.p.Put(buf)
}
