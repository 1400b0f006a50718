package bitset

import (
	"math/bits"
	"sync/atomic"
)

// BitSet is a fixed-size, lock-free bitset.
type BitSet struct {
	words []atomic.Uint64
	size  uint64
}

// New creates a BitSet of size bits, all clear.
func New(size uint64) *BitSet {
	return &BitSet{
		words: make([]atomic.Uint64, (size+63)/64),
		size:  size,
	}
}

// Len returns the number of bits.
func (b *BitSet) Len() uint64 { return b.size }

// Set sets bit i. Out of range indices are ignored.
func (b *BitSet) Set(i uint64) {
	if i >= b.size {
		return
	}
	b.words[i/64].Or(1 << (i % 64))
}

// TestAndSet sets bit i and returns true if it was already set.
func (b *BitSet) TestAndSet(i uint64) bool {
	if i >= b.size {
		return false
	}
	mask := uint64(1) << (i % 64)
	return b.words[i/64].Or(mask)&mask != 0
}

// Unset clears bit i.
func (b *BitSet) Unset(i uint64) {
	if i >= b.size {
		return
	}
	b.words[i/64].And(^(uint64(1) << (i % 64)))
}

// Test reports whether bit i is set.
func (b *BitSet) Test(i uint64) bool {
	if i >= b.size {
		return false
	}
	return b.words[i/64].Load()&(1<<(i%64)) != 0
}

// Count returns the number of set bits.
func (b *BitSet) Count() uint64 {
	var n int
	for i := range b.words {
		n += bits.OnesCount64(b.words[i].Load())
	}
	return uint64(n)
}

// All reports whether every bit is set.
func (b *BitSet) All() bool {
	return b.Count() == b.size
}

// NextClear returns the first clear bit at or after i.
func (b *BitSet) NextClear(i uint64) (uint64, bool) {
	for i < b.size {
		w := i / 64
		// Bits below i and past size count as set.
		inv := ^b.words[w].Load() &^ (1<<(i%64) - 1)
		if inv != 0 {
			j := w*64 + uint64(bits.TrailingZeros64(inv))
			if j < b.size {
				return j, true
			}
			return 0, false
		}
		i = (w + 1) * 64
	}
	return 0, false
}

// ClearAll clears every bit.
func (b *BitSet) ClearAll() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}
