package testutil

import (
	"math/rand"
	"sync"
)

// RNG is a seeded random source that is safe for concurrent use.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Reset rewinds the RNG to its seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Counts returns n counts drawn uniformly from [0, maxCount].
func (r *RNG) Counts(n int, maxCount uint32) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(r.rand.Int63n(int64(maxCount) + 1))
	}
	return out
}

// SparseCounts returns n counts where each bin is occupied with
// probability density. Occupied bins hold a geometric count capped at
// maxCount, which mimics k-mer abundance.
func (r *RNG) SparseCounts(n int, density float64, maxCount uint32) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint32, n)
	for i := range out {
		if r.rand.Float64() >= density {
			continue
		}
		c := uint32(1)
		for c < maxCount && r.rand.Float64() < 0.5 {
			c++
		}
		out[i] = c
	}
	return out
}

// Population returns samples count vectors of length n that share a
// common core of occupied bins, so that pairwise kernels are non-trivial.
func (r *RNG) Population(samples, n int, maxCount uint32) [][]uint32 {
	core := r.SparseCounts(n, 0.3, maxCount)

	out := make([][]uint32, samples)
	for s := range out {
		own := r.SparseCounts(n, 0.1, maxCount)
		v := make([]uint32, n)
		for i := range v {
			v[i] = min(core[i]+own[i], maxCount)
		}
		out[s] = v
	}
	return out
}
