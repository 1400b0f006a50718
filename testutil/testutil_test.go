package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountsRange(t *testing.T) {
	rng := NewRNG(4711)

	c := rng.Counts(1000, 7)

	assert.Len(t, c, 1000)
	for _, v := range c {
		assert.LessOrEqual(t, v, uint32(7))
	}
}

func TestSparseCountsDensity(t *testing.T) {
	rng := NewRNG(4711)

	c := rng.SparseCounts(10000, 0.1, 255)

	nonzero := 0
	for _, v := range c {
		if v > 0 {
			nonzero++
		}
	}
	assert.InDelta(t, 1000, nonzero, 200)
}

func TestResetReproduces(t *testing.T) {
	rng := NewRNG(42)
	a := rng.Counts(64, 100)
	rng.Reset()
	b := rng.Counts(64, 100)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(42), rng.Seed())
}

func TestPopulationSharesCore(t *testing.T) {
	rng := NewRNG(7)

	pop := rng.Population(3, 512, 50)

	assert.Len(t, pop, 3)
	for _, v := range pop {
		assert.Len(t, v, 512)
		for _, c := range v {
			assert.LessOrEqual(t, c, uint32(50))
		}
	}
}
