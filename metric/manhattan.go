package metric

import (
	"context"

	"github.com/viterin/vek"

	"github.com/hupe1980/kwip/sketch"
)

// Manhattan is the L1 distance normalised by the combined count mass.
type Manhattan struct{}

func (Manhattan) Name() string { return "manhattan" }

func (Manhattan) Kind() Kind { return KindDistance }

// Compare returns Σ|aᵢ-bᵢ| / (Σaᵢ + Σbᵢ), or 0 for two empty sketches.
func (Manhattan) Compare(ctx context.Context, a, b sketch.Source) (float64, error) {
	s := getScratch()
	defer putScratch(s)

	var dist, sumA, sumB float64
	err := walk(ctx, a, b, func(_ int, x, y []uint32) {
		fa, fb := s.load(x, y)
		dist += vek.ManhattanDistance(fa, fb)
		sumA += vek.Sum(fa)
		sumB += vek.Sum(fb)
	})
	if err != nil {
		return 0, err
	}
	if sumA+sumB == 0 {
		return 0, nil
	}
	return dist / (sumA + sumB), nil
}

// Norm returns Σaᵢ.
func (Manhattan) Norm(ctx context.Context, src sketch.Source) (float64, error) {
	s := getScratch()
	defer putScratch(s)

	var sum float64
	err := walkOne(ctx, src, func(_ int, x []uint32) {
		fa, _ := s.load(x, x)
		sum += vek.Sum(fa)
	})
	if err != nil {
		return 0, err
	}
	return sum, nil
}
