package metric

import (
	"context"
	"math"

	"github.com/viterin/vek"

	"github.com/hupe1980/kwip/sketch"
)

// L2 is the squared Euclidean distance scaled by both norms.
type L2 struct{}

func (L2) Name() string { return "l2" }

func (L2) Kind() Kind { return KindDistance }

// Compare returns Σ(aᵢ-bᵢ)² / (‖a‖₂‖b‖₂), or 0 if either norm is 0.
func (L2) Compare(ctx context.Context, a, b sketch.Source) (float64, error) {
	s := getScratch()
	defer putScratch(s)

	var dist, sqA, sqB float64
	err := walk(ctx, a, b, func(_ int, x, y []uint32) {
		fa, fb := s.load(x, y)
		diff := vek.Sub_Into(s.tmp(len(fa)), fa, fb)
		dist += vek.Dot(diff, diff)
		sqA += vek.Dot(fa, fa)
		sqB += vek.Dot(fb, fb)
	})
	if err != nil {
		return 0, err
	}
	if sqA == 0 || sqB == 0 {
		return 0, nil
	}
	return dist / math.Sqrt(sqA*sqB), nil
}

// Norm returns ‖s‖₂.
func (L2) Norm(ctx context.Context, src sketch.Source) (float64, error) {
	return l2Norm(ctx, src)
}
