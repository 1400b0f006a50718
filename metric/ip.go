package metric

import (
	"context"
	"math"

	"github.com/viterin/vek"

	"github.com/hupe1980/kwip/sketch"
)

// IP is the inner-product kernel.
type IP struct{}

func (IP) Name() string { return "ip" }

func (IP) Kind() Kind { return KindKernel }

// Compare returns Σ aᵢbᵢ.
func (IP) Compare(ctx context.Context, a, b sketch.Source) (float64, error) {
	s := getScratch()
	defer putScratch(s)

	var kernel float64
	err := walk(ctx, a, b, func(_ int, x, y []uint32) {
		fa, fb := s.load(x, y)
		kernel += vek.Dot(fa, fb)
	})
	if err != nil {
		return 0, err
	}
	return kernel, nil
}

// Norm returns ‖s‖₂.
func (IP) Norm(ctx context.Context, src sketch.Source) (float64, error) {
	return l2Norm(ctx, src)
}

func l2Norm(ctx context.Context, src sketch.Source) (float64, error) {
	s := getScratch()
	defer putScratch(s)

	var sum float64
	err := walkOne(ctx, src, func(_ int, x []uint32) {
		fa, _ := s.load(x, x)
		sum += vek.Dot(fa, fa)
	})
	if err != nil {
		return 0, err
	}
	return math.Sqrt(sum), nil
}
