package metric

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"github.com/viterin/vek"

	"github.com/hupe1980/kwip/internal/conv"
	"github.com/hupe1980/kwip/sketch"
)

const weightsSignature = "kwip-wip-weights"

// WIP is the entropy-weighted inner-product kernel. Each bin is weighted
// by the Shannon entropy of its presence across the population, so bins
// that every sample or no sample occupies contribute nothing.
// Normalisation spans every hash table of the sketch at once.
type WIP struct {
	mu      sync.RWMutex
	weights []float64
	workers int
}

// WIPOption configures a WIP kernel.
type WIPOption func(*WIP)

// WithWorkers bounds how many samples Prepare reads at once.
func WithWorkers(n int) WIPOption {
	return func(w *WIP) { w.workers = n }
}

// WithWeights supplies precomputed bin weights, making Prepare a no-op.
func WithWeights(weights []float64) WIPOption {
	return func(w *WIP) { w.weights = weights }
}

// NewWIP returns an unprepared WIP kernel.
func NewWIP(opts ...WIPOption) *WIP {
	w := &WIP{workers: runtime.NumCPU()}
	for _, fn := range opts {
		fn(w)
	}
	return w
}

func (*WIP) Name() string { return "wip" }

func (*WIP) Kind() Kind { return KindKernel }

// Weights returns the bin weights, or nil before Prepare.
func (w *WIP) Weights() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.weights
}

// Prepare counts, for every bin, how many samples of the population have a
// non-zero count there and derives the bin entropies. It is skipped when
// weights are already set.
func (w *WIP) Prepare(ctx context.Context, population []sketch.Source) error {
	if w.Weights() != nil {
		return nil
	}
	if len(population) == 0 {
		return fmt.Errorf("%w: empty population", ErrNotPrepared)
	}

	first := population[0].Header()
	for _, s := range population[1:] {
		if err := sketch.CheckCompatible(first, s.Header()); err != nil {
			return err
		}
	}
	bins, err := conv.Uint64ToInt(first.Length)
	if err != nil {
		return fmt.Errorf("wip population pass: %w", err)
	}
	occupied := make([]uint32, bins)

	p := pool.New().WithMaxGoroutines(max(w.workers, 1)).WithContext(ctx).WithCancelOnError()
	for _, src := range population {
		p.Go(func(ctx context.Context) error {
			return walkOne(ctx, src, func(off int, x []uint32) {
				for i, c := range x {
					if c > 0 {
						atomic.AddUint32(&occupied[off+i], 1)
					}
				}
			})
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("wip population pass: %w", err)
	}

	n := float64(len(population))
	weights := make([]float64, len(occupied))
	for i, c := range occupied {
		weights[i] = binEntropy(float64(c) / n)
	}

	w.mu.Lock()
	w.weights = weights
	w.mu.Unlock()
	return nil
}

// binEntropy is the two-state Shannon entropy of presence frequency p.
func binEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

// Compare returns Σ aᵢbᵢwᵢ / (‖a‖₂‖b‖₂), or 0 if either sketch is empty.
func (w *WIP) Compare(ctx context.Context, a, b sketch.Source) (float64, error) {
	weights := w.Weights()
	if weights == nil {
		return 0, ErrNotPrepared
	}
	if h := a.Header(); h.Length != uint64(len(weights)) {
		return 0, &sketch.DimensionMismatchError{Field: "weights", A: h.Length, B: uint64(len(weights))}
	}

	s := getScratch()
	defer putScratch(s)

	var kernel, sqA, sqB float64
	err := walk(ctx, a, b, func(off int, x, y []uint32) {
		fa, fb := s.load(x, y)
		prod := vek.Mul_Into(s.tmp(len(fa)), fa, fb)
		kernel += vek.Dot(prod, weights[off:off+len(prod)])
		sqA += vek.Dot(fa, fa)
		sqB += vek.Dot(fb, fb)
	})
	if err != nil {
		return 0, err
	}
	if sqA == 0 || sqB == 0 {
		return 0, nil
	}
	return kernel / math.Sqrt(sqA*sqB), nil
}

// SaveWeights writes the weights as a signature line followed by one
// "bin\tweight" line per bin.
func (w *WIP) SaveWeights(dst io.Writer) error {
	weights := w.Weights()
	if weights == nil {
		return ErrNotPrepared
	}

	bw := bufio.NewWriter(dst)
	fmt.Fprintf(bw, "%s\t%d\n", weightsSignature, len(weights))
	for i, v := range weights {
		bw.WriteString(strconv.Itoa(i))
		bw.WriteByte('\t')
		bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// LoadWeights reads weights written by SaveWeights and installs them.
func (w *WIP) LoadWeights(src io.Reader) error {
	sc := bufio.NewScanner(src)
	if !sc.Scan() {
		return fmt.Errorf("wip weights: missing signature: %w", sc.Err())
	}
	sig, count, ok := strings.Cut(sc.Text(), "\t")
	if !ok || sig != weightsSignature {
		return fmt.Errorf("wip weights: bad signature %q", sc.Text())
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return fmt.Errorf("wip weights: invalid bin count %q", count)
	}

	weights := make([]float64, n)
	seen := 0
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		idx, val, ok := strings.Cut(line, "\t")
		if !ok {
			return fmt.Errorf("wip weights: malformed line %q", line)
		}
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= n {
			return fmt.Errorf("wip weights: bin %q out of range", idx)
		}
		if weights[i], err = strconv.ParseFloat(val, 64); err != nil {
			return fmt.Errorf("wip weights: bin %d: %w", i, err)
		}
		seen++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("wip weights: %w", err)
	}
	if seen != n {
		return fmt.Errorf("wip weights: read %d of %d bins", seen, n)
	}

	w.mu.Lock()
	w.weights = weights
	w.mu.Unlock()
	return nil
}
