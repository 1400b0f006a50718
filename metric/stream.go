package metric

import (
	"context"
	"errors"
	"io"
	"reflect"

	"github.com/hupe1980/kwip/internal/pool"
	"github.com/hupe1980/kwip/sketch"
)

// walk feeds aligned runs of a and b to fn. off is the position of the
// run within the sketch. Runs never span a block boundary of either
// source, so fn sees at most one block's worth of counts.
func walk(ctx context.Context, a, b sketch.Source, fn func(off int, x, y []uint32)) error {
	ha, hb := a.Header(), b.Header()
	if err := sketch.CheckCompatible(ha, hb); err != nil {
		return err
	}
	if sameSource(a, b) {
		return walkOne(ctx, a, func(off int, x []uint32) { fn(off, x, x) })
	}

	ia, err := a.Blocks(ctx)
	if err != nil {
		return err
	}
	defer ia.Close()

	ib, err := b.Blocks(ctx)
	if err != nil {
		return err
	}
	defer ib.Close()

	var (
		bufA, bufB []uint32
		x, y       []uint32
		off        int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(x) == 0 {
			if x, err = next(ctx, ia, bufA); err != nil {
				return err
			}
			bufA = x
		}
		if len(y) == 0 {
			if y, err = next(ctx, ib, bufB); err != nil {
				return err
			}
			bufB = y
		}

		switch {
		case len(x) == 0 && len(y) == 0:
			return nil
		case len(x) == 0 || len(y) == 0:
			return &sketch.DimensionMismatchError{Field: "stream length", A: uint64(off + len(x)), B: uint64(off + len(y))}
		}

		n := min(len(x), len(y))
		fn(off, x[:n], y[:n])
		x, y = x[n:], y[n:]
		off += n
	}
}

// sameSource reports whether a and b are the same value, in which case a
// single traversal serves both sides.
func sameSource(a, b sketch.Source) bool {
	ta := reflect.TypeOf(a)
	return ta == reflect.TypeOf(b) && ta.Comparable() && a == b
}

// walkOne feeds the blocks of s to fn.
func walkOne(ctx context.Context, s sketch.Source, fn func(off int, x []uint32)) error {
	it, err := s.Blocks(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	var (
		buf []uint32
		off int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		x, err := next(ctx, it, buf)
		if err != nil {
			return err
		}
		if len(x) == 0 {
			return nil
		}
		buf = x
		fn(off, x)
		off += len(x)
	}
}

// next returns the next block, or an empty slice at the end.
func next(ctx context.Context, it sketch.BlockIterator, buf []uint32) ([]uint32, error) {
	x, err := it.Next(ctx, buf)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return x, err
}

// scratch holds float64 copies of the current run for the vek kernels.
type scratch struct {
	a, b, t []float64
}

var scratchPool = pool.New(func() *scratch { return new(scratch) }, nil)

func getScratch() *scratch { return scratchPool.Get() }

func putScratch(s *scratch) { scratchPool.Put(s) }

func (s *scratch) load(x, y []uint32) (fa, fb []float64) {
	s.a = widen(s.a, x)
	if &x[0] == &y[0] {
		return s.a, s.a
	}
	s.b = widen(s.b, y)
	return s.a, s.b
}

func (s *scratch) tmp(n int) []float64 {
	if cap(s.t) < n {
		s.t = make([]float64, n)
	}
	return s.t[:n]
}

func widen(dst []float64, src []uint32) []float64 {
	if cap(dst) < len(src) {
		dst = make([]float64, len(src))
	}
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}
