package matrix

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/internal/bitset"
)

var (
	// ErrIncomplete is returned when an operation needs every cell.
	ErrIncomplete = errors.New("matrix: not all cells computed")

	// ErrNotKernel is returned by kernel-only operations on a distance
	// matrix.
	ErrNotKernel = errors.New("matrix: not a kernel matrix")

	// ErrMalformed is returned by ReadTSV.
	ErrMalformed = errors.New("matrix: malformed input")
)

// Matrix is a symmetric N×N matrix stored as its condensed triangle.
// Set may be called concurrently for distinct indices.
type Matrix struct {
	family   condensed.Family
	n        int
	values   []float64
	computed *bitset.BitSet
}

// New allocates an n×n matrix of the given family with no cell computed.
func New(n int, family condensed.Family) (*Matrix, error) {
	if n < 0 {
		return nil, fmt.Errorf("matrix: negative size %d", n)
	}
	cells := family.Count(n)
	return &Matrix{
		family:   family,
		n:        n,
		values:   make([]float64, cells),
		computed: bitset.New(cells),
	}, nil
}

// N returns the number of rows.
func (m *Matrix) N() int { return m.n }

// Family returns the condensed layout.
func (m *Matrix) Family() condensed.Family { return m.family }

// Len returns the number of stored cells.
func (m *Matrix) Len() uint64 { return uint64(len(m.values)) }

// Set stores v at flat index idx and marks it computed. Both mirror cells
// read back the same value.
func (m *Matrix) Set(idx uint64, v float64) error {
	if idx >= m.Len() {
		return fmt.Errorf("%w: index %d of %d", condensed.ErrOutOfRange, idx, m.Len())
	}
	m.values[idx] = v
	m.computed.Set(idx)
	return nil
}

// SetAt stores v at (row, col).
func (m *Matrix) SetAt(row, col int, v float64) error {
	idx, err := m.index(row, col)
	if err != nil {
		return err
	}
	return m.Set(idx, v)
}

// Value returns the value at idx and whether it has been computed.
func (m *Matrix) Value(idx uint64) (float64, bool) {
	if !m.computed.Test(idx) {
		return 0, false
	}
	return m.values[idx], true
}

// At returns the value at (row, col) and whether it is known. The diagonal
// of a distance matrix is always known to be 0.
func (m *Matrix) At(row, col int) (float64, bool) {
	if row == col && m.family == condensed.Distance && row >= 0 && row < m.n {
		return 0, true
	}
	idx, err := m.index(row, col)
	if err != nil {
		return 0, false
	}
	return m.Value(idx)
}

func (m *Matrix) index(row, col int) (uint64, error) {
	if row >= m.n || col >= m.n {
		return 0, fmt.Errorf("%w: (%d, %d) in %d×%d", condensed.ErrOutOfRange, row, col, m.n, m.n)
	}
	return m.family.ToFlat(row, col)
}

// Computed reports whether idx has been computed.
func (m *Matrix) Computed(idx uint64) bool {
	return m.computed.Test(idx)
}

// NumComputed counts computed cells.
func (m *Matrix) NumComputed() uint64 { return m.computed.Count() }

// Complete reports whether every cell has been computed.
func (m *Matrix) Complete() bool { return m.computed.All() }

// Missing returns the flat indices that have not been computed.
func (m *Matrix) Missing() *roaring64.Bitmap {
	bm := roaring64.New()
	for i, ok := m.computed.NextClear(0); ok; i, ok = m.computed.NextClear(i + 1) {
		bm.Add(i)
	}
	return bm
}

// Dense expands a complete matrix into a gonum symmetric matrix.
func (m *Matrix) Dense() (*mat.SymDense, error) {
	if !m.Complete() {
		return nil, fmt.Errorf("%w: %d of %d missing", ErrIncomplete, m.Len()-m.NumComputed(), m.Len())
	}
	if m.n == 0 {
		return &mat.SymDense{}, nil
	}
	sym := mat.NewSymDense(m.n, nil)
	for idx, v := range m.values {
		row, col := m.family.FromFlat(uint64(idx))
		sym.SetSym(row, col, v)
	}
	return sym, nil
}

// Normalize returns K(i,j) / sqrt(K(i,i) K(j,j)). Cells whose denominator
// is zero become 0.
func Normalize(k *Matrix) (*Matrix, error) {
	if err := requireKernel(k); err != nil {
		return nil, err
	}
	out, err := New(k.n, condensed.Kernel)
	if err != nil {
		return nil, err
	}
	for idx, v := range k.values {
		row, col := k.family.FromFlat(uint64(idx))
		out.values[idx] = normalized(k, row, col, v)
		out.computed.Set(uint64(idx))
	}
	return out, nil
}

func normalized(k *Matrix, row, col int, v float64) float64 {
	di, _ := k.At(row, row)
	dj, _ := k.At(col, col)
	den := math.Sqrt(di * dj)
	if den == 0 || math.IsNaN(den) {
		return 0
	}
	return v / den
}

// KernelToDistance normalises k and converts it into a distance matrix,
// d(i,j) = sqrt(max(0, K(i,i) + K(j,j) - 2 K(i,j))). Negative values from
// rounding noise are clamped to zero.
func KernelToDistance(k *Matrix) (*Matrix, error) {
	norm, err := Normalize(k)
	if err != nil {
		return nil, err
	}
	out, err := New(k.n, condensed.Distance)
	if err != nil {
		return nil, err
	}
	for idx := range out.values {
		row, col := condensed.Distance.FromFlat(uint64(idx))
		kij, _ := norm.At(row, col)
		kii, _ := norm.At(row, row)
		kjj, _ := norm.At(col, col)
		out.values[idx] = math.Sqrt(max(0, kii+kjj-2*kij))
		out.computed.Set(uint64(idx))
	}
	return out, nil
}

// IsPSD reports whether a complete kernel matrix is positive
// semi-definite: its smallest eigenvalue is at least -tol.
func IsPSD(k *Matrix, tol float64) (bool, error) {
	if err := requireKernel(k); err != nil {
		return false, err
	}
	if k.n == 0 {
		return true, nil
	}
	sym, err := k.Dense()
	if err != nil {
		return false, err
	}
	var es mat.EigenSym
	if !es.Factorize(sym, false) {
		return false, errors.New("matrix: eigendecomposition did not converge")
	}
	for _, ev := range es.Values(nil) {
		if ev < -tol {
			return false, nil
		}
	}
	return true, nil
}

func requireKernel(k *Matrix) error {
	if k.family != condensed.Kernel {
		return ErrNotKernel
	}
	if !k.Complete() {
		return fmt.Errorf("%w: %d of %d missing", ErrIncomplete, k.Len()-k.NumComputed(), k.Len())
	}
	return nil
}
