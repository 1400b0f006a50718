package condensed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFlatKnownValues(t *testing.T) {
	tests := []struct {
		family   Family
		row, col int
		want     uint64
	}{
		{Distance, 1, 0, 0},
		{Distance, 2, 1, 2},
		{Distance, 5, 4, 14},
		{Kernel, 0, 0, 0},
		{Kernel, 1, 1, 2},
		{Kernel, 5, 5, 20},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d,%d", tt.family, tt.row, tt.col), func(t *testing.T) {
			got, err := tt.family.ToFlat(tt.row, tt.col)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			swapped, err := tt.family.ToFlat(tt.col, tt.row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, swapped)
		})
	}
}

func TestCount(t *testing.T) {
	assert.Equal(t, uint64(15), Distance.Count(6))
	assert.Equal(t, uint64(21), Kernel.Count(6))
	assert.Equal(t, uint64(0), Distance.Count(1))
	assert.Equal(t, uint64(1), Kernel.Count(1))
	assert.Equal(t, uint64(0), Kernel.Count(0))
}

func TestBijection(t *testing.T) {
	const n = 150

	for _, f := range []Family{Distance, Kernel} {
		t.Run(f.String(), func(t *testing.T) {
			var next uint64
			for row := 0; row < n; row++ {
				for col := 0; col <= row; col++ {
					if col == row && !f.IncludesDiagonal() {
						continue
					}
					idx, err := f.ToFlat(row, col)
					require.NoError(t, err)
					// Row-major enumeration is dense.
					require.Equal(t, next, idx)
					next++

					r, c := f.FromFlat(idx)
					require.Equal(t, row, r)
					require.Equal(t, col, c)
				}
			}
			assert.Equal(t, f.Count(n), next)
		})
	}
}

func TestFromFlatLargeIndices(t *testing.T) {
	for _, f := range []Family{Distance, Kernel} {
		for _, row := range []uint64{1 << 26, 1<<27 + 3, 94906265, 1<<31 - 1} {
			start := f.rowStart(row)
			last := start + f.rowLen(row) - 1

			for _, idx := range []uint64{start, start + 1, last, last + 1} {
				r, c := f.FromFlat(idx)
				back, err := f.ToFlat(r, c)
				require.NoError(t, err)
				assert.Equal(t, idx, back, "%s idx %d", f, idx)
			}

			r, c := f.FromFlat(start)
			assert.Equal(t, int(row), r)
			assert.Equal(t, 0, c)

			r, _ = f.FromFlat(last + 1)
			assert.Equal(t, int(row+1), r)
		}
	}
}

func TestDistanceDiagonalIsError(t *testing.T) {
	_, err := Distance.ToFlat(3, 3)
	assert.ErrorIs(t, err, ErrDiagonal)

	idx, err := Kernel.ToFlat(3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), idx)
}

func TestNegativeIsError(t *testing.T) {
	_, err := Kernel.ToFlat(-1, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestCell(t *testing.T) {
	assert.Equal(t, Cell{Index: 14, Row: 5, Col: 4}, Distance.Cell(14))
	assert.Equal(t, Cell{Index: 20, Row: 5, Col: 5}, Kernel.Cell(20))
}
