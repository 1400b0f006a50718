package condensed

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDiagonal is returned when a self-comparison is indexed in the
	// Distance family.
	ErrDiagonal = errors.New("condensed: diagonal cell has no distance index")

	// ErrOutOfRange is returned for negative coordinates.
	ErrOutOfRange = errors.New("condensed: cell out of range")
)

// Family selects which triangle is enumerated.
type Family uint8

const (
	// Distance excludes the diagonal: flat(row,col) = row*(row-1)/2 + col.
	Distance Family = iota
	// Kernel includes the diagonal: flat(row,col) = row*(row+1)/2 + col.
	Kernel
)

func (f Family) String() string {
	switch f {
	case Distance:
		return "distance"
	case Kernel:
		return "kernel"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// IncludesDiagonal reports whether row == col cells are enumerated.
func (f Family) IncludesDiagonal() bool { return f == Kernel }

// Count returns the number of cells for n samples.
func (f Family) Count(n int) uint64 {
	if n <= 0 {
		return 0
	}
	un := uint64(n)
	if f == Kernel {
		return un * (un + 1) / 2
	}
	return un * (un - 1) / 2
}

// rowStart is the flat index of cell (row, 0).
func (f Family) rowStart(row uint64) uint64 {
	if f == Kernel {
		return row * (row + 1) / 2
	}
	if row == 0 {
		return 0
	}
	return row * (row - 1) / 2
}

// rowLen is the number of cells in row.
func (f Family) rowLen(row uint64) uint64 {
	if f == Kernel {
		return row + 1
	}
	return row
}

// ToFlat returns the flat index of (row, col). The pair is unordered:
// (col, row) maps to the same index.
func (f Family) ToFlat(row, col int) (uint64, error) {
	if row < 0 || col < 0 {
		return 0, fmt.Errorf("%w: (%d, %d)", ErrOutOfRange, row, col)
	}
	if row < col {
		row, col = col, row
	}
	if row == col && f == Distance {
		return 0, fmt.Errorf("%w: (%d, %d)", ErrDiagonal, row, col)
	}
	return f.rowStart(uint64(row)) + uint64(col), nil
}

// FromFlat returns the (row, col) of flat index idx, with row >= col.
func (f Family) FromFlat(idx uint64) (row, col int) {
	x := float64(idx)

	var r uint64
	if f == Kernel {
		r = uint64((math.Sqrt(8*x+1) - 1) / 2)
	} else {
		r = uint64((1 + math.Sqrt(1+8*x)) / 2)
	}

	// The float estimate can be off by one in either direction once
	// 8*idx exceeds 2^53.
	for r > 0 && f.rowStart(r) > idx {
		r--
	}
	for f.rowStart(r)+f.rowLen(r) <= idx {
		r++
	}

	return int(r), int(idx - f.rowStart(r))
}

// Cell is one comparison: the flat index and its coordinates.
type Cell struct {
	Index uint64
	Row   int
	Col   int
}

// Cell returns the Cell for idx.
func (f Family) Cell(idx uint64) Cell {
	row, col := f.FromFlat(idx)
	return Cell{Index: idx, Row: row, Col: col}
}
