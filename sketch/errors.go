package sketch

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a file that is not a valid sketch: bad magic,
	// version, header checksum or shape.
	ErrMalformed = errors.New("sketch: malformed file")

	// ErrDatasetNotFound reports a sketch that holds a different dataset.
	ErrDatasetNotFound = errors.New("sketch: dataset not found")

	// ErrShortRead reports a file that ends inside a block.
	ErrShortRead = errors.New("sketch: short read")

	// ErrChecksum reports a block whose contents fail CRC verification.
	ErrChecksum = errors.New("sketch: checksum mismatch")

	// ErrValueOverflow reports a count too large for the element type.
	ErrValueOverflow = errors.New("sketch: count exceeds element type")

	// ErrLengthMismatch reports a writer that received more or fewer
	// counts than its header declares.
	ErrLengthMismatch = errors.New("sketch: element count does not match header")

	// ErrClosed is returned by operations on a closed reader or writer.
	ErrClosed = errors.New("sketch: closed")

	// ErrDimensionMismatch reports two sketches that cannot be combined.
	ErrDimensionMismatch = errors.New("sketch: dimension mismatch")
)

// DimensionMismatchError names the header field that differs between two
// sketches.
type DimensionMismatchError struct {
	Field string
	A, B  uint64
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %s %d != %d", e.Field, e.A, e.B)
}

func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// CheckCompatible verifies that two sketches have the same length and were
// built with the same hashing parameters.
func CheckCompatible(a, b Header) error {
	switch {
	case a.Length != b.Length:
		return &DimensionMismatchError{Field: "length", A: a.Length, B: b.Length}
	case a.K != b.K:
		return &DimensionMismatchError{Field: "k", A: uint64(a.K), B: uint64(b.K)}
	case a.Tables != b.Tables:
		return &DimensionMismatchError{Field: "tables", A: uint64(a.Tables), B: uint64(b.Tables)}
	}
	return nil
}
