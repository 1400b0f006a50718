package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks errors in how the engine was set up or used.
	ErrConfiguration = errors.New("engine: invalid configuration")

	// ErrTooFewSamples is returned by Finalize with fewer than two samples.
	ErrTooFewSamples = fmt.Errorf("%w: at least two samples are required", ErrConfiguration)

	// ErrFinalized is returned when adding samples after Finalize.
	ErrFinalized = fmt.Errorf("%w: sample list is finalized", ErrConfiguration)

	// ErrNotFinalized is returned by Run before Finalize.
	ErrNotFinalized = fmt.Errorf("%w: sample list is not finalized", ErrConfiguration)

	// ErrIncomplete is returned by Run when at least one comparison failed.
	ErrIncomplete = errors.New("engine: run incomplete")
)

// CompareError attributes a failed comparison to its sample pair.
type CompareError struct {
	Index uint64
	Row   int
	Col   int
	A, B  string
	Err   error
}

func (e *CompareError) Error() string {
	return fmt.Sprintf("compare #%d (%d, %d) %s vs %s: %v", e.Index, e.Row, e.Col, e.A, e.B, e.Err)
}

func (e *CompareError) Unwrap() error { return e.Err }
