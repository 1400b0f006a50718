package kwip

import (
	"errors"
	"fmt"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/checkpoint"
	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/engine"
	"github.com/hupe1980/kwip/internal/cache"
	"github.com/hupe1980/kwip/sketch"
)

var (
	// ErrDimensionMismatch is returned when two sketches differ in length,
	// k or table count.
	ErrDimensionMismatch = sketch.ErrDimensionMismatch

	// ErrIO covers missing, truncated, corrupt or unreadable sketches and
	// checkpoint records.
	ErrIO = errors.New("kwip: i/o error")

	// ErrCacheInvariant is returned when the sketch cache refcounts are
	// inconsistent. It always fails the run.
	ErrCacheInvariant = cache.ErrInvariantViolation

	// ErrConfiguration is returned for invalid setup: too few samples,
	// calls in the wrong state, or a resume against a different run.
	ErrConfiguration = engine.ErrConfiguration

	// ErrIncomplete is returned by Run when some comparisons failed. The
	// error also wraps each *CompareError.
	ErrIncomplete = engine.ErrIncomplete
)

// CompareError attributes a failed comparison to its sample pair.
type CompareError = engine.CompareError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Joined run failures are translated member by member.
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		out := make([]error, len(errs))
		for i, e := range errs {
			out[i] = translateError(e)
		}
		return errors.Join(out...)
	}

	var ce *engine.CompareError
	if errors.As(err, &ce) {
		cp := *ce
		cp.Err = translateError(ce.Err)
		return &cp
	}

	// Already public kinds.
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrCacheInvariant) ||
		errors.Is(err, ErrConfiguration) || errors.Is(err, ErrIncomplete) {
		return err
	}

	if errors.Is(err, checkpoint.ErrManifestMismatch) || errors.Is(err, condensed.ErrDiagonal) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if errors.Is(err, blobstore.ErrNotFound) ||
		errors.Is(err, sketch.ErrMalformed) ||
		errors.Is(err, sketch.ErrShortRead) ||
		errors.Is(err, sketch.ErrChecksum) ||
		errors.Is(err, sketch.ErrDatasetNotFound) ||
		errors.Is(err, checkpoint.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	return err
}
