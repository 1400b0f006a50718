package kwip

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/engine"
	"github.com/hupe1980/kwip/matrix"
	"github.com/hupe1980/kwip/metric"
)

// Version is the kwip release stamped into checkpoint logs.
const Version = "0.3.0"

// Calculator computes the pairwise kernel or distance matrix of a set of
// sketches.
type Calculator struct {
	engine *engine.Engine
	opts   options
	logger *Logger
}

// New creates a Calculator for m.
func New(m metric.Metric, optFns ...Option) (*Calculator, error) {
	opts := applyOptions(optFns)
	logger := opts.logger
	if m != nil {
		logger = logger.WithMetric(m.Name())
	}

	fns := append([]func(o *engine.Options){func(o *engine.Options) {
		o.Version = Version
		o.Logger = logger.Logger
		o.Observer = observer{mc: opts.metricsCollector, progress: opts.progress}
	}}, opts.engine...)

	e, err := engine.New(m, fns...)
	if err != nil {
		return nil, translateError(err)
	}
	return &Calculator{engine: e, opts: opts, logger: logger}, nil
}

// NewByName creates a Calculator for the registered metric name.
func NewByName(name string, optFns ...Option) (*Calculator, error) {
	m, err := metric.ByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return New(m, optFns...)
}

// AddSample registers the sketch at path and returns its id. The sample is
// named after the file name without directory and extension.
func (c *Calculator) AddSample(path string) (int, error) {
	id, err := c.engine.AddSample(path)
	return id, translateError(err)
}

// AddNamedSample registers the sketch at path under name.
func (c *Calculator) AddNamedSample(path, name string) (int, error) {
	id, err := c.engine.AddNamedSample(path, name)
	return id, translateError(err)
}

// Finalize freezes the sample list. See engine.Engine.Finalize.
func (c *Calculator) Finalize(ctx context.Context) error {
	if err := c.engine.Finalize(ctx); err != nil {
		return translateError(err)
	}
	c.logger = c.logger.WithRunID(c.engine.RunID())
	return nil
}

// Run computes every missing comparison. On failure the error wraps
// ErrIncomplete and one *CompareError per failed pair, and Run may be
// called again to retry.
func (c *Calculator) Run(ctx context.Context) error {
	start := time.Now()
	err := translateError(c.engine.Run(ctx))
	elapsed := time.Since(start)

	failures := c.engine.Failures()
	if m := c.engine.Matrix(); m != nil {
		c.logger.LogRun(ctx, len(c.engine.Samples()), m.NumComputed(), m.Len(), elapsed, err)
		c.opts.metricsCollector.RecordRun(m.Len(), len(failures), elapsed)
	}
	return err
}

// Compute finalizes the sample list if needed, runs and returns the result.
func (c *Calculator) Compute(ctx context.Context) (*Result, error) {
	if c.engine.State() == engine.StateConfigured {
		if err := c.Finalize(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.Run(ctx); err != nil {
		return nil, err
	}
	return c.Result(ctx)
}

// Failures returns the failed comparisons of the last run.
func (c *Calculator) Failures() []*CompareError {
	return c.engine.Failures()
}

// State returns the engine lifecycle stage.
func (c *Calculator) State() engine.State {
	return c.engine.State()
}

// Names returns the sample names in id order.
func (c *Calculator) Names() []string {
	return c.engine.Names()
}

// RunID returns the checkpoint run id, or "".
func (c *Calculator) RunID() string {
	return c.engine.RunID()
}

// Close releases cached sketches and the checkpoint store.
func (c *Calculator) Close() error {
	return translateError(c.engine.Close())
}

// Result is the outcome of a completed run.
type Result struct {
	Names []string
	// Kernel is the raw kernel matrix, nil for distance metrics.
	Kernel *matrix.Matrix
	// Normalized is the kernel with unit diagonal, nil for distance
	// metrics.
	Normalized *matrix.Matrix
	Distance   *matrix.Matrix
	// PSD reports whether Normalized is positive semi-definite. Always true
	// for distance metrics.
	PSD bool
}

// Result assembles the matrices of a completed run. Kernel metrics are
// normalised and converted to distances.
func (c *Calculator) Result(ctx context.Context) (*Result, error) {
	if s := c.engine.State(); s != engine.StateCompleted {
		return nil, fmt.Errorf("%w: run is %s", ErrConfiguration, s)
	}

	m := c.engine.Matrix()
	res := &Result{Names: c.engine.Names(), PSD: true}
	if c.engine.Family() == condensed.Distance {
		res.Distance = m
		return res, nil
	}

	norm, err := matrix.Normalize(m)
	if err != nil {
		return nil, err
	}
	psd, err := matrix.IsPSD(norm, c.opts.psdTolerance)
	if err != nil {
		return nil, err
	}
	if !psd {
		c.logger.LogNotPSD(ctx, m.N())
	}
	dist, err := matrix.KernelToDistance(m)
	if err != nil {
		return nil, err
	}

	res.Kernel, res.Normalized, res.Distance, res.PSD = m, norm, dist, psd
	return res, nil
}

// WriteKernel writes the raw kernel matrix as labeled TSV.
func (r *Result) WriteKernel(w io.Writer) error {
	if r.Kernel == nil {
		return fmt.Errorf("%w: no kernel for a distance metric", ErrConfiguration)
	}
	return matrix.WriteTSV(w, r.Names, r.Kernel)
}

// WriteDistance writes the distance matrix as labeled TSV.
func (r *Result) WriteDistance(w io.Writer) error {
	return matrix.WriteTSV(w, r.Names, r.Distance)
}
