package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kwip/checkpoint"
	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/internal/cache"
	"github.com/hupe1980/kwip/internal/resource"
	"github.com/hupe1980/kwip/matrix"
	"github.com/hupe1980/kwip/metric"
	"github.com/hupe1980/kwip/sketch"
)

// State is the lifecycle stage of an Engine.
type State int32

const (
	StateConfigured State = iota
	StateFinalized
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateFinalized:
		return "finalized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sample is one registered input.
type Sample struct {
	ID   int
	Path string
	Name string
}

// Engine computes a pairwise matrix over a sample list.
type Engine struct {
	mu      sync.Mutex
	state   State
	opts    Options
	metric  metric.Metric
	family  condensed.Family
	samples []Sample

	matrix   *matrix.Matrix
	cache    *cache.Cache[sketch.Source]
	rc       *resource.Controller
	store    checkpoint.Store
	ownStore bool
	manifest *checkpoint.Manifest
	restored uint64
	failures []*CompareError
}

// New creates an engine for m.
func New(m metric.Metric, optFns ...func(o *Options)) (*Engine, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil metric", ErrConfiguration)
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.normalize()

	return &Engine{
		state:  StateConfigured,
		opts:   opts,
		metric: m,
		family: m.Kind().Family(),
	}, nil
}

// AddSample registers the sketch at path under its display name and
// returns its id.
func (e *Engine) AddSample(path string) (int, error) {
	return e.AddNamedSample(path, sketch.DisplayName(path))
}

// AddNamedSample registers the sketch at path under name.
func (e *Engine) AddNamedSample(path, name string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateConfigured {
		return -1, ErrFinalized
	}
	if err := checkpoint.ValidateName(name); err != nil {
		return -1, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	id := len(e.samples)
	e.samples = append(e.samples, Sample{ID: id, Path: path, Name: name})
	return id, nil
}

// Finalize freezes the sample list, allocates the result matrix, prepares
// the metric and opens the checkpoint store. With Resume, records already
// in the store are loaded into the matrix and skipped by Run.
func (e *Engine) Finalize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateConfigured {
		return ErrFinalized
	}
	if len(e.samples) < 2 {
		return fmt.Errorf("%w: have %d", ErrTooFewSamples, len(e.samples))
	}

	m, err := matrix.New(len(e.samples), e.family)
	if err != nil {
		return err
	}
	e.matrix = m
	e.restored = 0

	e.rc = resource.NewController(resource.Config{
		MemoryLimitBytes:   e.opts.MemoryLimitBytes,
		MaxConcurrentLoads: e.opts.MaxConcurrentLoads,
		IOLimitBytesPerSec: e.opts.IOBytesPerSec,
	})
	e.cache = cache.New(cache.Config[sketch.Source]{
		Capacity:   e.opts.CacheCapacity,
		SizeOf:     sourceSize,
		Controller: e.rc,
	})

	if err := e.prepare(ctx); err != nil {
		return err
	}
	if err := e.openCheckpoint(ctx); err != nil {
		return err
	}

	e.state = StateFinalized
	e.opts.Logger.Info("finalized",
		"samples", len(e.samples),
		"comparisons", e.matrix.Len(),
		"metric", e.metric.Name(),
		"family", e.family.String(),
		"restored", e.restored,
		"cache_capacity", e.cache.Capacity(),
	)
	return nil
}

// sourceSize charges materialised sketches against the memory budget.
// Streams hold no counts.
func sourceSize(s sketch.Source) int64 {
	if sk, ok := s.(*sketch.Sketch); ok {
		return sk.Header().MemoryBytes()
	}
	return 0
}

func (e *Engine) prepare(ctx context.Context) error {
	p, ok := e.metric.(metric.Preparer)
	if !ok {
		return nil
	}

	population := make([]sketch.Source, len(e.samples))
	for i, s := range e.samples {
		src, err := sketch.OpenStream(ctx, e.opts.Store, s.Path, e.opts.Dataset, sketch.WithController(e.rc))
		if err != nil {
			return fmt.Errorf("prepare %s: %w", s.Name, err)
		}
		population[i] = src
	}

	start := time.Now()
	if err := p.Prepare(ctx, population); err != nil {
		return fmt.Errorf("prepare %s: %w", e.metric.Name(), err)
	}
	e.opts.Logger.Info("metric prepared", "metric", e.metric.Name(), "elapsed", time.Since(start))
	return nil
}

func (e *Engine) openCheckpoint(ctx context.Context) error {
	switch {
	case e.opts.Checkpoint != nil:
		e.store = e.opts.Checkpoint
	case e.opts.CheckpointDir != "":
		samples := make([]checkpoint.Sample, len(e.samples))
		for i, s := range e.samples {
			samples[i] = checkpoint.Sample{Name: s.Name, Path: s.Path}
		}
		mf := checkpoint.NewManifest(e.opts.Version, e.metric.Name(), e.family, samples)

		store, active, err := checkpoint.OpenDir(ctx, e.opts.CheckpointDir, mf, e.opts.Resume, func(o *checkpoint.Options) {
			o.FS = e.opts.FS
			o.Format = e.opts.CheckpointFormat
			o.Dynamo = e.opts.CheckpointDynamo
		})
		if err != nil {
			return err
		}
		e.store, e.manifest, e.ownStore = store, active, true
	default:
		return nil
	}

	if !e.opts.Resume {
		return nil
	}
	if err := e.restore(ctx); err != nil {
		if e.ownStore {
			_ = e.store.Close()
			e.store, e.ownStore = nil, false
		}
		return err
	}
	return nil
}

func (e *Engine) restore(ctx context.Context) error {
	records, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	for _, rec := range records {
		if rec.Index >= e.matrix.Len() {
			return fmt.Errorf("%w: record index %d beyond %d comparisons", checkpoint.ErrCorrupt, rec.Index, e.matrix.Len())
		}
		cell := e.family.Cell(rec.Index)
		a, b := e.samples[cell.Row].Name, e.samples[cell.Col].Name
		if rec.A != a || rec.B != b {
			return fmt.Errorf("%w: record %d is %s/%s, run has %s/%s", checkpoint.ErrCorrupt, rec.Index, rec.A, rec.B, a, b)
		}
		if !e.matrix.Computed(rec.Index) {
			e.restored++
		}
		if err := e.matrix.Set(rec.Index, rec.Value); err != nil {
			return err
		}
	}
	return nil
}

// Run computes every comparison not restored from a checkpoint. It
// returns nil only when the whole matrix is computed. A run that ends
// Failed can be run again to retry the missing comparisons.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateFinalized, StateFailed:
	case StateConfigured:
		e.mu.Unlock()
		return ErrNotFinalized
	default:
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: run is %s", ErrConfiguration, state)
	}
	e.state = StateRunning
	e.failures = nil
	e.mu.Unlock()

	start := time.Now()
	failures, err := e.run(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures = failures
	stats := e.cache.Stats()
	attrs := []any{
		"comparisons", e.matrix.Len(),
		"computed", e.matrix.NumComputed(),
		"failed", len(failures),
		"elapsed", time.Since(start),
		"cache_hits", stats.Hits,
		"cache_misses", stats.Misses,
		"cache_loads", stats.Loads,
		"cache_evictions", stats.Evictions,
	}

	if err != nil {
		e.state = StateFailed
		e.opts.Logger.Error("run failed", append(attrs, "error", err)...)
		return err
	}
	e.state = StateCompleted
	e.opts.Logger.Info("run completed", attrs...)
	return nil
}

type loadEvent struct {
	path    string
	elapsed time.Duration
	err     error
}

type result struct {
	cell    condensed.Cell
	a, b    string
	value   float64
	elapsed time.Duration
	loads   []loadEvent
	err     *CompareError
}

func (e *Engine) run(ctx context.Context) ([]*CompareError, error) {
	total := e.matrix.Len()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		next  atomic.Uint64
		abort atomic.Bool
	)

	events := make(chan result, e.opts.Workers)
	agg := &aggregator{
		log:    e.opts.Logger,
		obs:    e.opts.Observer,
		store:  e.store,
		total:  total,
		done:   e.matrix.NumComputed(),
		step:   e.opts.ProgressStep,
		cancel: cancel,
		abort:  &abort,
	}
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		for res := range events {
			agg.handle(res)
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	for range e.opts.Workers {
		g.Go(func() error {
			for !abort.Load() {
				idx := next.Add(1) - 1
				if idx >= total {
					return nil
				}
				if e.matrix.Computed(idx) {
					continue
				}

				res, err := e.compare(gctx, idx)
				if err != nil {
					return err
				}
				if res.err != nil && e.opts.AbortOnError {
					abort.Store(true)
				}
				events <- res
			}
			return nil
		})
	}

	werr := g.Wait()
	close(events)
	<-aggDone

	switch {
	case agg.fatal != nil:
		return agg.failures, agg.fatal
	case werr != nil:
		return agg.failures, werr
	}

	if len(agg.failures) > 0 || !e.matrix.Complete() {
		missing := e.matrix.Missing().GetCardinality()
		errs := make([]error, 0, len(agg.failures)+1)
		errs = append(errs, fmt.Errorf("%w: %d of %d comparisons missing", ErrIncomplete, missing, total))
		for _, f := range agg.failures {
			errs = append(errs, f)
		}
		return agg.failures, errors.Join(errs...)
	}

	if e.store != nil {
		if err := e.store.Flush(); err != nil {
			return nil, fmt.Errorf("flush checkpoint: %w", err)
		}
	}
	return nil, nil
}

// compare runs one comparison. A returned error is fatal for the run; a
// failure of the comparison itself is reported in result.err.
func (e *Engine) compare(ctx context.Context, idx uint64) (result, error) {
	cell := e.family.Cell(idx)
	a, b := e.samples[cell.Row], e.samples[cell.Col]
	res := result{cell: cell, a: a.Name, b: b.Name}
	start := time.Now()

	srcA, err := e.acquire(ctx, a.Path, &res)
	if err != nil {
		return e.failed(ctx, res, start, err)
	}
	srcB, err := e.acquire(ctx, b.Path, &res)
	if err != nil {
		if uerr := e.cache.Unget(a.Path); uerr != nil {
			return res, uerr
		}
		return e.failed(ctx, res, start, err)
	}

	v, cerr := e.metric.Compare(ctx, srcA, srcB)
	if cerr == nil {
		res.value = v
		cerr = e.matrix.Set(idx, v)
	}

	if uerr := errors.Join(e.cache.Unget(a.Path), e.cache.Unget(b.Path)); uerr != nil {
		return res, uerr
	}
	if cerr != nil {
		return e.failed(ctx, res, start, cerr)
	}

	res.elapsed = time.Since(start)
	return res, nil
}

func (e *Engine) failed(ctx context.Context, res result, start time.Time, err error) (result, error) {
	if ctx.Err() != nil {
		return res, context.Cause(ctx)
	}
	res.elapsed = time.Since(start)
	res.err = &CompareError{
		Index: res.cell.Index,
		Row:   res.cell.Row,
		Col:   res.cell.Col,
		A:     res.a,
		B:     res.b,
		Err:   err,
	}
	return res, nil
}

func (e *Engine) acquire(ctx context.Context, path string, res *result) (sketch.Source, error) {
	return e.cache.Acquire(ctx, path, func(ctx context.Context, key string) (sketch.Source, error) {
		start := time.Now()
		src, err := e.load(ctx, key)
		res.loads = append(res.loads, loadEvent{path: key, elapsed: time.Since(start), err: err})
		return src, err
	})
}

func (e *Engine) load(ctx context.Context, path string) (sketch.Source, error) {
	if err := e.rc.AcquireLoad(ctx); err != nil {
		return nil, err
	}
	defer e.rc.ReleaseLoad()

	opt := sketch.WithController(e.rc)
	if e.opts.LoadMode == LoadStream {
		return sketch.OpenStream(ctx, e.opts.Store, path, e.opts.Dataset, opt)
	}
	return sketch.Load(ctx, e.opts.Store, path, e.opts.Dataset, opt)
}

// aggregator consumes results on a single goroutine.
type aggregator struct {
	log   *slog.Logger
	obs   Observer
	store checkpoint.Store

	total uint64
	done  uint64
	step  float64
	next  float64

	cancel context.CancelCauseFunc
	abort  *atomic.Bool

	failures []*CompareError
	fatal    error
}

func (a *aggregator) handle(res result) {
	for _, l := range res.loads {
		a.obs.OnLoad(l.path, l.elapsed, l.err)
		if l.err == nil {
			a.log.Debug("sketch loaded", "path", l.path, "elapsed", l.elapsed)
		}
	}

	fields := []any{
		"index", res.cell.Index,
		"row", res.cell.Row,
		"col", res.cell.Col,
		"a", res.a,
		"b", res.b,
	}

	if res.err != nil {
		a.obs.OnCompare(res.elapsed, res.err)
		a.failures = append(a.failures, res.err)
		a.log.Error("comparison failed", append(fields, "error", res.err.Err)...)
	} else {
		a.obs.OnCompare(res.elapsed, nil)
		a.log.Debug("comparison", append(fields, "value", res.value, "elapsed", res.elapsed)...)
		a.append(res)
	}

	a.done++
	a.progress()
}

func (a *aggregator) append(res result) {
	if a.store == nil || a.fatal != nil {
		return
	}
	err := a.store.Append(checkpoint.Record{A: res.a, B: res.b, Index: res.cell.Index, Value: res.value})
	if err != nil {
		a.fatal = fmt.Errorf("checkpoint comparison #%d: %w", res.cell.Index, err)
		a.abort.Store(true)
		a.cancel(a.fatal)
		a.log.Error("checkpoint write failed", "index", res.cell.Index, "error", err)
	}
}

func (a *aggregator) progress() {
	pct := 100 * float64(a.done) / float64(a.total)
	if pct < a.next && a.done != a.total {
		return
	}
	a.next = (float64(int(pct/a.step)) + 1) * a.step

	a.obs.OnProgress(a.done, a.total)
	if len(a.failures) == 0 {
		a.log.Info("progress", "done", a.done, "total", a.total, "percent", pct)
	} else {
		a.log.Warn("progress", "done", a.done, "total", a.total, "percent", pct, "failed", len(a.failures))
	}
}

// State returns the current lifecycle stage.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Samples returns a copy of the sample list.
func (e *Engine) Samples() []Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Sample(nil), e.samples...)
}

// Names returns the sample display names in id order.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.samples))
	for i, s := range e.samples {
		names[i] = s.Name
	}
	return names
}

// Metric returns the metric.
func (e *Engine) Metric() metric.Metric { return e.metric }

// Family returns the condensed layout of the result.
func (e *Engine) Family() condensed.Family { return e.family }

// Matrix returns the result matrix, or nil before Finalize. Its contents
// are only stable while no Run is in progress.
func (e *Engine) Matrix() *matrix.Matrix {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matrix
}

// Failures returns the failed comparisons of the last run.
func (e *Engine) Failures() []*CompareError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*CompareError(nil), e.failures...)
}

// Restored returns how many cells were loaded from the checkpoint.
func (e *Engine) Restored() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restored
}

// RunID returns the checkpoint run id, or "" without a checkpoint
// directory.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.manifest == nil {
		return ""
	}
	return e.manifest.RunID
}

// CacheStats returns sketch cache counters.
func (e *Engine) CacheStats() cache.Stats {
	e.mu.Lock()
	c := e.cache
	e.mu.Unlock()
	if c == nil {
		return cache.Stats{}
	}
	return c.Stats()
}

// Close releases cached sketches and closes a checkpoint store opened by
// the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return fmt.Errorf("%w: close while running", ErrConfiguration)
	}
	if e.cache != nil {
		if pinned := e.cache.Clear(); pinned > 0 {
			e.opts.Logger.Warn("cache cleared with pinned sketches", "pinned", pinned)
		}
	}
	if e.ownStore && e.store != nil {
		err := e.store.Close()
		e.store = nil
		return err
	}
	return nil
}
