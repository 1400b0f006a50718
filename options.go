package kwip

import (
	"log/slog"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/checkpoint"
	"github.com/hupe1980/kwip/engine"
)

type options struct {
	engine           []func(o *engine.Options)
	metricsCollector MetricsCollector
	logger           *Logger
	progress         func(done, total uint64)
	psdTolerance     float64
}

// Option configures a Calculator.
type Option func(*options)

// WithWorkers sets the number of concurrent comparisons.
func WithWorkers(n int) Option {
	return withEngine(func(o *engine.Options) { o.Workers = n })
}

// WithCacheCapacity sets how many sketches stay resident. The default is
// twice the worker count plus one.
func WithCacheCapacity(n int) Option {
	return withEngine(func(o *engine.Options) { o.CacheCapacity = n })
}

// WithStreaming keeps only sketch headers resident and streams blocks on
// every comparison. Use it when the sketches do not fit in memory.
func WithStreaming(enabled bool) Option {
	return withEngine(func(o *engine.Options) {
		o.LoadMode = engine.LoadMaterialize
		if enabled {
			o.LoadMode = engine.LoadStream
		}
	})
}

// WithAbortOnError controls whether the first failed comparison stops the
// run. Enabled by default.
func WithAbortOnError(enabled bool) Option {
	return withEngine(func(o *engine.Options) { o.AbortOnError = enabled })
}

// WithStore resolves sample paths against store instead of the local file
// system.
func WithStore(store blobstore.BlobStore) Option {
	return withEngine(func(o *engine.Options) { o.Store = store })
}

// WithDataset selects the dataset name expected inside sketch files.
func WithDataset(name string) Option {
	return withEngine(func(o *engine.Options) { o.Dataset = name })
}

// WithMemoryLimit bounds the bytes held by materialised sketches. The
// cache evicts unpinned sketches early once the limit is reached.
func WithMemoryLimit(bytes int64) Option {
	return withEngine(func(o *engine.Options) { o.MemoryLimitBytes = bytes })
}

// WithMaxConcurrentLoads bounds how many sketches load at once.
func WithMaxConcurrentLoads(n int64) Option {
	return withEngine(func(o *engine.Options) { o.MaxConcurrentLoads = n })
}

// WithIOLimit throttles block reads to bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return withEngine(func(o *engine.Options) { o.IOBytesPerSec = bytesPerSec })
}

// WithCheckpointDir records every comparison in dir so that an interrupted
// run can be resumed.
//
// Example:
//
//	calc, _ := kwip.NewByName("wip",
//	    kwip.WithCheckpointDir("./ckpt", checkpoint.FormatTSV),
//	    kwip.WithResume(true),
//	)
func WithCheckpointDir(dir string, format checkpoint.Format) Option {
	return withEngine(func(o *engine.Options) {
		o.CheckpointDir = dir
		o.CheckpointFormat = format
	})
}

// WithDynamoCheckpoint records comparisons in a DynamoDB table, keyed by
// the run id of the manifest kept in dir.
func WithDynamoCheckpoint(dir string, client checkpoint.DDBClient, table string) Option {
	return withEngine(func(o *engine.Options) {
		o.CheckpointDir = dir
		o.CheckpointFormat = checkpoint.FormatDynamoDB
		o.CheckpointDynamo = checkpoint.DynamoConfig{Client: client, Table: table}
	})
}

// WithCheckpoint records comparisons in store.
func WithCheckpoint(store checkpoint.Store) Option {
	return withEngine(func(o *engine.Options) { o.Checkpoint = store })
}

// WithResume loads existing checkpoint records and skips their
// comparisons.
func WithResume(enabled bool) Option {
	return withEngine(func(o *engine.Options) { o.Resume = enabled })
}

// WithProgressStep sets the percentage between progress reports.
func WithProgressStep(percent float64) Option {
	return withEngine(func(o *engine.Options) { o.ProgressStep = percent })
}

// WithProgress registers a callback for progress reports.
func WithProgress(fn func(done, total uint64)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithPSDTolerance sets the eigenvalue tolerance of the positive
// semi-definite check run before kernel to distance conversion.
func WithPSDTolerance(tol float64) Option {
	return func(o *options) {
		o.psdTolerance = tol
	}
}

// WithMetricsCollector configures a metrics collector for monitoring runs.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kwip.BasicMetricsCollector{}
//	calc, _ := kwip.New(metric.IP{}, kwip.WithMetricsCollector(metrics))
//	// ... run ...
//	stats := metrics.GetStats()
//	fmt.Printf("Compares: %d, Avg latency: %dns\n", stats.CompareCount, stats.CompareAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func withEngine(fn func(o *engine.Options)) Option {
	return func(o *options) {
		o.engine = append(o.engine, fn)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		psdTolerance:     1e-9,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
