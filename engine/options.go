package engine

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/checkpoint"
	"github.com/hupe1980/kwip/internal/fs"
	"github.com/hupe1980/kwip/sketch"
)

// LoadMode selects how cached sketches are held.
type LoadMode int

const (
	// LoadMaterialize reads each sketch fully into memory once.
	LoadMaterialize LoadMode = iota
	// LoadStream caches only the header; every comparison streams the
	// blocks from the store again.
	LoadStream
)

func (m LoadMode) String() string {
	if m == LoadStream {
		return "stream"
	}
	return "materialize"
}

// Observer receives engine events. It is called from the aggregator
// goroutine only.
type Observer interface {
	OnCompare(elapsed time.Duration, err error)
	OnLoad(path string, elapsed time.Duration, err error)
	OnProgress(done, total uint64)
}

// Options configures an Engine.
type Options struct {
	// Workers is the number of concurrent comparisons.
	Workers int

	// CacheCapacity is the number of sketches kept resident. Zero means
	// 2*Workers+1, enough for every worker to pin a pair plus one spare.
	CacheCapacity int

	LoadMode LoadMode

	// AbortOnError stops dispatching new comparisons after the first
	// failure.
	AbortOnError bool

	// ProgressStep is the percentage between progress reports.
	ProgressStep float64

	// Store resolves sample paths. Defaults to the local file system.
	Store   blobstore.BlobStore
	Dataset string

	MemoryLimitBytes   int64
	MaxConcurrentLoads int64
	IOBytesPerSec      int64

	// Checkpoint is an explicit record store. When nil and CheckpointDir
	// is set, a store is opened in that directory.
	Checkpoint       checkpoint.Store
	CheckpointDir    string
	CheckpointFormat checkpoint.Format
	// CheckpointDynamo locates the table of checkpoint.FormatDynamoDB.
	CheckpointDynamo checkpoint.DynamoConfig
	Resume           bool
	FS               fs.FileSystem

	// Version is stamped into the checkpoint banner and manifest.
	Version string

	Logger   *slog.Logger
	Observer Observer
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	Workers:          runtime.NumCPU(),
	LoadMode:         LoadMaterialize,
	AbortOnError:     true,
	ProgressStep:     10,
	Dataset:          sketch.DefaultDataset,
	CheckpointFormat: checkpoint.FormatTSV,
	Version:          "dev",
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 2*o.Workers + 1
	}
	if o.ProgressStep <= 0 || o.ProgressStep > 100 {
		o.ProgressStep = 10
	}
	if o.Store == nil {
		o.Store = blobstore.NewLocalStore("")
	}
	if o.Dataset == "" {
		o.Dataset = sketch.DefaultDataset
	}
	if o.FS == nil {
		o.FS = fs.Default
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Observer == nil {
		o.Observer = noopObserver{}
	}
}

type noopObserver struct{}

func (noopObserver) OnCompare(time.Duration, error)      {}
func (noopObserver) OnLoad(string, time.Duration, error) {}
func (noopObserver) OnProgress(uint64, uint64)           {}
