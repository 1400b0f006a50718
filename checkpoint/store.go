package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/internal/fs"
)

var (
	// ErrCorrupt is returned when stored records cannot be parsed.
	ErrCorrupt = errors.New("checkpoint: corrupt records")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("checkpoint: store closed")

	// ErrManifestMismatch is returned when resuming a run with different
	// samples or metric.
	ErrManifestMismatch = errors.New("checkpoint: manifest does not match run")

	// ErrInvalidName is returned for sample names the line formats cannot
	// hold.
	ErrInvalidName = errors.New("checkpoint: invalid sample name")
)

// ValidateName rejects names containing a tab or line break.
func ValidateName(name string) error {
	if i := strings.IndexAny(name, "\t\n\r"); i >= 0 {
		return fmt.Errorf("%w: %q has a control character at %d", ErrInvalidName, name, i)
	}
	return nil
}

// Record is one completed comparison.
type Record struct {
	A, B  string
	Index uint64
	Value float64
}

// Store is an append-only record sink that can be read back.
type Store interface {
	// Append persists rec. It is safe for concurrent use.
	Append(rec Record) error
	// Load returns every record appended so far.
	Load(ctx context.Context) ([]Record, error)
	// Flush makes appended records durable.
	Flush() error
	Close() error
}

// Format selects the record store.
type Format string

const (
	FormatTSV      Format = "tsv"
	FormatBadger   Format = "badger"
	FormatDynamoDB Format = "dynamodb"
)

// Durability controls when Log appends reach the file.
type Durability int

const (
	// DurabilityBuffered writes on Flush and Close only.
	DurabilityBuffered Durability = iota
	// DurabilityWrite hands every record to the OS, surviving a process
	// crash but not a power loss.
	DurabilityWrite
	// DurabilitySync fsyncs after every record.
	DurabilitySync
)

// Options configures OpenDir and OpenLog.
type Options struct {
	FS         fs.FileSystem
	Format     Format
	Durability Durability
	// Banner is written as a comment line at the start of a new log.
	Banner string
	// Truncate discards existing records.
	Truncate bool
	// Dynamo locates the table of FormatDynamoDB. The manifest stays in
	// the checkpoint directory.
	Dynamo DynamoConfig
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	FS:         fs.Default,
	Format:     FormatTSV,
	Durability: DurabilityWrite,
}

// LogName is the log file name for a family.
func LogName(family condensed.Family) string {
	if family == condensed.Distance {
		return "distlog.tab"
	}
	return "kernellog.tab"
}

// Banner is the comment line that opens a log.
func Banner(family condensed.Family, version, runID string) string {
	kind := "Kernel"
	if family == condensed.Distance {
		kind = "Distance"
	}
	return fmt.Sprintf("%s values generated with kwip version %s (run %s)", kind, version, runID)
}

const badgerDirName = "records.badger"

// OpenDir prepares dir for the run described by m. When resume is set and
// dir holds a manifest, it must match m and its run id is kept; existing
// records stay in the store. Otherwise a fresh manifest is written and any
// existing records are discarded. The returned manifest is the one in
// effect.
func OpenDir(ctx context.Context, dir string, m *Manifest, resume bool, optFns ...func(o *Options)) (Store, *Manifest, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}

	if err := opts.FS.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	active := m
	if resume {
		prev, err := LoadManifest(opts.FS, dir)
		switch {
		case err == nil:
			if err := prev.Matches(m); err != nil {
				return nil, nil, err
			}
			active = prev
		case errors.Is(err, ErrNoManifest):
			resume = false
		default:
			return nil, nil, err
		}
	}
	if !resume {
		if err := m.Save(opts.FS, dir); err != nil {
			return nil, nil, err
		}
	}

	family, err := active.FamilyValue()
	if err != nil {
		return nil, nil, err
	}

	switch opts.Format {
	case FormatTSV, "":
		store, err := OpenLog(filepath.Join(dir, LogName(family)), func(o *Options) {
			*o = opts
			o.Banner = Banner(family, active.Version, active.RunID)
			o.Truncate = !resume
		})
		if err != nil {
			return nil, nil, err
		}
		return store, active, nil
	case FormatBadger:
		store, err := OpenBadger(filepath.Join(dir, badgerDirName), false)
		if err != nil {
			return nil, nil, err
		}
		if !resume {
			if err := store.Reset(); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
		}
		return store, active, nil
	case FormatDynamoDB:
		store, err := NewDynamoStore(opts.Dynamo, active.RunID)
		if err != nil {
			return nil, nil, err
		}
		if !resume {
			if err := store.Reset(ctx); err != nil {
				return nil, nil, err
			}
		}
		return store, active, nil
	default:
		return nil, nil, fmt.Errorf("checkpoint: unknown format %q", opts.Format)
	}
}
