package kwip

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with kwip-specific helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithMetric adds a metric field to the logger.
func (l *Logger) WithMetric(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("metric", name),
	}
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(id string) *Logger {
	if id == "" {
		return l
	}
	return &Logger{
		Logger: l.Logger.With("run_id", id),
	}
}

// LogRun logs the outcome of a run.
func (l *Logger) LogRun(ctx context.Context, samples int, computed, total uint64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pairwise run failed",
			"samples", samples,
			"computed", computed,
			"total", total,
			"elapsed", elapsed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "pairwise run completed",
			"samples", samples,
			"comparisons", total,
			"elapsed", elapsed,
		)
	}
}

// LogFailure logs one failed comparison.
func (l *Logger) LogFailure(ctx context.Context, f *CompareError) {
	l.ErrorContext(ctx, "comparison failed",
		"index", f.Index,
		"a", f.A,
		"b", f.B,
		"error", f.Err,
	)
}

// LogNotPSD warns that a kernel matrix has a negative eigenvalue, so the
// derived distances are not Euclidean.
func (l *Logger) LogNotPSD(ctx context.Context, samples int) {
	l.WarnContext(ctx, "kernel matrix is not positive semi-definite",
		"samples", samples,
	)
}
