package kwip

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Methods are called from a single goroutine per run.
type MetricsCollector interface {
	// RecordCompare is called after each comparison.
	// err is nil if successful.
	RecordCompare(duration time.Duration, err error)

	// RecordLoad is called after each sketch load into the cache.
	RecordLoad(duration time.Duration, err error)

	// RecordRun is called when a run ends. failed counts comparisons that
	// returned an error.
	RecordRun(comparisons uint64, failed int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCompare(time.Duration, error)   {}
func (NoopMetricsCollector) RecordLoad(time.Duration, error)      {}
func (NoopMetricsCollector) RecordRun(uint64, int, time.Duration) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	CompareCount      atomic.Int64
	CompareErrors     atomic.Int64
	CompareTotalNanos atomic.Int64
	LoadCount         atomic.Int64
	LoadErrors        atomic.Int64
	LoadTotalNanos    atomic.Int64
	RunCount          atomic.Int64
	RunFailed         atomic.Int64
	RunTotalNanos     atomic.Int64
}

// RecordCompare implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompare(duration time.Duration, err error) {
	b.CompareCount.Add(1)
	b.CompareTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CompareErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordRun implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRun(_ uint64, failed int, duration time.Duration) {
	b.RunCount.Add(1)
	b.RunTotalNanos.Add(duration.Nanoseconds())
	if failed > 0 {
		b.RunFailed.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CompareCount:    b.CompareCount.Load(),
		CompareErrors:   b.CompareErrors.Load(),
		CompareAvgNanos: avg(b.CompareTotalNanos.Load(), b.CompareCount.Load()),
		LoadCount:       b.LoadCount.Load(),
		LoadErrors:      b.LoadErrors.Load(),
		LoadAvgNanos:    avg(b.LoadTotalNanos.Load(), b.LoadCount.Load()),
		RunCount:        b.RunCount.Load(),
		RunFailed:       b.RunFailed.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CompareCount    int64
	CompareErrors   int64
	CompareAvgNanos int64
	LoadCount       int64
	LoadErrors      int64
	LoadAvgNanos    int64
	RunCount        int64
	RunFailed       int64
}

// observer forwards engine events to a MetricsCollector and a progress
// callback.
type observer struct {
	mc       MetricsCollector
	progress func(done, total uint64)
}

func (o observer) OnCompare(elapsed time.Duration, err error) { o.mc.RecordCompare(elapsed, err) }

func (o observer) OnLoad(_ string, elapsed time.Duration, err error) { o.mc.RecordLoad(elapsed, err) }

func (o observer) OnProgress(done, total uint64) {
	if o.progress != nil {
		o.progress(done, total)
	}
}
