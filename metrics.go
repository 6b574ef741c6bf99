package soma

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    openCounter    prometheus.Counter
//	    queryHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordOpen(duration time.Duration, err error) {
//	    p.openCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordOpen is called after each open or reopen.
	// duration is the total time taken, err is nil if successful.
	RecordOpen(duration time.Duration, err error)

	// RecordQuery is called after each query round: a write submit or one
	// read batch production.
	RecordQuery(duration time.Duration, err error)

	// RecordBatch is called after each result batch handed to the caller.
	// rows is the number of rows in the batch.
	RecordBatch(rows int, duration time.Duration)

	// RecordNNZ is called after each non-zero count.
	RecordNNZ(duration time.Duration, err error)

	// RecordMetadata is called after each metadata mutation or lookup.
	RecordMetadata(duration time.Duration, err error)

	// RecordClose is called after each close.
	RecordClose(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOpen(time.Duration, error)     {}
func (NoopMetricsCollector) RecordQuery(time.Duration, error)    {}
func (NoopMetricsCollector) RecordBatch(int, time.Duration)      {}
func (NoopMetricsCollector) RecordNNZ(time.Duration, error)      {}
func (NoopMetricsCollector) RecordMetadata(time.Duration, error) {}
func (NoopMetricsCollector) RecordClose(time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	OpenCount       atomic.Int64
	OpenErrors      atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	BatchCount      atomic.Int64
	BatchRows       atomic.Int64
	NNZCount        atomic.Int64
	NNZErrors       atomic.Int64
	NNZTotalNanos   atomic.Int64
	MetadataCount   atomic.Int64
	MetadataErrors  atomic.Int64
	CloseCount      atomic.Int64
	CloseErrors     atomic.Int64
}

// RecordOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOpen(duration time.Duration, err error) {
	b.OpenCount.Add(1)
	if err != nil {
		b.OpenErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(rows int, duration time.Duration) {
	b.BatchCount.Add(1)
	b.BatchRows.Add(int64(rows))
}

// RecordNNZ implements MetricsCollector.
func (b *BasicMetricsCollector) RecordNNZ(duration time.Duration, err error) {
	b.NNZCount.Add(1)
	b.NNZTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.NNZErrors.Add(1)
	}
}

// RecordMetadata implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMetadata(duration time.Duration, err error) {
	b.MetadataCount.Add(1)
	if err != nil {
		b.MetadataErrors.Add(1)
	}
}

// RecordClose implements MetricsCollector.
func (b *BasicMetricsCollector) RecordClose(duration time.Duration, err error) {
	b.CloseCount.Add(1)
	if err != nil {
		b.CloseErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		OpenCount:      b.OpenCount.Load(),
		OpenErrors:     b.OpenErrors.Load(),
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryAvgNanos:  b.getAvgQueryNanos(),
		BatchCount:     b.BatchCount.Load(),
		BatchRows:      b.BatchRows.Load(),
		NNZCount:       b.NNZCount.Load(),
		NNZErrors:      b.NNZErrors.Load(),
		NNZAvgNanos:    b.getAvgNNZNanos(),
		MetadataCount:  b.MetadataCount.Load(),
		MetadataErrors: b.MetadataErrors.Load(),
		CloseCount:     b.CloseCount.Load(),
		CloseErrors:    b.CloseErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgNNZNanos() int64 {
	count := b.NNZCount.Load()
	if count == 0 {
		return 0
	}
	return b.NNZTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	OpenCount      int64
	OpenErrors     int64
	QueryCount     int64
	QueryErrors    int64
	QueryAvgNanos  int64
	BatchCount     int64
	BatchRows      int64
	NNZCount       int64
	NNZErrors      int64
	NNZAvgNanos    int64
	MetadataCount  int64
	MetadataErrors int64
	CloseCount     int64
	CloseErrors    int64
}
