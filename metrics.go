package offline

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordRefresh is called after each reference-data refresh.
	// duration is the total time taken, err is nil if successful.
	RecordRefresh(duration time.Duration, err error)

	// RecordEnqueue is called after each mutation enqueue.
	RecordEnqueue(err error)

	// RecordDrain is called after each queue drain attempt.
	// applied is the number of entries acknowledged and removed,
	// remaining is the number still queued when the drain stopped.
	RecordDrain(applied, remaining int, duration time.Duration, err error)

	// RecordDraftSave is called after each draft line save.
	RecordDraftSave(err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRefresh(time.Duration, error)         {}
func (NoopMetricsCollector) RecordEnqueue(error)                        {}
func (NoopMetricsCollector) RecordDrain(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDraftSave(error)                      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RefreshCount      atomic.Int64
	RefreshErrors     atomic.Int64
	RefreshTotalNanos atomic.Int64
	EnqueueCount      atomic.Int64
	EnqueueErrors     atomic.Int64
	DrainCount        atomic.Int64
	DrainErrors       atomic.Int64
	DrainApplied      atomic.Int64
	DrainRemaining    atomic.Int64
	DraftSaveCount    atomic.Int64
	DraftSaveErrors   atomic.Int64
}

// RecordRefresh implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRefresh(duration time.Duration, err error) {
	b.RefreshCount.Add(1)
	b.RefreshTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RefreshErrors.Add(1)
	}
}

// RecordEnqueue implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEnqueue(err error) {
	b.EnqueueCount.Add(1)
	if err != nil {
		b.EnqueueErrors.Add(1)
	}
}

// RecordDrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDrain(applied, remaining int, duration time.Duration, err error) {
	b.DrainCount.Add(1)
	b.DrainApplied.Add(int64(applied))
	b.DrainRemaining.Store(int64(remaining))
	if err != nil {
		b.DrainErrors.Add(1)
	}
}

// RecordDraftSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDraftSave(err error) {
	b.DraftSaveCount.Add(1)
	if err != nil {
		b.DraftSaveErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RefreshCount:    b.RefreshCount.Load(),
		RefreshErrors:   b.RefreshErrors.Load(),
		RefreshAvgNanos: b.getAvgRefreshNanos(),
		EnqueueCount:    b.EnqueueCount.Load(),
		EnqueueErrors:   b.EnqueueErrors.Load(),
		DrainCount:      b.DrainCount.Load(),
		DrainErrors:     b.DrainErrors.Load(),
		DrainApplied:    b.DrainApplied.Load(),
		DrainRemaining:  b.DrainRemaining.Load(),
		DraftSaveCount:  b.DraftSaveCount.Load(),
		DraftSaveErrors: b.DraftSaveErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgRefreshNanos() int64 {
	count := b.RefreshCount.Load()
	if count == 0 {
		return 0
	}
	return b.RefreshTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RefreshCount    int64
	RefreshErrors   int64
	RefreshAvgNanos int64
	EnqueueCount    int64
	EnqueueErrors   int64
	DrainCount      int64
	DrainErrors     int64
	DrainApplied    int64
	DrainRemaining  int64
	DraftSaveCount  int64
	DraftSaveErrors int64
}
