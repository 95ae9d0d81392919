package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/tablesync/sync"

	// HTTPMetricsMeterName is the name used for the HTTP metrics meter
	HTTPMetricsMeterName = "github.com/stacklok/tablesync/http"
)

// Change kinds reported by RecordChanges
const (
	ChangeAdded   = "added"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

var durationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// SyncMetrics holds the OpenTelemetry instruments for synchronization
type SyncMetrics struct {
	fullSyncDuration metric.Float64Histogram
	deltaDuration    metric.Float64Histogram
	changes          metric.Int64Counter
	staleSkips       metric.Int64Counter
	lockWait         metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	fullSyncDuration, err := meter.Float64Histogram(
		"tablesync_full_sync_duration_seconds",
		metric.WithDescription("Duration of full synchronizations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	deltaDuration, err := meter.Float64Histogram(
		"tablesync_delta_duration_seconds",
		metric.WithDescription("Duration of delta message application in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	changes, err := meter.Int64Counter(
		"tablesync_changes_total",
		metric.WithDescription("Rows changed in the main table"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	staleSkips, err := meter.Int64Counter(
		"tablesync_stale_skips_total",
		metric.WithDescription("Delta updates skipped because the stored row was newer"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	lockWait, err := meter.Float64Histogram(
		"tablesync_lock_wait_seconds",
		metric.WithDescription("Time spent waiting for a table lock in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		fullSyncDuration: fullSyncDuration,
		deltaDuration:    deltaDuration,
		changes:          changes,
		staleSkips:       staleSkips,
		lockWait:         lockWait,
	}, nil
}

// RecordFullSync records the duration and outcome of a full synchronization
func (m *SyncMetrics) RecordFullSync(ctx context.Context, table string, duration time.Duration, success bool) {
	if m == nil {
		return
	}

	m.fullSyncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("table", table),
		attribute.Bool("success", success),
	))
}

// RecordDelta records the duration and outcome of a delta message
func (m *SyncMetrics) RecordDelta(ctx context.Context, table, operation string, duration time.Duration, success bool) {
	if m == nil {
		return
	}

	m.deltaDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))
}

// RecordChanges adds n rows of the given change kind. Zero is not recorded.
func (m *SyncMetrics) RecordChanges(ctx context.Context, table, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}

	m.changes.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("kind", kind),
	))
}

// RecordStaleSkips adds n skipped delta updates
func (m *SyncMetrics) RecordStaleSkips(ctx context.Context, table string, n int) {
	if m == nil || n <= 0 {
		return
	}

	m.staleSkips.Add(ctx, int64(n), metric.WithAttributes(attribute.String("table", table)))
}

// RecordLockWait records how long an operation waited for the table lock
func (m *SyncMetrics) RecordLockWait(ctx context.Context, table string, wait time.Duration) {
	if m == nil {
		return
	}

	m.lockWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("table", table)))
}
