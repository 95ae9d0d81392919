package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeterProvider(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestNewSyncMetrics_NilProvider(t *testing.T) {
	t.Parallel()

	metrics, err := NewSyncMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	// Nil metrics are no-ops
	ctx := context.Background()
	metrics.RecordFullSync(ctx, "device", time.Second, true)
	metrics.RecordDelta(ctx, "device", "ADD", time.Second, true)
	metrics.RecordChanges(ctx, "device", ChangeAdded, 3)
	metrics.RecordStaleSkips(ctx, "device", 1)
	metrics.RecordLockWait(ctx, "device", time.Millisecond)
}

func TestSyncMetrics_Record(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	metrics, err := NewSyncMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	ctx := context.Background()
	metrics.RecordFullSync(ctx, "device", 2*time.Second, true)
	metrics.RecordDelta(ctx, "device", "UPDATE", 10*time.Millisecond, false)
	metrics.RecordChanges(ctx, "device", ChangeAdded, 3)
	metrics.RecordChanges(ctx, "device", ChangeAdded, 2)
	metrics.RecordChanges(ctx, "device", ChangeDeleted, 0)
	metrics.RecordStaleSkips(ctx, "device", 4)
	metrics.RecordLockWait(ctx, "device", 5*time.Millisecond)

	data := collect(t, reader)

	full, ok := data["tablesync_full_sync_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, full.DataPoints, 1)
	assert.Equal(t, uint64(1), full.DataPoints[0].Count)
	assert.InDelta(t, 2.0, full.DataPoints[0].Sum, 0.0001)
	success, _ := full.DataPoints[0].Attributes.Value(attribute.Key("success"))
	assert.True(t, success.AsBool())

	delta, ok := data["tablesync_delta_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, delta.DataPoints, 1)
	op, _ := delta.DataPoints[0].Attributes.Value(attribute.Key("operation"))
	assert.Equal(t, "UPDATE", op.AsString())

	changes, ok := data["tablesync_changes_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, changes.DataPoints, 1, "zero counts are not recorded")
	assert.Equal(t, int64(5), changes.DataPoints[0].Value)

	skips, ok := data["tablesync_stale_skips_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, skips.DataPoints, 1)
	assert.Equal(t, int64(4), skips.DataPoints[0].Value)

	wait, ok := data["tablesync_lock_wait_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, wait.DataPoints, 1)
	assert.Equal(t, uint64(1), wait.DataPoints[0].Count)
}
