// Package reconcile implements the two synchronization algorithms.
//
// Staging performs a full reconciliation: it pages the source into the
// staging table and applies the computed inserts, updates and deletes to the
// main table in one transaction. Delta applies a single change notification in
// one transaction under the update-time staleness guard.
//
// Both emit one event per non-empty batch after the transaction commits.
// Neither acquires table locks; callers go through the coordinator.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tablesync/internal/events"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/telemetry"
)

// DefaultPageSize is the number of source records fetched per page
const DefaultPageSize = 200

type options struct {
	pageSize  int
	addPolicy pkgsync.AddPolicy
	metrics   *telemetry.SyncMetrics
	tracer    trace.Tracer
}

// Option configures a reconciler
type Option func(*options)

// WithPageSize sets the full sync page size. Non-positive values are ignored.
func WithPageSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.pageSize = size
		}
	}
}

// WithAddPolicy sets how a delta ADD treats existing ids
func WithAddPolicy(policy pkgsync.AddPolicy) Option {
	return func(o *options) {
		o.addPolicy = policy
	}
}

// WithSyncMetrics sets the metrics recorder
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithTracer sets the tracer used for operation spans
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func newOptions(opts []Option) options {
	o := options{
		pageSize:  DefaultPageSize,
		addPolicy: pkgsync.AddStrict,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// emitAll hands each non-empty batch to the emitter. The changes are already
// committed, so emitter failures are logged rather than returned.
func emitAll(ctx context.Context, emitter events.Emitter, batches ...events.Event) {
	for _, batch := range batches {
		if batch.Len() == 0 {
			continue
		}
		if err := emitter.Emit(ctx, batch); err != nil {
			slog.ErrorContext(ctx, "Failed to emit change batch",
				"table", batch.Table,
				"kind", string(batch.Kind),
				"rows", batch.Len(),
				"error", err)
		}
	}
}

// storageError wraps err as ErrStorage unless it already carries a kind.
func storageError(table, message string, err error) error {
	var syncErr *pkgsync.Error
	if errors.As(err, &syncErr) {
		return err
	}
	return pkgsync.NewError(pkgsync.ErrStorage, table, message, err)
}
