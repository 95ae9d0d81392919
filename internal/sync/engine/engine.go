// Package engine is the entry point for every synchronization trigger.
//
// Startup, the scheduler, the HTTP API and the Kafka consumer all call the
// Engine. It looks the table up in the registry, takes the table's lock
// through the coordinator and runs the full or delta reconciler while the
// lock is held.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/tablesync/internal/events"
	"github.com/stacklok/tablesync/internal/extract"
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/status"
	"github.com/stacklok/tablesync/internal/storage"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/sync/coordinator"
	"github.com/stacklok/tablesync/internal/sync/reconcile"
	"github.com/stacklok/tablesync/internal/telemetry"
)

// DefaultConcurrency bounds how many tables SyncAll reconciles at once
const DefaultConcurrency = 4

// Engine runs synchronization operations under the per-table locks
//
//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/stacklok/tablesync/internal/sync/engine Engine
type Engine interface {
	// SyncFull reconciles one table against the source
	SyncFull(ctx context.Context, table string) (pkgsync.Result, error)

	// SyncAll reconciles every registered table. A failing table does not stop the others.
	SyncAll(ctx context.Context) ([]pkgsync.Result, error)

	// ApplyDelta applies one decoded change notification
	ApplyDelta(ctx context.Context, msg *pkgsync.DeltaMessage) (pkgsync.Result, error)

	// HandleRaw decodes a wire message and applies it
	HandleRaw(ctx context.Context, raw []byte) (pkgsync.Result, error)

	// Tables lists the registered tables
	Tables() []string

	// Statuses reports the lock phase and last outcome of every table
	Statuses() []status.TableStatus
}

type defaultEngine struct {
	registry    *schema.Registry
	coordinator *coordinator.Coordinator
	staging     *reconcile.Staging
	delta       *reconcile.Delta
	concurrency int
}

type options struct {
	reconcile   []reconcile.Option
	coordinator []coordinator.Option
	concurrency int
}

// Option configures the engine
type Option func(*options)

// WithReconcileOptions passes options to both reconcilers
func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(o *options) {
		o.reconcile = append(o.reconcile, opts...)
	}
}

// WithCoordinatorOptions passes options to the coordinator
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(o *options) {
		o.coordinator = append(o.coordinator, opts...)
	}
}

// WithSyncMetrics records metrics in the coordinator and both reconcilers
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(o *options) {
		o.reconcile = append(o.reconcile, reconcile.WithSyncMetrics(metrics))
		o.coordinator = append(o.coordinator, coordinator.WithSyncMetrics(metrics))
	}
}

// WithConcurrency bounds SyncAll. Non-positive values are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// New creates an engine over the tables in registry
func New(
	registry *schema.Registry,
	gateway storage.Gateway,
	client extract.Client,
	emitter events.Emitter,
	opts ...Option,
) Engine {
	o := options{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	return &defaultEngine{
		registry:    registry,
		coordinator: coordinator.New(registry.Tables(), o.coordinator...),
		staging:     reconcile.NewStaging(gateway, client, emitter, o.reconcile...),
		delta:       reconcile.NewDelta(gateway, emitter, o.reconcile...),
		concurrency: o.concurrency,
	}
}

// EnsureStaging creates the staging table of every registered table that lacks one.
// It returns the registry of tables whose staging table is ready. Tables that
// fail are left out and their errors joined, so one broken table does not
// stop the others.
func EnsureStaging(ctx context.Context, registry *schema.Registry, ex storage.Executor) (*schema.Registry, error) {
	var failed []string
	var errs []error
	for _, table := range registry.Tables() {
		desc, _ := registry.Get(table)
		if _, err := ex.Exec(ctx, desc.Statements.CreateStaging, nil); err != nil {
			failed = append(failed, table)
			errs = append(errs, pkgsync.NewError(pkgsync.ErrStorage, table,
				fmt.Sprintf("create staging table %s", desc.StagingTable), err))
			continue
		}
		slog.DebugContext(ctx, "Staging table ready", "table", table, "staging_table", desc.StagingTable)
	}
	return registry.Without(failed...), errors.Join(errs...)
}

func (e *defaultEngine) SyncFull(ctx context.Context, table string) (pkgsync.Result, error) {
	desc, err := e.descriptor(table)
	if err != nil {
		return pkgsync.Result{Table: table}, err
	}

	var result pkgsync.Result
	err = e.coordinator.WithTableLock(ctx, table, status.OperationFull, func() error {
		var syncErr error
		result, syncErr = e.staging.SyncFull(context.WithoutCancel(ctx), desc)
		return syncErr
	})
	if result.Table == "" {
		result.Table = table
	}
	return result, err
}

func (e *defaultEngine) SyncAll(ctx context.Context) ([]pkgsync.Result, error) {
	tables := e.registry.Tables()
	results := make([]pkgsync.Result, len(tables))
	errs := make([]error, len(tables))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, table := range tables {
		g.Go(func() error {
			results[i], errs[i] = e.SyncFull(ctx, table)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func (e *defaultEngine) ApplyDelta(ctx context.Context, msg *pkgsync.DeltaMessage) (pkgsync.Result, error) {
	if msg == nil {
		return pkgsync.Result{}, pkgsync.NewError(pkgsync.ErrDecode, "", "empty message", nil)
	}
	desc, ok := e.registry.Get(msg.Table)
	if !ok {
		return pkgsync.Result{Table: msg.Table},
			pkgsync.NewError(pkgsync.ErrDecode, msg.Table, "table is not registered", nil)
	}

	var result pkgsync.Result
	err := e.coordinator.WithTableLock(ctx, msg.Table, status.OperationDelta, func() error {
		var syncErr error
		result, syncErr = e.delta.SyncDelta(context.WithoutCancel(ctx), desc, msg)
		return syncErr
	})
	if result.Table == "" {
		result.Table = msg.Table
	}
	return result, err
}

func (e *defaultEngine) HandleRaw(ctx context.Context, raw []byte) (pkgsync.Result, error) {
	msg, err := pkgsync.DecodeDelta(raw, e.registry)
	if err != nil {
		return pkgsync.Result{}, err
	}
	return e.ApplyDelta(ctx, msg)
}

func (e *defaultEngine) Tables() []string {
	return e.registry.Tables()
}

func (e *defaultEngine) Statuses() []status.TableStatus {
	return e.coordinator.Statuses()
}

func (e *defaultEngine) descriptor(table string) (*schema.Descriptor, error) {
	desc, ok := e.registry.Get(table)
	if !ok {
		return nil, pkgsync.NewError(pkgsync.ErrConfiguration, table, "table is not registered", nil)
	}
	return desc, nil
}
