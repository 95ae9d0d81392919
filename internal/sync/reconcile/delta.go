package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tablesync/internal/events"
	"github.com/stacklok/tablesync/internal/otel"
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/storage"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/telemetry"
)

// Delta applies change notifications one message at a time
type Delta struct {
	gateway storage.Gateway
	emitter events.Emitter
	opts    options
}

// NewDelta creates a delta reconciler
func NewDelta(gateway storage.Gateway, emitter events.Emitter, opts ...Option) *Delta {
	return &Delta{
		gateway: gateway,
		emitter: emitter,
		opts:    newOptions(opts),
	}
}

// deltaBatches collects the rows a message changed
type deltaBatches struct {
	added      []schema.Record
	updatedNew []schema.Record
	updatedOld []schema.Record
	deleted    []schema.Record
	skipped    int
}

// SyncDelta applies msg to the main table in one transaction. Updates that
// are not newer than the stored row and deletes of absent ids are skipped.
func (d *Delta) SyncDelta(ctx context.Context, desc *schema.Descriptor, msg *pkgsync.DeltaMessage) (pkgsync.Result, error) {
	result := pkgsync.Result{Table: desc.Table}
	if msg == nil || msg.Table != desc.Table {
		return result, pkgsync.NewError(pkgsync.ErrDecode, desc.Table, "message does not belong to this table", nil)
	}

	start := time.Now()
	ctx, span := otel.StartSpan(ctx, d.opts.tracer, "reconcile.SyncDelta",
		trace.WithAttributes(
			otel.AttrTableName.String(desc.Table),
			otel.AttrSyncMode.String(otel.ModeDelta),
			otel.AttrDeltaOperation.String(string(msg.Operation)),
		),
	)
	defer span.End()

	var b deltaBatches
	err := d.gateway.InTx(ctx, func(tx storage.Executor) error {
		switch msg.Operation {
		case pkgsync.OpAdd:
			return d.applyAdd(ctx, tx, desc, msg.Payload, &b)
		case pkgsync.OpUpdate:
			return d.applyUpdates(ctx, tx, desc, msg.Payload, &b)
		case pkgsync.OpDelete:
			return d.applyDelete(ctx, tx, desc, msg.IDs, &b)
		default:
			return pkgsync.NewError(pkgsync.ErrDecode, desc.Table, fmt.Sprintf("unknown operation %q", msg.Operation), nil)
		}
	})
	d.opts.metrics.RecordDelta(ctx, desc.Table, string(msg.Operation), time.Since(start), err == nil)
	if err != nil {
		err = storageError(desc.Table, fmt.Sprintf("apply %s", msg.Operation), err)
		otel.RecordError(span, err)
		return result, err
	}

	result.Added, result.Updated, result.Deleted = len(b.added), len(b.updatedNew), len(b.deleted)
	result.Skipped = b.skipped
	span.SetAttributes(otel.AttrResultCount.Int(result.Added + result.Updated + result.Deleted))

	d.opts.metrics.RecordChanges(ctx, desc.Table, telemetry.ChangeAdded, result.Added)
	d.opts.metrics.RecordChanges(ctx, desc.Table, telemetry.ChangeUpdated, result.Updated)
	d.opts.metrics.RecordChanges(ctx, desc.Table, telemetry.ChangeDeleted, result.Deleted)
	if msg.Operation != pkgsync.OpDelete {
		d.opts.metrics.RecordStaleSkips(ctx, desc.Table, b.skipped)
	}

	slog.DebugContext(ctx, "Delta applied",
		"table", desc.Table,
		"operation", string(msg.Operation),
		"added", result.Added,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"skipped", result.Skipped)

	emitAll(ctx, d.emitter,
		events.Added(desc.Table, b.added),
		events.Updated(desc.Table, b.updatedNew, b.updatedOld),
		events.Deleted(desc.Table, b.deleted),
	)
	return result, nil
}

func (d *Delta) applyAdd(ctx context.Context, tx storage.Executor, desc *schema.Descriptor, payload []schema.Record, b *deltaBatches) error {
	for _, rec := range payload {
		params := storage.Params(desc.Params(rec))

		if desc.HasTombstone() && !desc.Tombstoned(rec) {
			revived, err := reviveRow(ctx, tx, desc, rec, b)
			if err != nil {
				return err
			}
			if revived {
				continue
			}
		}

		if d.opts.addPolicy == pkgsync.AddUpsert {
			existing, err := queryRecords(ctx, tx, desc, desc.Statements.QueryByID, params)
			if err != nil {
				return storageError(desc.Table, "look up existing row", err)
			}
			if len(existing) > 0 {
				if err := applyUpdate(ctx, tx, desc, rec, b); err != nil {
					return err
				}
				continue
			}
		}

		if _, err := tx.Exec(ctx, desc.Statements.InsertDelta, params); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return pkgsync.NewError(pkgsync.ErrDuplicateKey, desc.Table,
					fmt.Sprintf("id %v already exists", desc.RecordID(rec)), err)
			}
			return storageError(desc.Table, "insert row", err)
		}
		b.added = append(b.added, rec)
	}
	return nil
}

// reviveRow overwrites a soft deleted row with rec regardless of update time,
// since the row was gone and has been added again. It reports false when no
// soft deleted row holds the id.
func reviveRow(ctx context.Context, tx storage.Executor, desc *schema.Descriptor, rec schema.Record, b *deltaBatches) (bool, error) {
	old, err := queryRecords(ctx, tx, desc, desc.Statements.QueryTombstonedByID, storage.Params(desc.Params(rec)))
	if err != nil {
		return false, storageError(desc.Table, "query soft deleted row", err)
	}
	if len(old) == 0 {
		return false, nil
	}

	live, err := desc.Revived(rec)
	if err != nil {
		return false, pkgsync.NewError(pkgsync.ErrConfiguration, desc.Table, "revive row", err)
	}
	n, err := tx.Exec(ctx, desc.Statements.ReviveDelta, storage.Params(desc.Params(live)))
	if err != nil {
		return false, storageError(desc.Table, "revive row", err)
	}
	if n == 0 {
		return false, nil
	}

	b.updatedNew = append(b.updatedNew, live)
	b.updatedOld = append(b.updatedOld, old[0])
	return true, nil
}

func (d *Delta) applyUpdates(ctx context.Context, tx storage.Executor, desc *schema.Descriptor, payload []schema.Record, b *deltaBatches) error {
	for _, rec := range payload {
		if err := applyUpdate(ctx, tx, desc, rec, b); err != nil {
			return err
		}
	}
	return nil
}

// applyUpdate reads the pre-image only when the staleness guard passes, then
// writes under the same guard. A row that fails the guard is skipped.
func applyUpdate(ctx context.Context, tx storage.Executor, desc *schema.Descriptor, rec schema.Record, b *deltaBatches) error {
	params := storage.Params(desc.Params(rec))

	old, err := queryRecords(ctx, tx, desc, desc.Statements.QueryStaleByID, params)
	if err != nil {
		return storageError(desc.Table, "query pre-update row", err)
	}
	if len(old) == 0 {
		b.skipped++
		return nil
	}

	n, err := tx.Exec(ctx, desc.Statements.UpdateDelta, params)
	if err != nil {
		return storageError(desc.Table, "update row", err)
	}
	if n == 0 {
		b.skipped++
		return nil
	}

	b.updatedNew = append(b.updatedNew, rec)
	b.updatedOld = append(b.updatedOld, old[0])
	return nil
}

func (d *Delta) applyDelete(ctx context.Context, tx storage.Executor, desc *schema.Descriptor, ids []any, b *deltaBatches) error {
	for _, id := range ids {
		params := storage.Params{desc.ID.Field: id}

		old, err := queryRecords(ctx, tx, desc, desc.Statements.QueryDeletableByID, params)
		if err != nil {
			return storageError(desc.Table, "query pre-delete row", err)
		}
		if len(old) == 0 {
			b.skipped++
			continue
		}

		n, err := tx.Exec(ctx, desc.Statements.DeleteDelta, params)
		if err != nil {
			return storageError(desc.Table, "delete row", err)
		}
		if n > 0 {
			b.deleted = append(b.deleted, old[0])
		}
	}
	return nil
}
