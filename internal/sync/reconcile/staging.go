package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tablesync/internal/events"
	"github.com/stacklok/tablesync/internal/extract"
	"github.com/stacklok/tablesync/internal/otel"
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/storage"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/telemetry"
)

// Staging performs full reconciliation through a staging table
type Staging struct {
	gateway storage.Gateway
	client  extract.Client
	emitter events.Emitter
	opts    options
}

// NewStaging creates a full reconciler
func NewStaging(gateway storage.Gateway, client extract.Client, emitter events.Emitter, opts ...Option) *Staging {
	return &Staging{
		gateway: gateway,
		client:  client,
		emitter: emitter,
		opts:    newOptions(opts),
	}
}

// SyncFull replaces the staging contents with the current source data and
// applies the difference to the main table. Additions, updates and deletions
// commit together or not at all.
func (s *Staging) SyncFull(ctx context.Context, desc *schema.Descriptor) (pkgsync.Result, error) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, s.opts.tracer, "reconcile.SyncFull",
		trace.WithAttributes(
			otel.AttrTableName.String(desc.Table),
			otel.AttrSyncMode.String(otel.ModeFull),
		),
	)
	defer span.End()

	result, err := s.syncFull(ctx, desc)
	s.opts.metrics.RecordFullSync(ctx, desc.Table, time.Since(start), err == nil)
	if err != nil {
		otel.RecordError(span, err)
		slog.ErrorContext(ctx, "Full sync failed", "table", desc.Table, "error", err)
		return result, err
	}

	span.SetAttributes(otel.AttrResultCount.Int(result.Added + result.Updated + result.Deleted))
	slog.InfoContext(ctx, "Full sync completed",
		"table", desc.Table,
		"pages", result.Pages,
		"staged", result.Staged,
		"added", result.Added,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"duration", time.Since(start))
	return result, nil
}

func (s *Staging) syncFull(ctx context.Context, desc *schema.Descriptor) (pkgsync.Result, error) {
	result := pkgsync.Result{Table: desc.Table}
	stmts := desc.Statements

	if _, err := s.gateway.Exec(ctx, stmts.ClearStaging, nil); err != nil {
		return result, storageError(desc.Table, "clear staging table", err)
	}

	if err := s.stage(ctx, desc, &result); err != nil {
		return result, err
	}

	var added, updatedNew, updatedOld, deleted []schema.Record
	err := s.gateway.InTx(ctx, func(tx storage.Executor) error {
		var err error
		if added, err = queryRecords(ctx, tx, desc, stmts.QueryAdded, nil); err != nil {
			return storageError(desc.Table, "query added rows", err)
		}
		if len(added) > 0 {
			if _, err := tx.Exec(ctx, stmts.Add, nil); err != nil {
				return storageError(desc.Table, "insert added rows", err)
			}
		}

		if updatedNew, err = queryRecords(ctx, tx, desc, stmts.QueryUpdated, nil); err != nil {
			return storageError(desc.Table, "query updated rows", err)
		}
		if len(updatedNew) > 0 {
			if updatedOld, err = queryRecords(ctx, tx, desc, stmts.QueryOldForUpdate, nil); err != nil {
				return storageError(desc.Table, "query pre-update rows", err)
			}
			if len(updatedOld) != len(updatedNew) {
				return pkgsync.NewError(pkgsync.ErrStorage, desc.Table,
					fmt.Sprintf("update pre-images out of step: %d new, %d old", len(updatedNew), len(updatedOld)), nil)
			}
			if _, err := tx.Exec(ctx, stmts.UpdateAll, nil); err != nil {
				return storageError(desc.Table, "update changed rows", err)
			}
		}

		if deleted, err = queryRecords(ctx, tx, desc, stmts.QueryDeleted, nil); err != nil {
			return storageError(desc.Table, "query deleted rows", err)
		}
		if len(deleted) > 0 {
			if _, err := tx.Exec(ctx, stmts.DeleteAll, nil); err != nil {
				return storageError(desc.Table, "delete removed rows", err)
			}
		}
		return nil
	})
	if err != nil {
		return result, storageError(desc.Table, "apply changes", err)
	}

	result.Added, result.Updated, result.Deleted = len(added), len(updatedNew), len(deleted)
	s.opts.metrics.RecordChanges(ctx, desc.Table, telemetry.ChangeAdded, result.Added)
	s.opts.metrics.RecordChanges(ctx, desc.Table, telemetry.ChangeUpdated, result.Updated)
	s.opts.metrics.RecordChanges(ctx, desc.Table, telemetry.ChangeDeleted, result.Deleted)

	emitAll(ctx, s.emitter,
		events.Added(desc.Table, added),
		events.Updated(desc.Table, updatedNew, updatedOld),
		events.Deleted(desc.Table, deleted),
	)
	return result, nil
}

// stage loads the source into the staging table one page at a time.
// totalPages is recomputed from every response, so a source whose size
// changes mid-sync is followed; the page index only grows.
func (s *Staging) stage(ctx context.Context, desc *schema.Descriptor, result *pkgsync.Result) error {
	pageSize := s.opts.pageSize

	for pageNo, totalPages := 1, 1; pageNo <= totalPages; pageNo++ {
		page, err := s.fetch(ctx, desc.Table, pageNo, pageSize)
		if err != nil {
			return err
		}
		result.Pages++

		if len(page.Records) > 0 {
			batch, err := stagingBatch(desc, pageNo, page.Records)
			if err != nil {
				return err
			}
			if _, err := s.gateway.ExecBatch(ctx, desc.Statements.InsertStaging, batch); err != nil {
				return storageError(desc.Table, fmt.Sprintf("stage page %d", pageNo), err)
			}
			result.Staged += len(batch)
		}

		totalPages = int((page.TotalCount + int64(pageSize) - 1) / int64(pageSize))
		slog.DebugContext(ctx, "Staged page",
			"table", desc.Table,
			"page", pageNo,
			"total_pages", totalPages,
			"records", len(page.Records))
	}
	return nil
}

func (s *Staging) fetch(ctx context.Context, table string, pageNo, pageSize int) (*extract.Page, error) {
	ctx, span := otel.StartSpan(ctx, s.opts.tracer, "extract.Fetch",
		trace.WithAttributes(otel.AttrTableName.String(table), otel.AttrPageNo.Int(pageNo)))
	defer span.End()

	page, err := s.client.Fetch(ctx, table, pageNo, pageSize)
	if err != nil {
		otel.RecordError(span, err)
		return nil, pkgsync.NewError(pkgsync.ErrExtraction, table, fmt.Sprintf("fetch page %d", pageNo), err)
	}
	if page == nil {
		return nil, pkgsync.NewError(pkgsync.ErrExtraction, table, fmt.Sprintf("fetch page %d: empty response", pageNo), nil)
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(page.Records)))
	return page, nil
}

func stagingBatch(desc *schema.Descriptor, pageNo int, records []map[string]any) ([]storage.Params, error) {
	batch := make([]storage.Params, 0, len(records))
	for i, raw := range records {
		rec, err := desc.RecordFromPayload(raw)
		if err != nil {
			return nil, pkgsync.NewError(pkgsync.ErrExtraction, desc.Table,
				fmt.Sprintf("page %d record %d", pageNo, i), err)
		}
		if desc.RecordID(rec) == nil {
			return nil, pkgsync.NewError(pkgsync.ErrExtraction, desc.Table,
				fmt.Sprintf("page %d record %d has no %s", pageNo, i, desc.ID.Field), nil)
		}
		batch = append(batch, desc.Params(rec))
	}
	return batch, nil
}

func queryRecords(ctx context.Context, ex storage.Executor, desc *schema.Descriptor, sql string, params storage.Params) ([]schema.Record, error) {
	rows, err := ex.Query(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	return desc.RecordsFromRows(storage.Maps(rows))
}
