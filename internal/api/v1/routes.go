// Package v1 provides the synchronization endpoints: delta ingest, manual
// full sync triggers and table status.
package v1

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tablesync/internal/api/common"
	"github.com/stacklok/tablesync/internal/status"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/sync/engine"
)

// DefaultMaxDeltaBytes bounds the size of a delta request body
const DefaultMaxDeltaBytes = 10 << 20

// TablesResponse lists the status of every table
type TablesResponse struct {
	Tables []status.TableStatus `json:"tables"`
	Total  int                  `json:"total"`
}

// Routes holds the handler dependencies
type Routes struct {
	engine        engine.Engine
	maxDeltaBytes int64
}

// RouterOption configures the v1 routes
type RouterOption func(*Routes)

// WithMaxDeltaBytes bounds the delta request body. Non-positive values are ignored.
func WithMaxDeltaBytes(n int64) RouterOption {
	return func(r *Routes) {
		if n > 0 {
			r.maxDeltaBytes = n
		}
	}
}

// Router creates the v1 router. Delta ingest is only mounted when deltas is true.
func Router(eng engine.Engine, deltas bool, opts ...RouterOption) http.Handler {
	routes := &Routes{engine: eng, maxDeltaBytes: DefaultMaxDeltaBytes}
	for _, opt := range opts {
		opt(routes)
	}

	r := chi.NewRouter()
	if deltas {
		r.Post("/deltas", routes.postDelta)
	}
	r.Get("/tables", routes.listTables)
	r.Get("/tables/{table}", routes.getTable)
	r.Post("/tables/{table}/sync", routes.syncTable)

	return r
}

// postDelta handles POST /v1/deltas
func (rr *Routes) postDelta(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rr.maxDeltaBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.WriteErrorResponse(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		common.WriteErrorResponse(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	result, err := rr.engine.HandleRaw(r.Context(), body)
	if err != nil {
		if errors.Is(err, pkgsync.ErrDecode) {
			slog.WarnContext(r.Context(), "Dropping malformed delta message", "error", err)
		} else {
			slog.ErrorContext(r.Context(), "Failed to apply delta message", "table", result.Table, "error", err)
		}
		common.WriteSyncError(w, err)
		return
	}

	common.WriteJSONResponse(w, result, http.StatusAccepted)
}

// syncTable handles POST /v1/tables/{table}/sync
func (rr *Routes) syncTable(w http.ResponseWriter, r *http.Request) {
	table, err := common.TableParam(r, "table")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.InfoContext(r.Context(), "Manual full sync requested", "table", table)
	result, err := rr.engine.SyncFull(r.Context(), table)
	if err != nil {
		common.WriteSyncError(w, err)
		return
	}

	common.WriteJSONResponse(w, result, http.StatusOK)
}

// listTables handles GET /v1/tables
func (rr *Routes) listTables(w http.ResponseWriter, _ *http.Request) {
	tables := rr.engine.Statuses()
	common.WriteJSONResponse(w, TablesResponse{Tables: tables, Total: len(tables)}, http.StatusOK)
}

// getTable handles GET /v1/tables/{table}
func (rr *Routes) getTable(w http.ResponseWriter, r *http.Request) {
	table, err := common.TableParam(r, "table")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, st := range rr.engine.Statuses() {
		if st.Table == table {
			common.WriteJSONResponse(w, st, http.StatusOK)
			return
		}
	}
	common.WriteErrorResponse(w, "table not found", http.StatusNotFound)
}
