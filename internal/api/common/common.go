package common

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	pkgsync "github.com/stacklok/tablesync/internal/sync"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Table string `json:"table,omitempty"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// WriteSyncError maps a synchronization error to its HTTP status and writes it
func WriteSyncError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var syncErr *pkgsync.Error
	if errors.As(err, &syncErr) {
		resp.Table = syncErr.Table
		if syncErr.Kind != nil {
			resp.Kind = syncErr.Kind.Error()
		}
	}
	WriteJSONResponse(w, resp, StatusForError(err))
}

// StatusForError returns the HTTP status for a synchronization error
func StatusForError(err error) int {
	switch {
	case errors.Is(err, pkgsync.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, pkgsync.ErrConfiguration):
		return http.StatusNotFound
	case errors.Is(err, pkgsync.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, pkgsync.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkgsync.ErrExtraction):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
