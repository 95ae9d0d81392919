// Package extract pages records out of the authoritative source.
package extract

import (
	"context"
	"fmt"
)

// Page is one page of source records. TotalCount is the size of the whole
// dataset and determines how many pages a full synchronization reads.
type Page struct {
	Records    []map[string]any
	TotalCount int64
}

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client fetches source data page by page. Page numbers start at 1.
type Client interface {
	Fetch(ctx context.Context, table string, pageNo, pageSize int) (*Page, error)
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, table string, pageNo, pageSize int) (*Page, error)

// Fetch calls f
func (f ClientFunc) Fetch(ctx context.Context, table string, pageNo, pageSize int) (*Page, error) {
	return f(ctx, table, pageNo, pageSize)
}

// HTTPError is returned when the source responds with a non-200 status
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, URL: url, Message: message}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// SourceError is returned when the source answers with a non-zero envelope code
type SourceError struct {
	Code    int64
	Message string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source returned code %d: %s", e.Code, e.Message)
}
