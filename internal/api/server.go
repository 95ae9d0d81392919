// Package api provides the HTTP server for triggering synchronization,
// ingesting delta messages and reporting table status.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/tablesync/internal/api/health"
	v1 "github.com/stacklok/tablesync/internal/api/v1"
	"github.com/stacklok/tablesync/internal/sync/engine"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares   []func(http.Handler) http.Handler
	ready         health.ReadinessFunc
	deltaIngest   bool
	maxDeltaBytes int64
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithReadiness sets the readiness check behind /readiness
func WithReadiness(ready health.ReadinessFunc) ServerOption {
	return func(cfg *serverConfig) {
		cfg.ready = ready
	}
}

// WithDeltaIngest enables or disables POST /v1/deltas
func WithDeltaIngest(enabled bool) ServerOption {
	return func(cfg *serverConfig) {
		cfg.deltaIngest = enabled
	}
}

// WithMaxDeltaBytes bounds the size of a delta request body
func WithMaxDeltaBytes(n int64) ServerOption {
	return func(cfg *serverConfig) {
		cfg.maxDeltaBytes = n
	}
}

// NewServer creates and configures the HTTP router
func NewServer(eng engine.Engine, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{deltaIngest: true}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", health.Router(cfg.ready))
	r.Mount("/v1", v1.Router(eng, cfg.deltaIngest, v1.WithMaxDeltaBytes(cfg.maxDeltaBytes)))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
