// Package app provides application lifecycle management for the sync server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/tablesync/internal/config"
	"github.com/stacklok/tablesync/internal/sync/engine"
)

// SyncApp encapsulates all components needed to run the sync server.
// It provides lifecycle management and graceful shutdown.
type SyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server
	closers    []func() error

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the scheduler, the optional Kafka consumer and the HTTP server.
// It blocks until the HTTP server stops or fails.
func (app *SyncApp) Start() error {
	if app.components.Scheduler != nil {
		go func() {
			if err := app.components.Scheduler.Start(app.ctx); err != nil {
				slog.Error("Sync scheduler failed", "error", err)
			}
		}()
	} else {
		slog.Warn("No source configured, full synchronization is disabled")
	}

	if app.components.Consumer != nil {
		go func() {
			if err := app.components.Consumer.Run(app.ctx); err != nil {
				slog.Error("Kafka delta consumer failed", "error", err)
			}
		}()
	}

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout.
// The scheduler stops first so no new full sync starts during shutdown.
func (app *SyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if app.components.Scheduler != nil {
		if err := app.components.Scheduler.Stop(); err != nil {
			slog.Error("Failed to stop sync scheduler", "error", err)
		}
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)
	app.close()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// close releases the consumer, emitters and database in reverse build order
func (app *SyncApp) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			slog.Error("Failed to release resource", "error", err)
		}
	}
	app.closers = nil
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// GetEngine returns the sync engine
func (app *SyncApp) GetEngine() engine.Engine {
	return app.components.Engine
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
