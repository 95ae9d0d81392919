package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/tablesync/internal/config"
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/storage"
	"github.com/stacklok/tablesync/internal/sync/engine"
)

// InitializeTables resolves the configured tables and creates any missing staging tables.
// This function is idempotent and safe to call on every startup.
//
// Tables whose spec does not resolve, or whose staging table cannot be
// created, are logged and left out; it is an error only when no table is left.
func InitializeTables(ctx context.Context, cfg *config.Config, ex storage.Executor) (*schema.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if ex == nil {
		return nil, fmt.Errorf("database gateway is required")
	}

	slog.Info("Initializing tables from config")

	registry, err := schema.NewRegistry(cfg.SchemaOptions(), cfg.Tables...)
	if err != nil {
		slog.Error("Some tables were skipped", "error", err)
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no table could be registered: %w", err)
	}

	registry, err = engine.EnsureStaging(ctx, registry, ex)
	if err != nil {
		slog.Error("Some staging tables could not be created", "error", err)
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no staging table could be created: %w", err)
	}

	slog.Info(fmt.Sprintf("Successfully initialized %d table%s",
		registry.Len(), pluralize(registry.Len(), "", "s")),
		"tables", registry.Tables())

	return registry, nil
}

// pluralize returns singular or plural suffix based on count
func pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}
