package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	syncapp "github.com/stacklok/tablesync/internal/app"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full synchronization and exit",
		Long: `Run a full synchronization of one table (--table) or of every configured
table, print the results as JSON and exit. The command fails when any table fails.`,
		RunE: runSync,
	}

	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().String("table", "", "Only synchronize this table")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	v, err := bindFlags(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if cfg.Source == nil {
		return fmt.Errorf("a source endpoint is required for a full synchronization")
	}

	app, err := syncapp.NewSyncApp(ctx,
		syncapp.WithConfig(cfg),
		syncapp.WithKafkaConsumer(false),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Stop(defaultGracefulTimeout); err != nil {
			slog.Error("Failed to release resources", "error", err)
		}
	}()

	var (
		results []pkgsync.Result
		syncErr error
	)
	if table := v.GetString("table"); table != "" {
		var result pkgsync.Result
		result, syncErr = app.GetEngine().SyncFull(ctx, table)
		results = []pkgsync.Result{result}
	} else {
		results, syncErr = app.GetEngine().SyncAll(ctx)
	}

	output, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format results as JSON: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(output)); err != nil {
		return err
	}

	return syncErr
}
