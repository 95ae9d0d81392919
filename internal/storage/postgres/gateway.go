// Package postgres implements storage.Gateway on top of a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/tablesync/internal/storage"
)

// uniqueViolation is the SQLSTATE raised for primary key and unique constraint violations
const uniqueViolation = "23505"

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Gateway executes statements through a pgx pool
type Gateway struct {
	pool *pgxpool.Pool
	executor
}

// New wraps an existing pool. The gateway takes ownership and closes it on Close.
func New(pool *pgxpool.Pool) (*Gateway, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &Gateway{pool: pool, executor: executor{q: pool}}, nil
}

// Connect creates a pool from a connection string and verifies it with a ping.
func Connect(ctx context.Context, connString string, maxConns int32) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.InfoContext(ctx, "Database connection established",
		"host", cfg.ConnConfig.Host,
		"port", cfg.ConnConfig.Port,
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns)

	return New(pool)
}

// InTx runs fn inside a read-committed transaction. Callers hold the table lock.
func (g *Gateway) InTx(ctx context.Context, fn func(storage.Executor) error) error {
	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			slog.WarnContext(ctx, "Failed to roll back transaction", "error", rollbackErr)
		}
	}()

	if err := fn(executor{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// Close closes the pool
func (g *Gateway) Close() {
	g.pool.Close()
}

// executor adapts a pgx querier to storage.Executor
type executor struct {
	q querier
}

func (e executor) Exec(ctx context.Context, sql string, params storage.Params) (int64, error) {
	tag, err := e.q.Exec(ctx, sql, pgx.NamedArgs(params))
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

func (e executor) ExecBatch(ctx context.Context, sql string, batch []storage.Params) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, params := range batch {
		b.Queue(sql, pgx.NamedArgs(params))
	}

	results := e.q.SendBatch(ctx, b)
	var total int64
	for range batch {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return total, classify(err)
		}
		total += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return total, classify(err)
	}
	return total, nil
}

func (e executor) Query(ctx context.Context, sql string, params storage.Params) ([]storage.Row, error) {
	rows, err := e.q.Query(ctx, sql, pgx.NamedArgs(params))
	if err != nil {
		return nil, classify(err)
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]storage.Row, len(maps))
	for i, m := range maps {
		out[i] = m
	}
	return out, nil
}

// classify maps unique violations to storage.ErrDuplicateKey, keeping the driver error in the chain.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, pgErr.Detail)
	}
	return err
}
