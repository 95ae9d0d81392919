// Package sqlite implements storage.Gateway on the pure-Go modernc.org/sqlite driver.
// It serves single-node deployments and in-process tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/stacklok/tablesync/internal/storage"
)

// Gateway executes statements through a database/sql pool capped at one connection.
// Statements issued outside a transaction wait while one is open.
type Gateway struct {
	db *sql.DB
	executor
}

// DSN builds a data source name for path with the pragmas the gateway relies on.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Gateway, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	slog.InfoContext(ctx, "SQLite database opened", "path", path)
	return &Gateway{db: db, executor: executor{q: db}}, nil
}

// InTx runs fn inside a transaction
func (g *Gateway) InTx(ctx context.Context, fn func(storage.Executor) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			slog.WarnContext(ctx, "Failed to roll back transaction", "error", rollbackErr)
		}
	}()

	if err := fn(executor{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// Close closes the database
func (g *Gateway) Close() {
	if err := g.db.Close(); err != nil {
		slog.Warn("Failed to close sqlite database", "error", err)
	}
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type executor struct {
	q querier
}

func (e executor) Exec(ctx context.Context, query string, params storage.Params) (int64, error) {
	res, err := e.q.ExecContext(ctx, query, namedArgs(query, params)...)
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

func (e executor) ExecBatch(ctx context.Context, query string, batch []storage.Params) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	stmt, err := e.q.PrepareContext(ctx, query)
	if err != nil {
		return 0, classify(err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	var total int64
	for _, params := range batch {
		res, err := stmt.ExecContext(ctx, namedArgs(query, params)...)
		if err != nil {
			return total, classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e executor) Query(ctx context.Context, query string, params storage.Params) ([]storage.Row, error) {
	rows, err := e.q.QueryContext(ctx, query, namedArgs(query, params)...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		_ = rows.Close()
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(storage.Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// namedArgs binds exactly the @names used by query; names without a value bind NULL.
func namedArgs(query string, params storage.Params) []any {
	names := storage.BindNames(query)
	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, sql.Named(name, params[name]))
	}
	return args
}

// classify maps primary key and unique violations to storage.ErrDuplicateKey.
func classify(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, sqliteErr.Error())
		}
	}
	return err
}
