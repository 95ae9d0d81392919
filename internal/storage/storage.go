// Package storage defines the thin SQL execution surface used by the
// synchronization engine. Implementations live in the postgres and sqlite
// subpackages; the engine never depends on a specific driver.
package storage

import (
	"context"
	"errors"
	"regexp"
)

// ErrDuplicateKey is returned when an insert collides with an existing primary or unique key.
var ErrDuplicateKey = errors.New("duplicate key")

// Params are named bind values. Keys match the @name markers in the statement.
type Params map[string]any

// Row is one result row keyed by column name.
type Row map[string]any

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=storage.go Executor,Gateway

// Executor runs statements against the database or an open transaction.
type Executor interface {
	// Exec runs a statement and returns the number of affected rows
	Exec(ctx context.Context, sql string, params Params) (int64, error)
	// ExecBatch runs the same statement once per parameter set and returns the total affected rows
	ExecBatch(ctx context.Context, sql string, batch []Params) (int64, error)
	// Query runs a statement and returns all result rows
	Query(ctx context.Context, sql string, params Params) ([]Row, error)
}

// Gateway is an Executor that can also run a function inside a transaction.
type Gateway interface {
	Executor
	// InTx runs fn in a transaction. It commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Executor) error) error
	// Close releases the underlying connections
	Close()
}

var bindPattern = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)

// BindNames returns the distinct @name markers in sql, in order of first appearance.
func BindNames(sql string) []string {
	matches := bindPattern.FindAllStringSubmatch(sql, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// Maps converts rows to plain maps, the shape schema descriptors decode from.
func Maps(rows []Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
