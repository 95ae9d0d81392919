package sqltmpl

import (
	"fmt"
	"strings"
)

// rankColumn numbers staged rows per id; it never reaches a result set.
const rankColumn = "tablesync_rank"

// Dialect selects the handful of statements whose syntax differs between databases.
type Dialect string

const (
	// DialectPostgres renders statements for PostgreSQL
	DialectPostgres Dialect = "postgres"

	// DialectSQLite renders statements for SQLite 3.33 or newer (UPDATE ... FROM)
	DialectSQLite Dialect = "sqlite"
)

// Column maps a database column to the source field whose value is bound to it.
type Column struct {
	Name  string
	Field string
}

// Tombstone describes a soft-delete marker column.
type Tombstone struct {
	Column      string
	DeleteValue string
	ExistValue  string
}

// Table is the minimal shape of a synchronized table needed to render statements.
type Table struct {
	Name       string
	Staging    string
	ID         Column
	UpdateTime Column
	Columns    []Column
	Tombstone  *Tombstone
}

// Statements holds every rendered statement for one table.
// Bind markers are named after source fields, e.g. @updateTime.
type Statements struct {
	CreateStaging string
	ClearStaging  string
	InsertStaging string

	QueryAdded string
	Add        string

	QueryUpdated      string
	QueryOldForUpdate string
	UpdateAll         string

	QueryDeleted string
	DeleteAll    string

	InsertDelta        string
	QueryByID          string
	QueryDeletableByID string
	QueryStaleByID     string
	UpdateDelta        string
	DeleteDelta        string

	// Set only for tables with a tombstone
	QueryTombstonedByID string
	ReviveDelta         string
}

// Build renders the statements for t in the given dialect.
func Build(t Table, dialect Dialect) (*Statements, error) {
	if t.Name == "" || t.Staging == "" {
		return nil, fmt.Errorf("table and staging table names are required")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", t.Name)
	}

	var createStaging, clearStaging string
	switch dialect {
	case DialectPostgres:
		createStaging, clearStaging = createStagingPostgresSQL, clearStagingPostgresSQL
	case DialectSQLite:
		createStaging, clearStaging = createStagingSQLiteSQL, clearStagingSQLiteSQL
	default:
		return nil, fmt.Errorf("unsupported dialect: %q", dialect)
	}

	r := newReplacer(t)

	stmts := &Statements{
		CreateStaging:      r.Replace(createStaging),
		ClearStaging:       r.Replace(clearStaging),
		InsertStaging:      r.Replace(insertStagingSQL),
		QueryAdded:         r.Replace(queryAddedSQL),
		Add:                r.Replace(addSQL),
		QueryUpdated:       r.Replace(queryUpdatedSQL),
		QueryOldForUpdate:  r.Replace(queryOldForUpdateSQL),
		UpdateAll:          r.Replace(updateAllSQL),
		QueryDeleted:       r.Replace(queryDeletedSQL),
		DeleteAll:          r.Replace(deleteAllSQL),
		InsertDelta:        r.Replace(insertDeltaSQL),
		QueryByID:          r.Replace(queryByIDSQL),
		QueryDeletableByID: r.Replace(queryLiveByIDSQL),
		QueryStaleByID:     r.Replace(queryStaleByIDSQL),
		UpdateDelta:        r.Replace(updateDeltaSQL),
		DeleteDelta:        r.Replace(deleteDeltaSQL),
	}

	if t.Tombstone != nil {
		stmts.DeleteAll = r.Replace(softDeleteAllSQL)
		stmts.DeleteDelta = r.Replace(softDeleteDeltaSQL)
		stmts.QueryTombstonedByID = r.Replace(queryTombstonedByIDSQL)
		stmts.ReviveDelta = r.Replace(reviveDeltaSQL)
	}

	return stmts, nil
}

// newReplacer builds the marker substitutions for t. Every marker expands to
// text derived only from identifiers and the tombstone sentinel literals.
//
// The full sync diff reads staging through ${stagedRows}, which keeps one row
// per id (the newest by update time), so a source that shifts while it is
// paged cannot stage the same id twice into the diff.
func newReplacer(t Table) *strings.Replacer {
	ut := t.UpdateTime.Name
	utField := t.UpdateTime.Field

	names := make([]string, 0, len(t.Columns))
	binds := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
		binds = append(binds, "@"+c.Field)
	}

	columns := strings.Join(names, ", ")
	stagedRows := fmt.Sprintf("(SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER "+
		"(PARTITION BY %s ORDER BY %s IS NULL, %s DESC) AS %s FROM %s) s WHERE s.%s = 1)",
		columns, columns, t.ID.Name, ut, ut, rankColumn, t.Staging, rankColumn)

	stagedWins := newerPredicate("a."+ut, "b."+ut)
	stagedWinsOverMain := newerPredicate("a."+ut, t.Name+"."+ut)
	fromStaging := func(c Column) string { return "a." + c.Name }

	var live, liveA, tombstone, deleteValue string
	if t.Tombstone != nil {
		tombstone = t.Tombstone.Column
		deleteValue = quoteLiteral(t.Tombstone.DeleteValue)
		live = fmt.Sprintf(" AND (%s IS NULL OR %s <> %s)", tombstone, tombstone, deleteValue)
		liveA = fmt.Sprintf(" AND (a.%s IS NULL OR a.%s <> %s)", tombstone, tombstone, deleteValue)

		// A tombstoned main row whose staged row is live has come back
		stagedWins = fmt.Sprintf("(%s OR %s)", stagedWins, revivedPredicate(t.Tombstone, "b"))
		stagedWinsOverMain = fmt.Sprintf("(%s OR %s)", stagedWinsOverMain, revivedPredicate(t.Tombstone, t.Name))

		existValue := quoteLiteral(t.Tombstone.ExistValue)
		fromStaging = func(c Column) string {
			if c.Name == tombstone {
				return fmt.Sprintf("COALESCE(a.%s, %s)", c.Name, existValue)
			}
			return "a." + c.Name
		}
	}

	return strings.NewReplacer(
		"${stagingTable}", t.Staging,
		"${table}", t.Name,
		"${idField}", t.ID.Field,
		"${id}", t.ID.Name,
		"${stagedRows}", stagedRows,
		"${columns}", columns,
		"${a.columns}", aliasedColumns("a", names),
		"${a.updatedColumns}", selectList(t, fromStaging),
		"${b.columns}", aliasedColumns("b", names),
		"${binds}", strings.Join(binds, ", "),
		"${setFromStaging}", setList(t, fromStaging),
		"${setFromBinds}", setList(t, func(c Column) string { return "@" + c.Field }),
		"${stagedWins}", stagedWins,
		"${stagedWinsOverMain}", stagedWinsOverMain,
		"${incomingNewer}", newerPredicate("@"+utField, ut),
		"${liveA}", liveA,
		"${live}", live,
		"${tombstone}", tombstone,
		"${deleteValue}", deleteValue,
	)
}

// newerPredicate is the staleness rule: the incoming value wins when it is
// strictly newer, or when the stored value is NULL and the incoming one is not.
func newerPredicate(incoming, stored string) string {
	return fmt.Sprintf("(%s > %s OR (%s IS NULL AND %s IS NOT NULL))", incoming, stored, stored, incoming)
}

// revivedPredicate matches a main row (under alias main) that is tombstoned
// while its staged row a is live.
func revivedPredicate(ts *Tombstone, main string) string {
	deleteValue := quoteLiteral(ts.DeleteValue)
	return fmt.Sprintf("(%s.%s = %s AND (a.%s IS NULL OR a.%s <> %s))",
		main, ts.Column, deleteValue, ts.Column, ts.Column, deleteValue)
}

// setList renders "col = <value>" for every non-id column.
func setList(t Table, value func(Column) string) string {
	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == t.ID.Name {
			continue
		}
		parts = append(parts, c.Name+" = "+value(c))
	}
	return strings.Join(parts, ", ")
}

// selectList renders "<value> AS col" for every column.
func selectList(t Table, value func(Column) string) string {
	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		parts = append(parts, value(c)+" AS "+c.Name)
	}
	return strings.Join(parts, ", ")
}

func aliasedColumns(alias string, names []string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, alias+"."+n+" AS "+n)
	}
	return strings.Join(parts, ", ")
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
