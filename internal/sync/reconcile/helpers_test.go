package reconcile_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/tablesync/internal/extract"
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/sqltmpl"
	"github.com/stacklok/tablesync/internal/storage/sqlite"
)

var (
	t1 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	t3 = time.Date(2024, 1, 1, 12, 30, 0, 500000000, time.UTC)
	t4 = time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
)

const deviceDDL = "CREATE TABLE device (id INTEGER PRIMARY KEY, ip TEXT, update_time DATETIME)"

const hostDDL = "CREATE TABLE host (id INTEGER PRIMARY KEY, name TEXT, deleted TEXT, update_time DATETIME)"

func deviceSpec() schema.TableSpec {
	return schema.TableSpec{
		Name: "device",
		Fields: []schema.FieldSpec{
			{Name: "id", Type: schema.TypeInt, ID: true},
			{Name: "ip", Type: schema.TypeString},
			{Name: "updateTime", Type: schema.TypeTime, UpdateTime: true},
		},
	}
}

func hostSpec() schema.TableSpec {
	return schema.TableSpec{
		Name: "host",
		Fields: []schema.FieldSpec{
			{Name: "id", Type: schema.TypeInt, ID: true},
			{Name: "name", Type: schema.TypeString},
			{Name: "deleted", Type: schema.TypeString, Tombstone: &schema.TombstoneSpec{}},
			{Name: "updateTime", Type: schema.TypeTime, UpdateTime: true},
		},
	}
}

// setupTable opens a fresh database, creates the main table and its staging table.
func setupTable(t *testing.T, ddl string, spec schema.TableSpec) (*sqlite.Gateway, *schema.Descriptor) {
	t.Helper()
	ctx := context.Background()

	gw, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	_, err = gw.Exec(ctx, ddl, nil)
	require.NoError(t, err)

	desc, err := schema.Resolve(spec, schema.DefaultOptions(sqltmpl.DialectSQLite))
	require.NoError(t, err)

	_, err = gw.Exec(ctx, desc.Statements.CreateStaging, nil)
	require.NoError(t, err)

	return gw, desc
}

func device(id int64, ip string, ts time.Time) schema.Record {
	return schema.Record{"id": id, "ip": ip, "updateTime": ts}
}

// sourceDevice is the raw shape an extraction client returns
func sourceDevice(id int64, ip string, ts time.Time) map[string]any {
	return map[string]any{"id": id, "ip": ip, "updateTime": ts.Format(time.RFC3339Nano), "extra": "ignored"}
}

// mainRows reads the whole main table back as records, ordered by id.
func mainRows(t *testing.T, gw *sqlite.Gateway, desc *schema.Descriptor) []schema.Record {
	t.Helper()
	rows, err := gw.Query(context.Background(),
		"SELECT "+strings.Join(desc.ColumnNames(), ", ")+" FROM "+desc.Table+" ORDER BY "+desc.ID.Name, nil)
	require.NoError(t, err)

	out := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := desc.RecordFromRow(row)
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

// staticSource serves records in pages and reports len(records) as the total.
type staticSource struct {
	records []map[string]any
	fetched []int
}

func (s *staticSource) Fetch(_ context.Context, _ string, pageNo, pageSize int) (*extract.Page, error) {
	s.fetched = append(s.fetched, pageNo)
	start := (pageNo - 1) * pageSize
	if start > len(s.records) {
		start = len(s.records)
	}
	end := min(start+pageSize, len(s.records))
	return &extract.Page{Records: s.records[start:end], TotalCount: int64(len(s.records))}, nil
}

// sourceFunc adapts a function to extract.Client
type sourceFunc func(ctx context.Context, table string, pageNo, pageSize int) (*extract.Page, error)

func (f sourceFunc) Fetch(ctx context.Context, table string, pageNo, pageSize int) (*extract.Page, error) {
	return f(ctx, table, pageNo, pageSize)
}
