package schema

import (
	"regexp"

	"github.com/huandu/xstrings"

	"github.com/stacklok/tablesync/internal/sqltmpl"
)

const (
	// DefaultStagingSuffix is appended to a table name to form its staging table
	DefaultStagingSuffix = "_temp"

	// DefaultUpdateTimeColumn is assumed when no field is marked as the update time
	DefaultUpdateTimeColumn = "update_time"

	// DefaultTombstoneDeleteValue marks a row as logically deleted
	DefaultTombstoneDeleteValue = "1"

	// DefaultTombstoneExistValue marks a row as live
	DefaultTombstoneExistValue = "0"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableSpec is the explicit declaration of a synchronized table.
type TableSpec struct {
	// Name overrides the table name derived from TypeName
	Name     string      `yaml:"name,omitempty"`
	TypeName string      `yaml:"typeName,omitempty"`
	Fields   []FieldSpec `yaml:"fields"`
}

// FieldSpec declares one source field.
type FieldSpec struct {
	Name string `yaml:"name"`
	// Column overrides the column name derived from Name
	Column     string         `yaml:"column,omitempty"`
	Type       ColumnType     `yaml:"type,omitempty"`
	ID         bool           `yaml:"id,omitempty"`
	UpdateTime bool           `yaml:"updateTime,omitempty"`
	Ignore     bool           `yaml:"ignore,omitempty"`
	Tombstone  *TombstoneSpec `yaml:"tombstone,omitempty"`
}

// TombstoneSpec marks a field as the soft-delete marker. Empty values take the defaults.
type TombstoneSpec struct {
	DeleteValue string `yaml:"deleteValue,omitempty"`
	ExistValue  string `yaml:"existValue,omitempty"`
}

// Options controls naming conventions and the SQL dialect used during resolution.
type Options struct {
	StagingSuffix           string
	DefaultUpdateTimeColumn string
	Dialect                 sqltmpl.Dialect
}

// DefaultOptions returns the conventional options for the given dialect.
func DefaultOptions(dialect sqltmpl.Dialect) Options {
	return Options{
		StagingSuffix:           DefaultStagingSuffix,
		DefaultUpdateTimeColumn: DefaultUpdateTimeColumn,
		Dialect:                 dialect,
	}
}

func (o Options) withDefaults() Options {
	if o.StagingSuffix == "" {
		o.StagingSuffix = DefaultStagingSuffix
	}
	if o.DefaultUpdateTimeColumn == "" {
		o.DefaultUpdateTimeColumn = DefaultUpdateTimeColumn
	}
	if o.Dialect == "" {
		o.Dialect = sqltmpl.DialectPostgres
	}
	return o
}

// TableName converts a type name to its table name, e.g. DeviceInfo to device_info.
func TableName(typeName string) string {
	return xstrings.ToSnakeCase(typeName)
}

// ColumnName converts a field name to its column name, e.g. updateTime to update_time.
func ColumnName(field string) string {
	return xstrings.ToSnakeCase(field)
}

// FieldName converts a column name to the conventional field name, e.g. update_time to updateTime.
func FieldName(column string) string {
	return xstrings.FirstRuneToLower(xstrings.ToCamelCase(column))
}

// Resolve validates spec and produces its descriptor with rendered statements.
func Resolve(spec TableSpec, opts Options) (*Descriptor, error) {
	opts = opts.withDefaults()

	table := spec.Name
	if table == "" {
		table = TableName(spec.TypeName)
	}
	if table == "" {
		return nil, configErrorf("", "table name or type name is required")
	}
	if !identifierPattern.MatchString(table) {
		return nil, configErrorf(table, "invalid table name")
	}

	d := &Descriptor{
		Table:        table,
		StagingTable: table + opts.StagingSuffix,
		TypeName:     spec.TypeName,
	}
	if !identifierPattern.MatchString(d.StagingTable) {
		return nil, configErrorf(table, "invalid staging table name %q", d.StagingTable)
	}

	var ids, updateTimes []Column
	seenColumns := make(map[string]bool)
	seenFields := make(map[string]bool)

	for i, f := range spec.Fields {
		if f.Ignore {
			continue
		}
		if f.Name == "" {
			return nil, configErrorf(table, "fields[%d]: name is required", i)
		}

		col := Column{Name: f.Column, Field: f.Name, Type: f.Type}
		if col.Name == "" {
			col.Name = ColumnName(f.Name)
		}
		if !identifierPattern.MatchString(col.Name) {
			return nil, configErrorf(table, "fields[%d]: invalid column name %q", i, col.Name)
		}
		if !identifierPattern.MatchString(col.Field) {
			return nil, configErrorf(table, "fields[%d]: invalid field name %q", i, col.Field)
		}
		if !col.Type.Valid() {
			return nil, configErrorf(table, "fields[%d]: unknown type %q", i, col.Type)
		}
		if seenColumns[col.Name] {
			return nil, configErrorf(table, "duplicate column %q", col.Name)
		}
		if seenFields[col.Field] {
			return nil, configErrorf(table, "duplicate field %q", col.Field)
		}
		seenColumns[col.Name] = true
		seenFields[col.Field] = true

		if f.ID {
			ids = append(ids, col)
		}
		if f.UpdateTime {
			updateTimes = append(updateTimes, col)
		}
		if f.Tombstone != nil {
			if d.Tombstone != nil {
				return nil, configErrorf(table, "more than one tombstone field")
			}
			d.Tombstone = &Tombstone{
				Column:      col.Name,
				DeleteValue: valueOr(f.Tombstone.DeleteValue, DefaultTombstoneDeleteValue),
				ExistValue:  valueOr(f.Tombstone.ExistValue, DefaultTombstoneExistValue),
			}
		}

		d.Columns = append(d.Columns, col)
	}

	switch len(ids) {
	case 0:
		return nil, configErrorf(table, "no field is marked as id")
	case 1:
		d.ID = ids[0]
	default:
		return nil, configErrorf(table, "%d fields are marked as id, exactly one is required", len(ids))
	}

	if d.Tombstone != nil && d.Tombstone.Column == d.ID.Name {
		return nil, configErrorf(table, "id column cannot be the tombstone")
	}

	switch len(updateTimes) {
	case 0:
		d.UpdateTime = resolveAssumedUpdateTime(d, opts.DefaultUpdateTimeColumn)
	case 1:
		d.UpdateTime = updateTimes[0]
	default:
		return nil, configErrorf(table, "%d fields are marked as update time, at most one is allowed", len(updateTimes))
	}

	if d.UpdateTime.Name == d.ID.Name {
		return nil, configErrorf(table, "id column cannot be the update time")
	}

	stmts, err := sqltmpl.Build(d.sqlTable(), opts.Dialect)
	if err != nil {
		return nil, configErrorf(table, "rendering statements: %v", err)
	}
	d.Statements = stmts

	return d, nil
}

// resolveAssumedUpdateTime picks the conventional update time column, adding it
// to the column list when the declaration does not carry it.
func resolveAssumedUpdateTime(d *Descriptor, column string) Column {
	d.UpdateTimeAssumed = true
	for _, c := range d.Columns {
		if c.Name == column {
			return c
		}
	}

	col := Column{Name: column, Field: FieldName(column), Type: TypeTime}
	d.Columns = append(d.Columns, col)
	return col
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
