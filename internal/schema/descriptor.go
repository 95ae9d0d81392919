// Package schema resolves declarative table definitions into immutable
// descriptors that drive both full and delta synchronization.
//
// A table is declared either through struct tags (FromStruct) or explicitly
// through a TableSpec, which is what the YAML configuration produces. Both
// paths go through Resolve, which validates identifiers and renders the
// reconciliation statements once.
package schema

import (
	"github.com/stacklok/tablesync/internal/sqltmpl"
)

// ColumnType drives how values from the source and from the database are
// coerced before being compared, bound or emitted.
type ColumnType string

const (
	// TypeAny passes values through with minimal normalization
	TypeAny ColumnType = ""
	// TypeString coerces values to string
	TypeString ColumnType = "string"
	// TypeInt coerces values to int64
	TypeInt ColumnType = "int"
	// TypeFloat coerces values to float64
	TypeFloat ColumnType = "float"
	// TypeBool coerces values to bool
	TypeBool ColumnType = "bool"
	// TypeTime coerces values to a UTC time.Time
	TypeTime ColumnType = "time"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeAny, TypeString, TypeInt, TypeFloat, TypeBool, TypeTime:
		return true
	}
	return false
}

// Column is a resolved column: database name, source field name and value type.
type Column struct {
	Name  string
	Field string
	Type  ColumnType
}

// Tombstone is a resolved soft-delete marker.
type Tombstone struct {
	Column      string
	DeleteValue string
	ExistValue  string
}

// Descriptor is the resolved metadata of one synchronized table.
// It is created by Resolve and never mutated afterwards.
type Descriptor struct {
	Table        string
	StagingTable string
	TypeName     string

	ID         Column
	UpdateTime Column
	// UpdateTimeAssumed is set when no field was marked as the update time and
	// the conventional column was assumed to exist.
	UpdateTimeAssumed bool

	Tombstone *Tombstone
	Columns   []Column

	Statements *sqltmpl.Statements
}

// HasTombstone reports whether deletes are applied as soft deletes.
func (d *Descriptor) HasTombstone() bool {
	return d.Tombstone != nil
}

// ColumnNames returns the column names in declaration order.
func (d *Descriptor) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		names = append(names, c.Name)
	}
	return names
}

func (d *Descriptor) sqlTable() sqltmpl.Table {
	cols := make([]sqltmpl.Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		cols = append(cols, sqltmpl.Column{Name: c.Name, Field: c.Field})
	}

	t := sqltmpl.Table{
		Name:       d.Table,
		Staging:    d.StagingTable,
		ID:         sqltmpl.Column{Name: d.ID.Name, Field: d.ID.Field},
		UpdateTime: sqltmpl.Column{Name: d.UpdateTime.Name, Field: d.UpdateTime.Field},
		Columns:    cols,
	}
	if d.Tombstone != nil {
		t.Tombstone = &sqltmpl.Tombstone{
			Column:      d.Tombstone.Column,
			DeleteValue: d.Tombstone.DeleteValue,
			ExistValue:  d.Tombstone.ExistValue,
		}
	}
	return t
}
