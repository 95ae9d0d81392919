package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one row keyed by source field name.
type Record map[string]any

// RecordID returns the record's id value.
func (d *Descriptor) RecordID(r Record) any {
	return r[d.ID.Field]
}

// RecordFromRow converts a database row keyed by column name into a record.
func (d *Descriptor) RecordFromRow(row map[string]any) (Record, error) {
	rec := make(Record, len(d.Columns))
	for _, c := range d.Columns {
		v, err := coerce(row[c.Name], c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		rec[c.Field] = v
	}
	return rec, nil
}

// RecordsFromRows converts every row with RecordFromRow.
func (d *Descriptor) RecordsFromRows(rows []map[string]any) ([]Record, error) {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := d.RecordFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// RecordFromPayload coerces a source record to the declared column types.
// Fields that are not declared are dropped; declared fields that are absent become nil.
func (d *Descriptor) RecordFromPayload(payload map[string]any) (Record, error) {
	rec := make(Record, len(d.Columns))
	for _, c := range d.Columns {
		v, err := coerce(payload[c.Field], c.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", c.Field, err)
		}
		rec[c.Field] = v
	}
	return rec, nil
}

// Params returns the bind parameters for rec, one per column field.
func (d *Descriptor) Params(rec Record) map[string]any {
	params := make(map[string]any, len(d.Columns))
	for _, c := range d.Columns {
		params[c.Field] = rec[c.Field]
	}
	return params
}

// timeLayouts are tried in order when a time arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func coerce(v any, t ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch t {
	case TypeString:
		return toString(v), nil
	case TypeInt:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeBool:
		return toBool(v)
	case TypeTime:
		return toTime(v)
	default:
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			return n.Float64()
		}
		if tv, ok := v.(time.Time); ok {
			return tv.UTC(), nil
		}
		return v, nil
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		return int64(x), nil
	case float32:
		return toInt(float64(x))
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", x)
		}
		return toInt(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", x)
		}
		return i, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float %q", x)
		}
		return f, nil
	default:
		i, err := toInt(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", v)
		}
		return float64(i), nil
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("invalid bool %q", x)
		}
		return b, nil
	default:
		i, err := toInt(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", v)
		}
		return i != 0, nil
	}
}

// toTime accepts time values, text in the common layouts, and epoch milliseconds.
func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid time %q", x)
	default:
		ms, err := toInt(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}

// CoerceID converts an id value to the id column type.
func (d *Descriptor) CoerceID(v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("id is null")
	}
	return coerce(v, d.ID.Type)
}

// Tombstoned reports whether rec marks its row as soft deleted.
func (d *Descriptor) Tombstoned(rec Record) bool {
	col, ok := d.tombstoneColumn()
	if !ok || rec[col.Field] == nil {
		return false
	}
	return toString(rec[col.Field]) == d.Tombstone.DeleteValue
}

// Revived returns a copy of rec that brings a soft deleted row back. A missing
// tombstone value becomes the exist sentinel, coerced to the column type.
func (d *Descriptor) Revived(rec Record) (Record, error) {
	out := make(Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}

	col, ok := d.tombstoneColumn()
	if !ok || out[col.Field] != nil {
		return out, nil
	}
	v, err := coerce(d.Tombstone.ExistValue, col.Type)
	if err != nil {
		return nil, fmt.Errorf("tombstone exist value %q: %w", d.Tombstone.ExistValue, err)
	}
	out[col.Field] = v
	return out, nil
}

func (d *Descriptor) tombstoneColumn() (Column, bool) {
	if d.Tombstone == nil {
		return Column{}, false
	}
	for _, c := range d.Columns {
		if c.Name == d.Tombstone.Column {
			return c, true
		}
	}
	return Column{}, false
}
