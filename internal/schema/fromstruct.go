package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
)

const tagName = "sync"

// tableNamer lets a struct override its table name.
type tableNamer interface {
	TableName() string
}

// StructOption customizes FromStruct.
type StructOption func(*TableSpec)

// WithTableName overrides the table name derived from the struct type.
func WithTableName(name string) StructOption {
	return func(s *TableSpec) {
		s.Name = name
	}
}

var timeType = reflect.TypeOf(time.Time{})

// FromStruct builds a TableSpec from a struct value or pointer using its sync tags:
//
//	ID         int64     `sync:"id"`
//	IP         string    `sync:"column=ip_addr"`
//	Modified   time.Time `sync:"updatetime"`
//	Deleted    string    `sync:"tombstone,delete=1,exist=0"`
//	Cache      []byte    `sync:"-"`
//
// Source field names come from the json tag when present, else the Go field
// name with its first rune lowered.
func FromStruct(v any, opts ...StructOption) (TableSpec, error) {
	rt := reflect.TypeOf(v)
	if rt == nil {
		return TableSpec{}, configErrorf("", "nil value")
	}
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return TableSpec{}, configErrorf("", "%s is not a struct", rt)
	}

	spec := TableSpec{TypeName: rt.Name()}
	if namer, ok := v.(tableNamer); ok {
		spec.Name = namer.TableName()
	}
	for _, opt := range opts {
		opt(&spec)
	}

	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}

		field, err := parseField(sf)
		if err != nil {
			return TableSpec{}, configErrorf(spec.Name, "field %s: %v", sf.Name, err)
		}
		spec.Fields = append(spec.Fields, field)
	}

	return spec, nil
}

func parseField(sf reflect.StructField) (FieldSpec, error) {
	field := FieldSpec{
		Name: sourceFieldName(sf),
		Type: columnTypeOf(sf.Type),
	}

	tag, ok := sf.Tag.Lookup(tagName)
	if !ok {
		return field, nil
	}
	if tag == "-" {
		field.Ignore = true
		return field, nil
	}

	var tombstone *TombstoneSpec
	var sentinels map[string]string
	for _, part := range strings.Split(tag, ",") {
		key, value, hasValue := strings.Cut(strings.TrimSpace(part), "=")
		switch key {
		case "":
		case "id":
			field.ID = true
		case "updatetime":
			field.UpdateTime = true
		case "tombstone":
			tombstone = &TombstoneSpec{}
		case "delete", "exist":
			if sentinels == nil {
				sentinels = make(map[string]string)
			}
			sentinels[key] = value
		case "column":
			if !hasValue || value == "" {
				return field, fmt.Errorf("column option requires a value")
			}
			field.Column = value
		case "type":
			field.Type = ColumnType(value)
		default:
			return field, fmt.Errorf("unknown tag option %q", key)
		}
	}

	if sentinels != nil && tombstone == nil {
		return field, fmt.Errorf("delete/exist options require tombstone")
	}
	if tombstone != nil {
		tombstone.DeleteValue = sentinels["delete"]
		tombstone.ExistValue = sentinels["exist"]
		field.Tombstone = tombstone
	}

	return field, nil
}

func sourceFieldName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return lowerCamel(sf.Name)
}

// lowerCamel lowers the leading run of upper case letters, keeping the last one
// when it starts the next word: ID to id, IPAddr to ipAddr, UpdateTime to updateTime.
func lowerCamel(name string) string {
	runes := []rune(name)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return name
	case n == len(runes):
		return strings.ToLower(name)
	case n > 1:
		n--
	}
	return strings.ToLower(string(runes[:n])) + string(runes[n:])
}

func columnTypeOf(t reflect.Type) ColumnType {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return TypeTime
	}

	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt
	case reflect.Float32, reflect.Float64:
		return TypeFloat
	case reflect.Bool:
		return TypeBool
	default:
		return TypeAny
	}
}
