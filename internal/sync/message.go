package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/tablesync/internal/schema"
)

// Operation is the kind of change carried by a delta message
type Operation string

const (
	// OpAdd inserts new rows
	OpAdd Operation = "ADD"
	// OpUpdate overwrites rows under the staleness guard
	OpUpdate Operation = "UPDATE"
	// OpDelete removes rows, or tombstones them
	OpDelete Operation = "DELETE"
)

// ParseOperation matches s case-insensitively.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToUpper(strings.TrimSpace(s))); op {
	case OpAdd, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// DeltaMessage is a decoded change notification for one table.
// IDs and Payload values are already coerced to the table's column types.
type DeltaMessage struct {
	Table     string
	Operation Operation
	IDs       []any
	Payload   []schema.Record
}

// DecodeDelta parses a wire message and validates it against the registry.
// Every failure is an *Error of kind ErrDecode.
func DecodeDelta(raw []byte, registry *schema.Registry) (*DeltaMessage, error) {
	if !gjson.ValidBytes(raw) {
		return nil, NewError(ErrDecode, "", "invalid JSON", nil)
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, NewError(ErrDecode, "", "message is not an object", nil)
	}

	tableField := root.Get("table")
	if tableField.Type != gjson.String || tableField.Str == "" {
		return nil, NewError(ErrDecode, "", "table is required", nil)
	}
	table := tableField.Str

	desc, ok := registry.Get(table)
	if !ok {
		return nil, NewError(ErrDecode, table, "table is not registered", nil)
	}

	op, err := ParseOperation(root.Get("type").String())
	if err != nil {
		return nil, NewError(ErrDecode, table, "invalid type", err)
	}

	msg := &DeltaMessage{Table: table, Operation: op}

	if data := root.Get("data"); data.Exists() && data.Type != gjson.Null {
		if !data.IsArray() {
			return nil, NewError(ErrDecode, table, "data must be an array", nil)
		}
		for i, item := range data.Array() {
			if !item.IsObject() {
				return nil, NewError(ErrDecode, table, fmt.Sprintf("data[%d] is not an object", i), nil)
			}
			payload, err := decodeObject(item.Raw)
			if err != nil {
				return nil, NewError(ErrDecode, table, fmt.Sprintf("data[%d]", i), err)
			}
			rec, err := desc.RecordFromPayload(payload)
			if err != nil {
				return nil, NewError(ErrDecode, table, fmt.Sprintf("data[%d]", i), err)
			}
			if rec[desc.ID.Field] == nil {
				return nil, NewError(ErrDecode, table, fmt.Sprintf("data[%d] has no %s", i, desc.ID.Field), nil)
			}
			msg.Payload = append(msg.Payload, rec)
		}
	}

	if ids := root.Get("idList"); ids.Exists() && ids.Type != gjson.Null {
		if !ids.IsArray() {
			return nil, NewError(ErrDecode, table, "idList must be an array", nil)
		}
		for i, item := range ids.Array() {
			id, err := desc.CoerceID(scalar(item))
			if err != nil {
				return nil, NewError(ErrDecode, table, fmt.Sprintf("idList[%d]", i), err)
			}
			msg.IDs = append(msg.IDs, id)
		}
	}

	if len(msg.IDs) == 0 {
		for _, rec := range msg.Payload {
			msg.IDs = append(msg.IDs, desc.RecordID(rec))
		}
	}

	switch {
	case (op == OpAdd || op == OpUpdate) && len(msg.Payload) == 0:
		return nil, NewError(ErrDecode, table, fmt.Sprintf("%s requires data", op), nil)
	case op == OpDelete && len(msg.IDs) == 0:
		return nil, NewError(ErrDecode, table, "DELETE requires idList or data", nil)
	}

	return msg, nil
}

// decodeObject keeps numbers as json.Number so integer ids survive intact.
func decodeObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func scalar(r gjson.Result) any {
	switch r.Type {
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.String:
		return r.Str
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.JSON:
		return r.Raw
	default:
		return nil
	}
}
