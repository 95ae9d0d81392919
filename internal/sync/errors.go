package sync

import (
	"errors"
	"fmt"

	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/storage"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConfiguration = schema.ErrConfiguration
	ErrExtraction    = errors.New("extraction error")
	ErrStorage       = errors.New("storage error")
	ErrDecode        = errors.New("decode error")
	ErrDuplicateKey  = storage.ErrDuplicateKey
	ErrLockTimeout   = errors.New("lock timeout")
)

// Error is a failed synchronization operation on one table
type Error struct {
	Kind    error
	Table   string
	Message string
	Err     error
}

// NewError creates an Error of the given kind.
func NewError(kind error, table, message string, err error) *Error {
	return &Error{Kind: kind, Table: table, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Table != "" {
		msg = fmt.Sprintf("table %s: %s", e.Table, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// KindOf returns the kind of err, or nil when err is not an *Error.
func KindOf(err error) error {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return nil
}
