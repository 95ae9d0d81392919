package schema

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError through errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports why a table could not be resolved.
// It is fatal for that table only.
type ConfigurationError struct {
	Table   string
	Message string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Message)
	}
	return fmt.Sprintf("%s: table %s: %s", ErrConfiguration, e.Table, e.Message)
}

// Unwrap returns ErrConfiguration
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configErrorf(table, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Table: table, Message: fmt.Sprintf(format, args...)}
}
