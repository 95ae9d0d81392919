// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/chi/v5"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableParam extracts and decodes a table name URL parameter.
// The name must be a plain SQL identifier.
func TableParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}
	if decoded == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}
	if !tableNamePattern.MatchString(decoded) {
		return "", fmt.Errorf("%s must be a plain identifier", paramName)
	}
	return decoded, nil
}
