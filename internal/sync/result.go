package sync

import "fmt"

// Result counts the rows one synchronization operation changed
type Result struct {
	Table   string `json:"table"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`

	// Skipped counts delta updates rejected by the staleness guard and
	// delta deletes whose id was absent
	Skipped int `json:"skipped,omitempty"`

	// Pages and Staged are only set by full synchronization
	Pages  int `json:"pages,omitempty"`
	Staged int `json:"staged,omitempty"`
}

// Changed reports whether any row was added, updated or deleted
func (r Result) Changed() bool {
	return r.Added+r.Updated+r.Deleted > 0
}

// AddPolicy decides what a delta ADD does with ids that already exist
type AddPolicy string

const (
	// AddStrict rejects the message with ErrDuplicateKey
	AddStrict AddPolicy = "strict"
	// AddUpsert routes existing ids through the guarded update path
	AddUpsert AddPolicy = "upsert"
)

// ParseAddPolicy parses a policy name. Empty means AddStrict.
func ParseAddPolicy(s string) (AddPolicy, error) {
	switch p := AddPolicy(s); p {
	case "":
		return AddStrict, nil
	case AddStrict, AddUpsert:
		return p, nil
	default:
		return "", fmt.Errorf("unknown add policy %q: must be %q or %q", s, AddStrict, AddUpsert)
	}
}
