// Package status provides the in-memory phase tracking reported for each synchronized table.
package status

import "time"

// Phase represents the current phase of a table
type Phase string

const (
	// PhaseIdle means no operation holds the table lock
	PhaseIdle Phase = "Idle"

	// PhaseRunning means a full or delta sync holds the table lock
	PhaseRunning Phase = "Running"
)

// Operation labels the kind of work run under the table lock
type Operation string

const (
	// OperationFull is a full reconciliation through the staging table
	OperationFull Operation = "full"

	// OperationDelta is the application of one delta message
	OperationDelta Operation = "delta"
)

// TableStatus is a point-in-time view of one table's synchronization state.
// It is kept in memory only; a restart starts every table Idle.
type TableStatus struct {
	// Table is the destination table name
	Table string `json:"table" yaml:"table"`

	// Phase is Idle or Running
	Phase Phase `json:"phase" yaml:"phase"`

	// Operation is the current operation when Running, else the last one
	Operation Operation `json:"operation,omitempty" yaml:"operation,omitempty"`

	// LastStarted is when the current or last operation acquired the lock
	LastStarted *time.Time `json:"lastStarted,omitempty" yaml:"lastStarted,omitempty"`

	// LastFinished is when the last operation released the lock
	LastFinished *time.Time `json:"lastFinished,omitempty" yaml:"lastFinished,omitempty"`

	// LastError is the message of the last failed operation, cleared on success
	LastError string `json:"lastError,omitempty" yaml:"lastError,omitempty"`

	// LastFullSync is when the last successful full sync finished
	LastFullSync *time.Time `json:"lastFullSync,omitempty" yaml:"lastFullSync,omitempty"`

	// Runs counts completed operations since start
	Runs int64 `json:"runs" yaml:"runs"`

	// Failures counts failed operations since start
	Failures int64 `json:"failures" yaml:"failures"`
}
