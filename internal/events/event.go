// Package events delivers change batches produced by synchronization to
// downstream consumers. Emitters are called directly after a transaction commits.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/tablesync/internal/schema"
)

// Kind is the change a batch describes
type Kind string

const (
	// KindAdded carries rows inserted into the main table
	KindAdded Kind = "ADD"
	// KindUpdated carries rows overwritten in the main table, with their pre-images
	KindUpdated Kind = "UPDATE"
	// KindDeleted carries rows removed or tombstoned in the main table
	KindDeleted Kind = "DELETE"
)

// Event is one change batch for a table.
// For KindUpdated, New[i] and Old[i] describe the same id.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Kind       Kind            `json:"kind"`
	Table      string          `json:"table"`
	New        []schema.Record `json:"new,omitempty"`
	Old        []schema.Record `json:"old,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Len is the number of rows in the batch
func (e Event) Len() int {
	if e.Kind == KindDeleted {
		return len(e.Old)
	}
	return len(e.New)
}

// Added builds an added batch.
func Added(table string, records []schema.Record) Event {
	return newEvent(KindAdded, table, records, nil)
}

// Updated builds an updated batch. newRecords and oldRecords must be aligned by id.
func Updated(table string, newRecords, oldRecords []schema.Record) Event {
	return newEvent(KindUpdated, table, newRecords, oldRecords)
}

// Deleted builds a deleted batch from the rows as they were before removal.
func Deleted(table string, records []schema.Record) Event {
	return newEvent(KindDeleted, table, nil, records)
}

func newEvent(kind Kind, table string, newRecords, oldRecords []schema.Record) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		Table:      table,
		New:        newRecords,
		Old:        oldRecords,
		OccurredAt: time.Now().UTC(),
	}
}

//go:generate mockgen -destination=mocks/mock_emitter.go -package=mocks -source=event.go Emitter

// Emitter receives change batches
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// EmitterFunc adapts a function to an Emitter
type EmitterFunc func(ctx context.Context, event Event) error

// Emit calls f
func (f EmitterFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}
