package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// LogEmitter writes a structured log line per batch
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter logs to logger, or to the default logger when nil
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the batch
func (e *LogEmitter) Emit(ctx context.Context, event Event) error {
	e.logger.InfoContext(ctx, "Change batch",
		"event_id", event.ID.String(),
		"table", event.Table,
		"kind", string(event.Kind),
		"rows", event.Len())
	return nil
}

// Multi fans a batch out to every emitter. All emitters are called even if some fail.
type Multi []Emitter

// Emit calls each emitter in order and joins their errors
func (m Multi) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("emit %s batch for table %s: %w", event.Kind, event.Table, errors.Join(errs...))
	}
	return nil
}

// Recorder keeps every emitted batch in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records the batch
func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the recorded batches in emission order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset drops all recorded batches
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
