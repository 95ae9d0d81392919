package coordinator

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/stacklok/tablesync/internal/status"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/telemetry"
)

// Coordinator owns one lock per registered table
type Coordinator struct {
	locks       map[string]chan struct{}
	lockTimeout time.Duration

	mu       sync.RWMutex
	statuses map[string]*status.TableStatus

	syncMetrics *telemetry.SyncMetrics
	now         func() time.Time
}

// Option is a function that configures the coordinator
type Option func(*Coordinator)

// WithLockTimeout bounds lock acquisition. Zero or negative blocks indefinitely.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.lockTimeout = d
	}
}

// WithSyncMetrics sets the metrics used to record lock wait time
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *Coordinator) {
		c.syncMetrics = metrics
	}
}

// New creates a coordinator with a lock for each table. The set of tables is fixed.
func New(tables []string, opts ...Option) *Coordinator {
	c := &Coordinator{
		locks:    make(map[string]chan struct{}, len(tables)),
		statuses: make(map[string]*status.TableStatus, len(tables)),
		now:      time.Now,
	}
	for _, table := range tables {
		c.locks[table] = make(chan struct{}, 1)
		c.statuses[table] = &status.TableStatus{Table: table, Phase: status.PhaseIdle}
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTableLock acquires the table's lock, runs fn and releases the lock.
// The lock is released even if fn panics; the panic is propagated.
func (c *Coordinator) WithTableLock(ctx context.Context, table string, op status.Operation, fn func() error) (err error) {
	lock, ok := c.locks[table]
	if !ok {
		return pkgsync.NewError(pkgsync.ErrConfiguration, table, "table is not registered", nil)
	}

	waitStart := c.now()
	if err := c.acquire(ctx, table, lock); err != nil {
		return err
	}
	defer func() {
		<-lock
	}()

	if c.syncMetrics != nil {
		c.syncMetrics.RecordLockWait(ctx, table, c.now().Sub(waitStart))
	}

	c.markRunning(table, op)
	completed := false
	defer func() {
		if !completed {
			c.markIdle(table, op, fmt.Errorf("operation panicked"))
			return
		}
		c.markIdle(table, op, err)
	}()

	err = fn()
	completed = true
	return err
}

func (c *Coordinator) acquire(ctx context.Context, table string, lock chan struct{}) error {
	// Uncontended: no timer needed.
	select {
	case lock <- struct{}{}:
		return nil
	default:
	}

	slog.DebugContext(ctx, "Waiting for table lock", "table", table)

	var timeout <-chan time.Time
	if c.lockTimeout > 0 {
		timer := time.NewTimer(c.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock <- struct{}{}:
		return nil
	case <-timeout:
		return pkgsync.NewError(pkgsync.ErrLockTimeout, table,
			fmt.Sprintf("lock not acquired within %s", c.lockTimeout), nil)
	case <-ctx.Done():
		return fmt.Errorf("waiting for lock on table %s: %w", table, ctx.Err())
	}
}

func (c *Coordinator) markRunning(table string, op status.Operation) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.statuses[table]
	st.Phase = status.PhaseRunning
	st.Operation = op
	st.LastStarted = &now
}

func (c *Coordinator) markIdle(table string, op status.Operation, err error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.statuses[table]
	st.Phase = status.PhaseIdle
	st.LastFinished = &now
	st.Runs++
	if err != nil {
		st.LastError = err.Error()
		st.Failures++
		return
	}
	st.LastError = ""
	if op == status.OperationFull {
		st.LastFullSync = &now
	}
}

// Status returns a copy of the table's status.
func (c *Coordinator) Status(table string) (status.TableStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.statuses[table]
	if !ok {
		return status.TableStatus{}, false
	}
	return *st, true
}

// Statuses returns a copy of every table's status, sorted by table name.
func (c *Coordinator) Statuses() []status.TableStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]status.TableStatus, 0, len(c.statuses))
	for _, st := range c.statuses {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b status.TableStatus) int {
		return cmp.Compare(a.Table, b.Table)
	})
	return out
}
