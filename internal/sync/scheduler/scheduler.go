// Package scheduler runs the startup full sync and the periodic resync of
// every registered table.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/sync/engine"
)

const (
	// DefaultJitter is the maximum random offset applied to the resync interval
	DefaultJitter = 30 * time.Second
	// DefaultMaxTries bounds attempts per table per cycle
	DefaultMaxTries = 3
	// DefaultInitialBackoff is the wait before the first retry
	DefaultInitialBackoff = 2 * time.Second
	// DefaultMaxBackoff caps the wait between retries
	DefaultMaxBackoff = time.Minute
)

// Scheduler triggers full synchronization of every table on start and then on every tick
type Scheduler struct {
	engine      engine.Engine
	interval    time.Duration
	jitter      time.Duration
	maxTries    uint
	initialWait time.Duration
	maxWait     time.Duration
	concurrency int

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithInterval sets the resync interval. Zero runs the startup sync only.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithJitter sets the maximum random offset applied to each interval
func WithJitter(d time.Duration) Option {
	return func(s *Scheduler) {
		s.jitter = d
	}
}

// WithRetry sets the attempts per table per cycle and the backoff bounds
func WithRetry(maxTries uint, initial, maxWait time.Duration) Option {
	return func(s *Scheduler) {
		if maxTries > 0 {
			s.maxTries = maxTries
		}
		s.initialWait = initial
		s.maxWait = maxWait
	}
}

// WithConcurrency bounds how many tables sync at once
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates a scheduler for eng
func New(eng engine.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:      eng,
		jitter:      DefaultJitter,
		maxTries:    DefaultMaxTries,
		initialWait: DefaultInitialBackoff,
		maxWait:     DefaultMaxBackoff,
		concurrency: engine.DefaultConcurrency,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextInterval returns the interval with a random offset in [-jitter, +jitter).
// The jitter is clamped to half the interval so the result stays positive.
func (s *Scheduler) nextInterval() time.Duration {
	jitter := min(s.jitter, s.interval/2)
	if jitter <= 0 {
		return s.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for scheduling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return s.interval + offset
}

// Start runs the startup sync and then resyncs on every tick.
// It blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		close(s.done)
		slog.Info("Sync scheduler shut down")
	}()

	slog.Info("Starting sync scheduler",
		"tables", len(s.engine.Tables()),
		"interval", s.interval)

	s.RunOnce(runCtx)

	if s.interval <= 0 {
		<-runCtx.Done()
		return nil
	}

	ticker := time.NewTicker(s.nextInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(runCtx)
			ticker.Reset(s.nextInterval())
		case <-runCtx.Done():
			slog.Info("Sync scheduler stopping")
			return nil
		}
	}
}

// Stop cancels the loop and waits for the current cycle to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping sync scheduler")
		cancel()
		<-s.done
	}
	return nil
}

// RunOnce syncs every table, retrying failures with exponential backoff.
// Failures are logged; the next cycle starts from scratch.
func (s *Scheduler) RunOnce(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, table := range s.engine.Tables() {
		g.Go(func() error {
			s.syncTable(ctx, table)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) syncTable(ctx context.Context, table string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialWait
	b.MaxInterval = s.maxWait

	_, err := backoff.Retry(ctx, func() (pkgsync.Result, error) {
		result, err := s.engine.SyncFull(ctx, table)
		if err != nil && errors.Is(err, pkgsync.ErrConfiguration) {
			return result, backoff.Permanent(err)
		}
		return result, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "Full sync failed, retrying",
				"table", table,
				"retry_in", wait,
				"error", err)
		}),
	)
	if err != nil {
		slog.ErrorContext(ctx, "Full sync gave up", "table", table, "error", err)
	}
}
