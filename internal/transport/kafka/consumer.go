// Package kafka consumes delta messages from a Kafka topic and hands them to
// the synchronization engine.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	kafkago "github.com/segmentio/kafka-go"

	pkgsync "github.com/stacklok/tablesync/internal/sync"
)

// Handler applies one raw delta message
type Handler interface {
	HandleRaw(ctx context.Context, raw []byte) (pkgsync.Result, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config selects the brokers, topic and consumer group
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

const (
	defaultRetryInitialWait = 500 * time.Millisecond
	defaultRetryMaxWait     = 30 * time.Second
)

// Consumer reads delta messages one at a time and commits each after it is handled.
// Messages that cannot apply (malformed, duplicate key) are logged and committed.
// Storage failures and lock timeouts are retried with backoff and the message
// stays uncommitted until it applies, so a consumer stopped mid-retry has it
// redelivered.
type Consumer struct {
	reader      messageReader
	handler     Handler
	initialWait time.Duration
	maxWait     time.Duration
}

// NewConsumer creates a consumer group reader for cfg
func NewConsumer(cfg Config, handler Handler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer group is required")
	}

	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10 << 20,
			MaxWait:        time.Second,
			CommitInterval: 0,
		}),
		handler:     handler,
		initialWait: defaultRetryInitialWait,
		maxWait:     defaultRetryMaxWait,
	}, nil
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// the reader error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("Starting delta consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Delta consumer stopping")
				return nil
			}
			return fmt.Errorf("failed to fetch delta message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				slog.Info("Delta consumer stopping, message left uncommitted", "offset", msg.Offset)
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit delta message at offset %d: %w", msg.Offset, err)
		}
	}
}

// handle applies msg, retrying retryable failures until it applies or ctx
// ends. It returns an error only when the message must not be committed.
func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialWait
	b.MaxInterval = c.maxWait

	_, err := backoff.Retry(ctx, func() (pkgsync.Result, error) {
		result, err := c.handler.HandleRaw(ctx, msg.Value)
		switch {
		case err == nil:
			slog.DebugContext(ctx, "Delta message applied",
				"table", result.Table,
				"partition", msg.Partition,
				"offset", msg.Offset)
		case errors.Is(err, pkgsync.ErrDecode):
			slog.WarnContext(ctx, "Dropping malformed delta message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		case retryable(err):
			return result, err
		default:
			slog.ErrorContext(ctx, "Failed to apply delta message",
				"table", result.Table,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		}
		return result, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "Delta message failed, retrying",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"retry_in", wait,
				"error", err)
		}),
	)
	return err
}

// retryable reports whether a failure may clear on its own
func retryable(err error) bool {
	return errors.Is(err, pkgsync.ErrStorage) || errors.Is(err, pkgsync.ErrLockTimeout)
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
