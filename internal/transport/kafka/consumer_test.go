package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/sync/engine/mocks"
)

// fakeReader serves queued messages, then blocks until the context ends
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafkago.Message
	committed []int64
	fetchErr  error
	commitErr error
	drained   chan struct{}
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{drained: make(chan struct{})}
	for i, v := range values {
		r.queue = append(r.queue, kafkago.Message{Offset: int64(i), Value: []byte(v)})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if r.fetchErr != nil {
		defer r.mu.Unlock()
		return kafkago.Message{}, r.fetchErr
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	close(r.drained)
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (*fakeReader) Close() error { return nil }

func TestNewConsumer_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "no brokers", cfg: Config{Topic: "deltas", GroupID: "g"}, wantErr: "no kafka brokers"},
		{name: "no topic", cfg: Config{Brokers: []string{"localhost:9092"}, GroupID: "g"}, wantErr: "topic is required"},
		{name: "no group", cfg: Config{Brokers: []string{"localhost:9092"}, Topic: "deltas"}, wantErr: "group is required"},
		{name: "valid", cfg: Config{Brokers: []string{"localhost:9092"}, Topic: "deltas", GroupID: "g"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewConsumer(tt.cfg, nil)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, c.Close())
		})
	}
}

func TestConsumer_Run(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	handler := mocks.NewMockEngine(ctrl)

	reader := newFakeReader("good", "malformed", "duplicate", "good-again")
	gomock.InOrder(
		handler.EXPECT().HandleRaw(gomock.Any(), []byte("good")).Return(pkgsync.Result{Table: "device", Added: 1}, nil),
		handler.EXPECT().HandleRaw(gomock.Any(), []byte("malformed")).
			Return(pkgsync.Result{}, pkgsync.NewError(pkgsync.ErrDecode, "", "invalid JSON", nil)),
		handler.EXPECT().HandleRaw(gomock.Any(), []byte("duplicate")).
			Return(pkgsync.Result{Table: "device"}, pkgsync.NewError(pkgsync.ErrDuplicateKey, "device", "id 1 already exists", nil)),
		handler.EXPECT().HandleRaw(gomock.Any(), []byte("good-again")).Return(pkgsync.Result{Table: "device", Updated: 1}, nil),
	)

	consumer := &Consumer{reader: reader, handler: handler}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	<-reader.drained
	cancel()
	require.NoError(t, <-done)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, []int64{0, 1, 2, 3}, reader.committed, "messages that cannot apply are committed and the consumer continues")
}

func TestConsumer_FetchError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	boom := errors.New("broker unreachable")
	reader := newFakeReader()
	reader.fetchErr = boom

	err := (&Consumer{reader: reader, handler: mocks.NewMockEngine(ctrl)}).Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestConsumer_CommitError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	handler := mocks.NewMockEngine(ctrl)
	handler.EXPECT().HandleRaw(gomock.Any(), gomock.Any()).Return(pkgsync.Result{Table: "device"}, nil)

	boom := errors.New("rebalance in progress")
	reader := newFakeReader("good")
	reader.commitErr = boom

	err := (&Consumer{reader: reader, handler: handler}).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "offset 0")
}

func TestConsumer_RetriesStorageFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	handler := mocks.NewMockEngine(ctrl)

	storageErr := pkgsync.NewError(pkgsync.ErrStorage, "device", "apply ADD", errors.New("connection reset"))
	gomock.InOrder(
		handler.EXPECT().HandleRaw(gomock.Any(), []byte("flaky")).Return(pkgsync.Result{Table: "device"}, storageErr).Times(2),
		handler.EXPECT().HandleRaw(gomock.Any(), []byte("flaky")).Return(pkgsync.Result{Table: "device", Added: 1}, nil),
	)

	reader := newFakeReader("flaky")
	consumer := &Consumer{reader: reader, handler: handler, initialWait: time.Millisecond, maxWait: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	<-reader.drained
	cancel()
	require.NoError(t, <-done)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, []int64{0}, reader.committed)
}

func TestConsumer_StopDuringRetryLeavesMessageUncommitted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "storage", err: pkgsync.NewError(pkgsync.ErrStorage, "device", "apply ADD", errors.New("database is down"))},
		{name: "lock timeout", err: pkgsync.NewError(pkgsync.ErrLockTimeout, "device", "table busy", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			handler := mocks.NewMockEngine(ctrl)

			attempted := make(chan struct{}, 1)
			handler.EXPECT().HandleRaw(gomock.Any(), gomock.Any()).
				DoAndReturn(func(context.Context, []byte) (pkgsync.Result, error) {
					select {
					case attempted <- struct{}{}:
					default:
					}
					return pkgsync.Result{Table: "device"}, tt.err
				}).
				MinTimes(1)

			reader := newFakeReader("stuck", "never-fetched")
			consumer := &Consumer{reader: reader, handler: handler, initialWait: time.Millisecond, maxWait: 5 * time.Millisecond}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- consumer.Run(ctx) }()

			<-attempted
			cancel()
			require.NoError(t, <-done)

			reader.mu.Lock()
			defer reader.mu.Unlock()
			assert.Empty(t, reader.committed)
			assert.Len(t, reader.queue, 1, "the consumer does not move past the failing message")
		})
	}
}
