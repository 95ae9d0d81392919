package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tablesync/internal/schema"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestConstructors(t *testing.T) {
	t.Parallel()

	rows := []schema.Record{{"id": int64(1)}, {"id": int64(2)}}

	added := Added("device", rows)
	assert.Equal(t, KindAdded, added.Kind)
	assert.Equal(t, "device", added.Table)
	assert.Equal(t, rows, added.New)
	assert.Nil(t, added.Old)
	assert.Equal(t, 2, added.Len())
	assert.NotEqual(t, uuid.Nil, added.ID)
	assert.False(t, added.OccurredAt.IsZero())

	updated := Updated("device", rows, rows[:1])
	assert.Equal(t, KindUpdated, updated.Kind)
	assert.Equal(t, 2, updated.Len())
	assert.Len(t, updated.Old, 1)

	deleted := Deleted("device", rows)
	assert.Equal(t, KindDeleted, deleted.Kind)
	assert.Nil(t, deleted.New)
	assert.Equal(t, rows, deleted.Old)
	assert.Equal(t, 2, deleted.Len())

	assert.NotEqual(t, added.ID, updated.ID)
}

func TestLogEmitter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	emitter := NewLogEmitter(slog.New(slog.NewJSONHandler(&buf, nil)))

	event := Added("device", []schema.Record{{"id": int64(1)}})
	require.NoError(t, emitter.Emit(context.Background(), event))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Change batch", line["msg"])
	assert.Equal(t, "device", line["table"])
	assert.Equal(t, "ADD", line["kind"])
	assert.Equal(t, float64(1), line["rows"])
	assert.Equal(t, event.ID.String(), line["event_id"])
}

func TestMulti(t *testing.T) {
	t.Parallel()

	first := &Recorder{}
	second := &Recorder{}
	boom := errors.New("broker unavailable")
	failing := EmitterFunc(func(context.Context, Event) error { return boom })

	event := Deleted("device", []schema.Record{{"id": int64(1)}})

	require.NoError(t, Multi{first, second}.Emit(context.Background(), event))
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)

	err := Multi{first, failing, second}.Emit(context.Background(), event)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "table device")
	assert.Len(t, second.Events(), 2, "later emitters still run after a failure")
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	r := &Recorder{}
	require.NoError(t, r.Emit(context.Background(), Added("a", nil)))
	require.NoError(t, r.Emit(context.Background(), Added("b", nil)))

	got := r.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Table)
	assert.Equal(t, "b", got[1].Table)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestNewKafkaEmitter_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaEmitter(nil, "changes")
	require.Error(t, err)

	_, err = NewKafkaEmitter([]string{"localhost:9092"}, "")
	require.Error(t, err)

	e, err := NewKafkaEmitter([]string{"localhost:9092"}, "changes")
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestKafkaEmitter_Emit(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	emitter := &KafkaEmitter{writer: w}

	event := Updated("device",
		[]schema.Record{{"id": int64(1), "ip": "10.0.0.2"}},
		[]schema.Record{{"id": int64(1), "ip": "10.0.0.1"}})
	require.NoError(t, emitter.Emit(context.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "device", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "kind", msg.Headers[0].Key)
	assert.Equal(t, "UPDATE", string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "UPDATE", decoded["kind"])
	assert.Equal(t, event.ID.String(), decoded["id"])
	assert.Equal(t, "10.0.0.2", decoded["new"].([]any)[0].(map[string]any)["ip"])
	assert.Equal(t, "10.0.0.1", decoded["old"].([]any)[0].(map[string]any)["ip"])

	require.NoError(t, emitter.Close())
	assert.True(t, w.closed)
}

func TestKafkaEmitter_WriteFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("leader not available")
	emitter := &KafkaEmitter{writer: &fakeWriter{err: boom}}

	err := emitter.Emit(context.Background(), Added("device", nil))
	require.ErrorIs(t, err, boom)
}
