package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tablesync/internal/events"
	eventmocks "github.com/stacklok/tablesync/internal/events/mocks"
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/storage"
	storagemocks "github.com/stacklok/tablesync/internal/storage/mocks"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/sync/reconcile"
)

func seedDevices(t *testing.T, gw storage.Executor, desc *schema.Descriptor, recs ...schema.Record) {
	t.Helper()
	batch := make([]storage.Params, 0, len(recs))
	for _, r := range recs {
		batch = append(batch, desc.Params(r))
	}
	_, err := gw.ExecBatch(context.Background(), desc.Statements.InsertDelta, batch)
	require.NoError(t, err)
}

func message(op pkgsync.Operation, recs ...schema.Record) *pkgsync.DeltaMessage {
	msg := &pkgsync.DeltaMessage{Table: "device", Operation: op, Payload: recs}
	for _, r := range recs {
		msg.IDs = append(msg.IDs, r["id"])
	}
	return msg
}

func TestSyncDelta_ScenarioD_StaleUpdateIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	seedDevices(t, gw, desc, device(1, "10.0.0.2", t2))

	recorder := &events.Recorder{}
	delta := reconcile.NewDelta(gw, recorder)

	// t3 < t2
	result, err := delta.SyncDelta(ctx, desc, message(pkgsync.OpUpdate, device(1, "10.0.0.3", t3)))
	require.NoError(t, err)
	assert.Equal(t, pkgsync.Result{Table: "device", Skipped: 1}, result)
	assert.Empty(t, recorder.Events())
	assert.Equal(t, []schema.Record{device(1, "10.0.0.2", t2)}, mainRows(t, gw, desc))
}

func TestSyncDelta_StalenessLaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		stored    schema.Record
		incoming  schema.Record
		wantApply bool
	}{
		{name: "newer applies", stored: device(1, "old", t1), incoming: device(1, "new", t2), wantApply: true},
		{name: "older skipped", stored: device(1, "old", t2), incoming: device(1, "new", t1)},
		{name: "equal skipped", stored: device(1, "old", t2), incoming: device(1, "new", t2)},
		{
			name:      "null stored applies",
			stored:    schema.Record{"id": int64(1), "ip": "old", "updateTime": nil},
			incoming:  device(1, "new", t1),
			wantApply: true,
		},
		{
			name:     "null incoming skipped",
			stored:   device(1, "old", t1),
			incoming: schema.Record{"id": int64(1), "ip": "new", "updateTime": nil},
		},
		{
			name:     "both null skipped",
			stored:   schema.Record{"id": int64(1), "ip": "old", "updateTime": nil},
			incoming: schema.Record{"id": int64(1), "ip": "new", "updateTime": nil},
		},
		{name: "absent id skipped", stored: device(2, "other", t1), incoming: device(1, "new", t2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			gw, desc := setupTable(t, deviceDDL, deviceSpec())
			seedDevices(t, gw, desc, tt.stored)
			recorder := &events.Recorder{}

			result, err := reconcile.NewDelta(gw, recorder).SyncDelta(ctx, desc, message(pkgsync.OpUpdate, tt.incoming))
			require.NoError(t, err)

			if !tt.wantApply {
				assert.Zero(t, result.Updated)
				assert.Equal(t, 1, result.Skipped)
				assert.Empty(t, recorder.Events())
				assert.Equal(t, []schema.Record{tt.stored}, mainRows(t, gw, desc))
				return
			}

			assert.Equal(t, 1, result.Updated)
			got := recorder.Events()
			require.Len(t, got, 1)
			assert.Equal(t, events.KindUpdated, got[0].Kind)
			assert.Equal(t, []schema.Record{tt.incoming}, got[0].New)
			assert.Equal(t, []schema.Record{tt.stored}, got[0].Old)
			assert.Equal(t, []schema.Record{tt.incoming}, mainRows(t, gw, desc))
		})
	}
}

func TestSyncDelta_UpdateIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	seedDevices(t, gw, desc, device(1, "10.0.0.1", t1))

	recorder := &events.Recorder{}
	delta := reconcile.NewDelta(gw, recorder)
	msg := message(pkgsync.OpUpdate, device(1, "10.0.0.2", t2))

	first, err := delta.SyncDelta(ctx, desc, msg)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)

	second, err := delta.SyncDelta(ctx, desc, msg)
	require.NoError(t, err)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 1, second.Skipped)

	assert.Len(t, recorder.Events(), 1, "the redelivered update emits nothing")
	assert.Equal(t, []schema.Record{device(1, "10.0.0.2", t2)}, mainRows(t, gw, desc))
}

func TestSyncDelta_UpdateChangedSubset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	seedDevices(t, gw, desc, device(1, "a", t1), device(2, "b", t2), device(3, "c", t1))

	recorder := &events.Recorder{}
	result, err := reconcile.NewDelta(gw, recorder).SyncDelta(ctx, desc, message(pkgsync.OpUpdate,
		device(1, "a2", t2),
		device(2, "b2", t1),
		device(3, "c2", t4),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 1, result.Skipped)

	got := recorder.Events()
	require.Len(t, got, 1)
	assert.Equal(t, []schema.Record{device(1, "a2", t2), device(3, "c2", t4)}, got[0].New)
	assert.Equal(t, []schema.Record{device(1, "a", t1), device(3, "c", t1)}, got[0].Old)
}

func TestSyncDelta_AddStrict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	recorder := &events.Recorder{}
	delta := reconcile.NewDelta(gw, recorder)

	result, err := delta.SyncDelta(ctx, desc, message(pkgsync.OpAdd, device(1, "a", t1), device(2, "b", t1)))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)

	got := recorder.Events()
	require.Len(t, got, 1)
	assert.Equal(t, events.KindAdded, got[0].Kind)
	assert.Equal(t, []schema.Record{device(1, "a", t1), device(2, "b", t1)}, got[0].New)

	// id 3 is new but id 2 collides: the whole message is rolled back
	recorder.Reset()
	_, err = delta.SyncDelta(ctx, desc, message(pkgsync.OpAdd, device(3, "c", t1), device(2, "b2", t2)))
	require.ErrorIs(t, err, pkgsync.ErrDuplicateKey)
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
	assert.Equal(t, pkgsync.ErrDuplicateKey, pkgsync.KindOf(err))

	assert.Empty(t, recorder.Events())
	assert.Equal(t, []schema.Record{device(1, "a", t1), device(2, "b", t1)}, mainRows(t, gw, desc))
}

func TestSyncDelta_AddUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	seedDevices(t, gw, desc, device(1, "a", t1), device(2, "b", t2))

	recorder := &events.Recorder{}
	delta := reconcile.NewDelta(gw, recorder, reconcile.WithAddPolicy(pkgsync.AddUpsert))

	result, err := delta.SyncDelta(ctx, desc, message(pkgsync.OpAdd,
		device(1, "a2", t2), // existing, newer: updated
		device(2, "b2", t1), // existing, older: skipped
		device(3, "c", t1),  // new: inserted
	))
	require.NoError(t, err)
	assert.Equal(t, pkgsync.Result{Table: "device", Added: 1, Updated: 1, Skipped: 1}, result)

	got := recorder.Events()
	require.Len(t, got, 2)
	assert.Equal(t, events.KindAdded, got[0].Kind)
	assert.Equal(t, []schema.Record{device(3, "c", t1)}, got[0].New)
	assert.Equal(t, events.KindUpdated, got[1].Kind)
	assert.Equal(t, []schema.Record{device(1, "a2", t2)}, got[1].New)
	assert.Equal(t, []schema.Record{device(1, "a", t1)}, got[1].Old)

	assert.Equal(t, []schema.Record{device(1, "a2", t2), device(2, "b", t2), device(3, "c", t1)}, mainRows(t, gw, desc))
}

func TestSyncDelta_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	seedDevices(t, gw, desc, device(1, "a", t1), device(2, "b", t2))

	recorder := &events.Recorder{}
	delta := reconcile.NewDelta(gw, recorder)

	result, err := delta.SyncDelta(ctx, desc, &pkgsync.DeltaMessage{
		Table: "device", Operation: pkgsync.OpDelete, IDs: []any{int64(2), int64(42)},
	})
	require.NoError(t, err)
	assert.Equal(t, pkgsync.Result{Table: "device", Deleted: 1, Skipped: 1}, result)

	got := recorder.Events()
	require.Len(t, got, 1)
	assert.Equal(t, events.KindDeleted, got[0].Kind)
	assert.Equal(t, []schema.Record{device(2, "b", t2)}, got[0].Old)
	assert.Equal(t, []schema.Record{device(1, "a", t1)}, mainRows(t, gw, desc))
}

func TestSyncDelta_DeleteAbsentIDEmitsNothing(t *testing.T) {
	t.Parallel()

	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	recorder := &events.Recorder{}

	result, err := reconcile.NewDelta(gw, recorder).SyncDelta(context.Background(), desc, &pkgsync.DeltaMessage{
		Table: "device", Operation: pkgsync.OpDelete, IDs: []any{int64(7)},
	})
	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Empty(t, recorder.Events())
}

func TestSyncDelta_DeleteTombstone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, hostDDL, hostSpec())
	_, err := gw.Exec(ctx, "INSERT INTO host (id, name, deleted) VALUES (1, 'a', '0')", nil)
	require.NoError(t, err)

	recorder := &events.Recorder{}
	delta := reconcile.NewDelta(gw, recorder)
	msg := &pkgsync.DeltaMessage{Table: "host", Operation: pkgsync.OpDelete, IDs: []any{int64(1)}}

	result, err := delta.SyncDelta(ctx, desc, msg)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	got := recorder.Events()
	require.Len(t, got, 1)
	assert.Equal(t, "0", got[0].Old[0]["deleted"], "the event carries the pre-image")

	rows := mainRows(t, gw, desc)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["deleted"])

	// Deleting an already tombstoned row is a no-op
	recorder.Reset()
	result, err = delta.SyncDelta(ctx, desc, msg)
	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Empty(t, recorder.Events())
}

func TestSyncDelta_AddRevivesTombstonedRow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy pkgsync.AddPolicy
	}{
		{name: "strict", policy: pkgsync.AddStrict},
		{name: "upsert", policy: pkgsync.AddUpsert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			gw, desc := setupTable(t, hostDDL, hostSpec())
			_, err := gw.Exec(ctx, "INSERT INTO host (id, name, deleted, update_time) VALUES (1, 'a', '1', @ts)",
				storage.Params{"ts": t2})
			require.NoError(t, err)
			old := mainRows(t, gw, desc)

			recorder := &events.Recorder{}
			delta := reconcile.NewDelta(gw, recorder, reconcile.WithAddPolicy(tt.policy))
			add := &pkgsync.DeltaMessage{Table: "host", Operation: pkgsync.OpAdd, IDs: []any{int64(1)},
				Payload: []schema.Record{{"id": int64(1), "name": "a2", "updateTime": t1}}}

			// Older than the stored row, but the stored row is gone
			result, err := delta.SyncDelta(ctx, desc, add)
			require.NoError(t, err)
			assert.Equal(t, pkgsync.Result{Table: "host", Updated: 1}, result)

			want := schema.Record{"id": int64(1), "name": "a2", "deleted": "0", "updateTime": t1}
			assert.Equal(t, []schema.Record{want}, mainRows(t, gw, desc))

			got := recorder.Events()
			require.Len(t, got, 1)
			assert.Equal(t, events.KindUpdated, got[0].Kind)
			assert.Equal(t, []schema.Record{want}, got[0].New)
			assert.Equal(t, old, got[0].Old)
		})
	}
}

func TestSyncDelta_AddTombstonedPayloadDoesNotRevive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, desc := setupTable(t, hostDDL, hostSpec())
	_, err := gw.Exec(ctx, "INSERT INTO host (id, name, deleted) VALUES (1, 'a', '1')", nil)
	require.NoError(t, err)

	_, err = reconcile.NewDelta(gw, &events.Recorder{}).SyncDelta(ctx, desc, &pkgsync.DeltaMessage{
		Table: "host", Operation: pkgsync.OpAdd, IDs: []any{int64(1)},
		Payload: []schema.Record{{"id": int64(1), "name": "a2", "deleted": "1"}},
	})
	require.ErrorIs(t, err, pkgsync.ErrDuplicateKey)
}

func TestSyncDelta_WrongTable(t *testing.T) {
	t.Parallel()

	gw, desc := setupTable(t, deviceDDL, deviceSpec())
	_, err := reconcile.NewDelta(gw, &events.Recorder{}).SyncDelta(context.Background(), desc,
		&pkgsync.DeltaMessage{Table: "host", Operation: pkgsync.OpDelete, IDs: []any{int64(1)}})
	require.ErrorIs(t, err, pkgsync.ErrDecode)

	_, err = reconcile.NewDelta(gw, &events.Recorder{}).SyncDelta(context.Background(), desc, nil)
	require.ErrorIs(t, err, pkgsync.ErrDecode)
}

func TestSyncDelta_StorageFailure(t *testing.T) {
	t.Parallel()

	_, desc := setupTable(t, deviceDDL, deviceSpec())

	ctrl := gomock.NewController(t)
	gateway := storagemocks.NewMockGateway(ctrl)
	emitter := eventmocks.NewMockEmitter(ctrl)

	boom := errors.New("disk full")
	gateway.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(storage.Executor) error) error {
			tx := storagemocks.NewMockExecutor(ctrl)
			tx.EXPECT().Query(gomock.Any(), desc.Statements.QueryStaleByID, gomock.Any()).
				Return([]storage.Row{{"id": int64(1), "ip": "a", "update_time": t1}}, nil)
			tx.EXPECT().Exec(gomock.Any(), desc.Statements.UpdateDelta, gomock.Any()).Return(int64(0), boom)
			return fn(tx)
		})

	_, err := reconcile.NewDelta(gateway, emitter).SyncDelta(context.Background(), desc,
		message(pkgsync.OpUpdate, device(1, "b", t2)))
	require.ErrorIs(t, err, pkgsync.ErrStorage)
	require.ErrorIs(t, err, boom)
}

func TestSyncDelta_CommitFailure(t *testing.T) {
	t.Parallel()

	_, desc := setupTable(t, deviceDDL, deviceSpec())

	ctrl := gomock.NewController(t)
	gateway := storagemocks.NewMockGateway(ctrl)
	emitter := eventmocks.NewMockEmitter(ctrl)

	gateway.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(storage.Executor) error) error {
			tx := storagemocks.NewMockExecutor(ctrl)
			tx.EXPECT().Exec(gomock.Any(), desc.Statements.InsertDelta, gomock.Any()).Return(int64(1), nil)
			if err := fn(tx); err != nil {
				return err
			}
			return errors.New("failed to commit transaction: serialization failure")
		})

	_, err := reconcile.NewDelta(gateway, emitter).SyncDelta(context.Background(), desc,
		message(pkgsync.OpAdd, device(1, "a", t1)))
	require.ErrorIs(t, err, pkgsync.ErrStorage)
}
