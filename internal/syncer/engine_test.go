package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/store"
)

func mkMessage(roomID, sender, body, origin string, ts int64) models.Message {
	return models.Message{
		ID:           ulid.Make().String(),
		RoomID:       roomID,
		SenderID:     sender,
		Body:         body,
		Fingerprint:  models.Fingerprint(body),
		OriginNodeID: origin,
		SyncStatus:   models.SyncPending,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

func TestApplyCreatesAndLogs(t *testing.T) {
	ds := store.NewMemoryStore()
	e := NewEngine(ds)
	ctx := context.Background()

	nodeID := uuid.New()
	batch := Batch{
		NodeID: nodeID,
		Type:   models.SyncIncremental,
		Messages: []models.Message{
			mkMessage("room-1", "alice", "one", "node-b", 1000),
			mkMessage("room-1", "bob", "two", "node-b", 2000),
		},
	}

	res, err := e.Apply(ctx, batch, models.SyncPush)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, int64(2000), res.LastCommittedTS)

	count, err := ds.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	sessions, err := ds.ListSyncSessions(ctx, nodeID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SyncSessionCompleted, sessions[0].Status)
	assert.Equal(t, 2, sessions[0].MessagesSynced)

	// Applied copies are stored as synced.
	got, err := ds.GetMessage(ctx, batch.Messages[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
}

func TestApplyIsIdempotentOnReplay(t *testing.T) {
	ds := store.NewMemoryStore()
	e := NewEngine(ds)
	ctx := context.Background()

	batch := Batch{
		NodeID:   uuid.New(),
		Type:     models.SyncIncremental,
		Messages: []models.Message{mkMessage("room-1", "alice", "hello", "node-b", 1000)},
	}

	res, err := e.Apply(ctx, batch, models.SyncPush)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	// Same batch again: nothing new, nothing duplicated.
	res, err = e.Apply(ctx, batch, models.SyncPush)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, int64(1000), res.LastCommittedTS)

	count, err := ds.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestApplyLastWriteWinsBothOrders(t *testing.T) {
	ctx := context.Background()

	base := mkMessage("room-1", "alice", "original", "node-b", 1000)
	edited := base
	edited.Body = "edited"
	edited.Fingerprint = models.Fingerprint("edited")
	edited.Edited = true
	edited.UpdatedAt = 2000

	for name, order := range map[string][]models.Message{
		"old_then_new": {base, edited},
		"new_then_old": {edited, base},
	} {
		t.Run(name, func(t *testing.T) {
			ds := store.NewMemoryStore()
			e := NewEngine(ds)
			for _, msg := range order {
				_, err := e.Apply(ctx, Batch{
					NodeID:   uuid.New(),
					Type:     models.SyncIncremental,
					Messages: []models.Message{msg},
				}, models.SyncPush)
				require.NoError(t, err)
			}

			got, err := ds.GetMessage(ctx, base.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "edited", got.Body)
			assert.Equal(t, int64(2000), got.UpdatedAt)
		})
	}
}

func TestApplyTieBreaksOnOriginNode(t *testing.T) {
	ctx := context.Background()

	a := mkMessage("room-1", "alice", "from a", "node-a", 1000)
	b := a
	b.Body = "from b"
	b.Fingerprint = models.Fingerprint("from b")
	b.OriginNodeID = "node-b"

	for name, order := range map[string][]models.Message{
		"a_then_b": {a, b},
		"b_then_a": {b, a},
	} {
		t.Run(name, func(t *testing.T) {
			ds := store.NewMemoryStore()
			e := NewEngine(ds)
			for _, msg := range order {
				_, err := e.Apply(ctx, Batch{
					NodeID:   uuid.New(),
					Type:     models.SyncIncremental,
					Messages: []models.Message{msg},
				}, models.SyncPush)
				require.NoError(t, err)
			}

			// Same updated timestamp: higher origin node id wins on
			// both sides.
			got, err := ds.GetMessage(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, "from b", got.Body)
		})
	}
}

func TestApplySkipsFingerprintDuplicate(t *testing.T) {
	ds := store.NewMemoryStore()
	e := NewEngine(ds)
	ctx := context.Background()

	// Same sender, same content, two ids: a client retry that landed on
	// two nodes.
	first := mkMessage("room-1", "alice", "resent", "node-a", 1000)
	dup := mkMessage("room-1", "alice", "resent", "node-b", 1001)
	first.ID = "01AAAAAAAAAAAAAAAAAAAAAAAA"
	dup.ID = "01BBBBBBBBBBBBBBBBBBBBBBBB"

	_, err := e.Apply(ctx, Batch{NodeID: uuid.New(), Messages: []models.Message{first}}, models.SyncPush)
	require.NoError(t, err)

	res, err := e.Apply(ctx, Batch{NodeID: uuid.New(), Messages: []models.Message{dup}}, models.SyncPush)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 1, res.Skipped)

	count, err := ds.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestApplyDoesNotDedupAcrossSenders(t *testing.T) {
	ds := store.NewMemoryStore()
	e := NewEngine(ds)
	ctx := context.Background()

	// Two users saying the same thing are two messages.
	batch := Batch{
		NodeID: uuid.New(),
		Messages: []models.Message{
			mkMessage("room-1", "alice", "hi", "node-a", 1000),
			mkMessage("room-1", "bob", "hi", "node-a", 1001),
		},
	}
	res, err := e.Apply(ctx, batch, models.SyncPush)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
}

// upsertFailStore fails UpsertMessage after a set number of calls.
type upsertFailStore struct {
	store.DataStore
	calls  int
	failAt int
}

func (s *upsertFailStore) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	s.calls++
	if s.calls >= s.failAt {
		return false, errors.New("disk full")
	}
	return s.DataStore.UpsertMessage(ctx, msg)
}

func TestApplyMidBatchFailureKeepsCommittedPrefix(t *testing.T) {
	ds := &upsertFailStore{DataStore: store.NewMemoryStore(), failAt: 3}
	e := NewEngine(ds)
	ctx := context.Background()

	nodeID := uuid.New()
	batch := Batch{
		NodeID: nodeID,
		Type:   models.SyncIncremental,
		Messages: []models.Message{
			mkMessage("room-1", "alice", "one", "node-b", 1000),
			mkMessage("room-1", "alice", "two", "node-b", 2000),
			mkMessage("room-1", "alice", "three", "node-b", 3000),
		},
	}

	res, err := e.Apply(ctx, batch, models.SyncPush)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, int64(2000), res.LastCommittedTS)

	// The prefix stays committed.
	count, err := ds.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	sessions, err := ds.ListSyncSessions(ctx, nodeID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SyncSessionFailed, sessions[0].Status)
	assert.Equal(t, 2, sessions[0].MessagesSynced)
	assert.Contains(t, sessions[0].Error, "disk full")
}

func TestBuildBatchIncrementalWindow(t *testing.T) {
	ds := store.NewMemoryStore()
	e := NewEngine(ds)
	ctx := context.Background()

	for i, ts := range []int64{1000, 2000, 3000} {
		msg := mkMessage("room-1", "alice", time.Now().String()+string(rune('a'+i)), "node-a", ts)
		_, err := ds.UpsertMessage(ctx, &msg)
		require.NoError(t, err)
	}

	nodeID := uuid.New()
	batch, err := e.BuildBatch(ctx, nodeID, 1000, 10)
	require.NoError(t, err)
	assert.Equal(t, models.SyncIncremental, batch.Type)
	require.Len(t, batch.Messages, 2)
	// Strictly after the watermark, oldest first.
	assert.Equal(t, int64(2000), batch.Messages[0].CreatedAt)
	assert.Equal(t, int64(3000), batch.Messages[1].CreatedAt)

	full, err := e.BuildBatch(ctx, nodeID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFull, full.Type)
	assert.Len(t, full.Messages, 3)
}
