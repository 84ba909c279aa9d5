package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skye-cyber/DistriChat/internal/models"
)

func TestCreateNodeUniqueURL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, &models.Node{Name: "a", URL: "http://a:9000"}))
	err := s.CreateNode(ctx, &models.Node{Name: "b", URL: "http://a:9000"})
	assert.ErrorIs(t, err, ErrDuplicateURL)
}

func TestUpsertMessageLastWriteWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := models.Message{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", RoomID: "r1",
		SenderID: "u1", Body: "v1",
		OriginNodeID: "node-a",
		CreatedAt:    1000, UpdatedAt: 1000,
	}
	applied, err := s.UpsertMessage(ctx, &base)
	require.NoError(t, err)
	assert.True(t, applied)

	// An older copy never replaces a newer one.
	older := base
	older.Body = "stale"
	older.UpdatedAt = 500
	applied, err = s.UpsertMessage(ctx, &older)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetMessage(ctx, base.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Body)

	// A newer copy wins.
	newer := base
	newer.Body = "v2"
	newer.Edited = true
	newer.UpdatedAt = 2000
	applied, err = s.UpsertMessage(ctx, &newer)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err = s.GetMessage(ctx, base.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Body)
	assert.True(t, got.Edited)

	// Equal timestamps break on the higher origin node id.
	tie := base
	tie.Body = "tie"
	tie.UpdatedAt = 2000
	tie.OriginNodeID = "node-b"
	applied, err = s.UpsertMessage(ctx, &tie)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestListRoomMessagesPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ts := int64(i * 1000)
		_, err := s.UpsertMessage(ctx, &models.Message{
			ID: fmt.Sprintf("01AAAAAAAAAAAAAAAAAAAAAA%02d", i), RoomID: "r1",
			SenderID: "u1", Body: fmt.Sprintf("m%d", i),
			CreatedAt: ts, UpdatedAt: ts,
		})
		require.NoError(t, err)
	}

	// Newest first, capped at limit.
	msgs, err := s.ListRoomMessages(ctx, "r1", 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m5", msgs[0].Body)
	assert.Equal(t, "m4", msgs[1].Body)

	// before is exclusive.
	msgs, err = s.ListRoomMessages(ctx, "r1", 10, 3000)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].Body)

	// Deleted messages stay out of history.
	tomb := models.Message{
		ID: "01AAAAAAAAAAAAAAAAAAAAAA03", RoomID: "r1",
		SenderID: "u1", Deleted: true,
		CreatedAt: 3000, UpdatedAt: 6000,
	}
	_, err = s.UpsertMessage(ctx, &tomb)
	require.NoError(t, err)
	msgs, err = s.ListRoomMessages(ctx, "r1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestMarkMessagesSynced(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	msg := models.Message{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", RoomID: "r1",
		SenderID: "u1", SyncStatus: models.SyncPending,
		CreatedAt: 1000, UpdatedAt: 1000,
	}
	_, err := s.UpsertMessage(ctx, &msg)
	require.NoError(t, err)

	require.NoError(t, s.MarkMessagesSynced(ctx, []string{msg.ID, "missing"}))
	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
}

func TestSyncWatermarkRoundtrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ts, err := s.GetSyncWatermark(ctx, "push")
	require.NoError(t, err)
	assert.Zero(t, ts)

	require.NoError(t, s.SetSyncWatermark(ctx, "push", 5000))
	ts, err = s.GetSyncWatermark(ctx, "push")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), ts)
}

func TestRoomMembers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	roomID := uuid.New()

	require.NoError(t, s.AddRoomMember(ctx, roomID, "u1"))
	require.NoError(t, s.AddRoomMember(ctx, roomID, "u1")) // idempotent
	require.NoError(t, s.AddRoomMember(ctx, roomID, "u2"))

	n, err := s.CountRoomMembers(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.RemoveRoomMember(ctx, roomID, "u1"))
	members, err := s.ListRoomMembers(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, members)
}
