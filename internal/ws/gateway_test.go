package ws

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skye-cyber/DistriChat/internal/bus"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/session"
	"github.com/skye-cyber/DistriChat/internal/store"
)

type captureSub struct {
	id     string
	mu     sync.Mutex
	events []models.Event
}

func (c *captureSub) ID() string { return c.id }

func (c *captureSub) Notify(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *captureSub) received() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Event, len(c.events))
	copy(out, c.events)
	return out
}

func newTestGateway(t *testing.T) (*Gateway, *store.MemoryStore, *bus.Bus, uuid.UUID) {
	t.Helper()
	ds := store.NewMemoryStore()
	b := bus.New("node-a", nil)
	sm := session.NewManager(b)
	g := NewGateway("node-a", ds, nil, b, sm, nil)

	room := &models.Room{
		ID:     uuid.New(),
		Name:   "general",
		NodeID: uuid.New(),
		Active: true,
	}
	require.NoError(t, ds.CreateRoom(context.Background(), room))
	return g, ds, b, room.ID
}

func newTestClient(g *Gateway, roomID uuid.UUID, userID string) *Client {
	return &Client{
		gateway:   g,
		send:      make(chan any, sendBuffer),
		sessionID: uuid.NewString(),
		roomID:    roomID.String(),
		userID:    userID,
		username:  userID,
	}
}

func TestChatFramePersistsAndBroadcasts(t *testing.T) {
	g, ds, b, roomID := newTestGateway(t)

	watcher := &captureSub{id: "watcher"}
	b.Subscribe(roomID.String(), watcher)

	c := newTestClient(g, roomID, "alice")
	g.handleFrame(c, Frame{Type: models.EventChatMessage, Body: "hello there"})

	events := watcher.received()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, models.EventChatMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hello there", ev.Message.Body)
	assert.Equal(t, models.Fingerprint("hello there"), ev.Message.Fingerprint)
	assert.Equal(t, "node-a", ev.Message.OriginNodeID)
	assert.Equal(t, models.SyncPending, ev.Message.SyncStatus)
	assert.NotEmpty(t, ev.Message.ID)

	stored, err := ds.GetMessage(context.Background(), ev.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "alice", stored.SenderID)

	room, err := ds.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.MessageCount)
}

func TestEmptyChatBodyRejected(t *testing.T) {
	g, ds, b, roomID := newTestGateway(t)

	watcher := &captureSub{id: "watcher"}
	b.Subscribe(roomID.String(), watcher)

	c := newTestClient(g, roomID, "alice")
	g.handleFrame(c, Frame{Type: models.EventChatMessage, Body: "   "})

	assert.Empty(t, watcher.received())
	count, err := ds.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// The sender got an error frame.
	require.Len(t, c.send, 1)
	ef, ok := (<-c.send).(errorFrame)
	require.True(t, ok)
	assert.Equal(t, "error", ef.Type)
}

func TestEditRewritesOwnMessage(t *testing.T) {
	g, ds, b, roomID := newTestGateway(t)

	c := newTestClient(g, roomID, "alice")
	g.handleFrame(c, Frame{Type: models.EventChatMessage, Body: "first draft"})

	msgs, err := ds.ListRoomMessages(context.Background(), roomID.String(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	original := msgs[0]

	watcher := &captureSub{id: "watcher"}
	b.Subscribe(roomID.String(), watcher)

	g.handleFrame(c, Frame{Type: models.EventMessageEdit, MessageID: original.ID, Body: "final version"})

	events := watcher.received()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMessageEdit, events[0].Type)

	stored, err := ds.GetMessage(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, "final version", stored.Body)
	assert.True(t, stored.Edited)
	assert.Equal(t, models.Fingerprint("final version"), stored.Fingerprint)
	assert.GreaterOrEqual(t, stored.UpdatedAt, original.UpdatedAt)
}

func TestEditRejectsOtherUsersMessage(t *testing.T) {
	g, ds, _, roomID := newTestGateway(t)

	alice := newTestClient(g, roomID, "alice")
	g.handleFrame(alice, Frame{Type: models.EventChatMessage, Body: "mine"})

	msgs, err := ds.ListRoomMessages(context.Background(), roomID.String(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	mallory := newTestClient(g, roomID, "mallory")
	g.handleFrame(mallory, Frame{Type: models.EventMessageEdit, MessageID: msgs[0].ID, Body: "hijacked"})

	stored, err := ds.GetMessage(context.Background(), msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", stored.Body)
	assert.False(t, stored.Edited)
}

func TestDeleteHidesMessageFromHistory(t *testing.T) {
	g, ds, _, roomID := newTestGateway(t)

	c := newTestClient(g, roomID, "alice")
	g.handleFrame(c, Frame{Type: models.EventChatMessage, Body: "oops"})

	msgs, err := ds.ListRoomMessages(context.Background(), roomID.String(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	g.handleFrame(c, Frame{Type: models.EventMessageDelete, MessageID: msgs[0].ID})

	after, err := ds.ListRoomMessages(context.Background(), roomID.String(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, after)

	// The record itself survives for replication.
	stored, err := ds.GetMessage(context.Background(), msgs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Deleted)
}

func TestJoinLeaveFramesRejected(t *testing.T) {
	g, ds, b, roomID := newTestGateway(t)
	_ = ds

	watcher := &captureSub{id: "watcher"}
	b.Subscribe(roomID.String(), watcher)

	c := newTestClient(g, roomID, "alice")
	g.handleFrame(c, Frame{Type: models.EventUserJoin})
	g.handleFrame(c, Frame{Type: "bogus"})

	assert.Empty(t, watcher.received())
	assert.Len(t, c.send, 2)
}

func TestDisconnectClearsMembershipOnLastSession(t *testing.T) {
	g, ds, _, roomID := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, ds.AddRoomMember(ctx, roomID, "alice"))

	first := newTestClient(g, roomID, "alice")
	second := newTestClient(g, roomID, "alice")
	g.sessions.Join(ctx, first.roomID, first.userID, first.username, first.sessionID)
	g.sessions.Join(ctx, second.roomID, second.userID, second.username, second.sessionID)

	// One tab closing keeps the membership.
	g.disconnect(first)
	members, err := ds.ListRoomMembers(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	// The last session going away clears it.
	g.disconnect(second)
	members, err = ds.ListRoomMembers(ctx, roomID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestReactionBroadcastsWithoutPersisting(t *testing.T) {
	g, ds, b, roomID := newTestGateway(t)

	watcher := &captureSub{id: "watcher"}
	b.Subscribe(roomID.String(), watcher)

	c := newTestClient(g, roomID, "alice")
	g.handleFrame(c, Frame{Type: models.EventReaction, MessageID: "01JMSG", Reaction: "🎉"})

	events := watcher.received()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventReaction, events[0].Type)
	assert.Equal(t, "🎉", events[0].Reaction)

	count, err := ds.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
