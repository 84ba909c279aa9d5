// Package ws is the websocket edge of a chat node: it upgrades connections,
// feeds inbound frames into the room's event stream and pumps the stream
// back out to every session.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/bus"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/session"
	"github.com/skye-cyber/DistriChat/internal/store"
)

const historyLimit = 50

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Frame is one inbound client message. Only a subset of event kinds may
// originate from clients; join/leave are derived server-side from the
// connection lifecycle.
type Frame struct {
	Type      models.EventType `json:"type"`
	Body      string           `json:"body,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	Typing    bool             `json:"typing,omitempty"`
	Reaction  string           `json:"reaction,omitempty"`
}

// RoomResolver looks up a room this node has not seen yet, typically from
// the coordinator. May be nil on single-node deployments.
type RoomResolver interface {
	ResolveRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
}

// Gateway owns the websocket endpoint of a chat node.
type Gateway struct {
	nodeID   string
	store    store.DataStore
	cache    *store.RedisStore
	bus      *bus.Bus
	sessions *session.Manager
	resolver RoomResolver
}

// NewGateway wires the websocket endpoint. cache and resolver may be nil.
func NewGateway(nodeID string, ds store.DataStore, cache *store.RedisStore, b *bus.Bus, sm *session.Manager, resolver RoomResolver) *Gateway {
	return &Gateway{
		nodeID:   nodeID,
		store:    ds,
		cache:    cache,
		bus:      b,
		sessions: sm,
		resolver: resolver,
	}
}

// ServeWS handles GET /ws/chat/{roomID}?user_id=...&username=... and runs
// the connection until either side closes it.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomIDStr := chi.URLParam(r, "roomID")
	if roomIDStr == "" {
		roomIDStr = r.URL.Query().Get("room_id")
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		username = userID
	}

	roomID, err := uuid.Parse(roomIDStr)
	if err != nil || userID == "" {
		http.Error(w, "room_id and user_id are required", http.StatusBadRequest)
		return
	}

	room, err := g.lookupRoom(r.Context(), roomID)
	if err != nil {
		http.Error(w, "room lookup failed", http.StatusInternalServerError)
		return
	}
	if room == nil || !room.Active {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		gateway:   g,
		conn:      conn,
		send:      make(chan any, sendBuffer),
		sessionID: uuid.NewString(),
		roomID:    roomID.String(),
		userID:    userID,
		username:  username,
	}

	ctx := context.Background()
	if err := g.store.AddRoomMember(ctx, roomID, userID); err != nil {
		log.Warn().Err(err).Str("room_id", client.roomID).Msg("membership not recorded")
	}

	g.bus.Subscribe(client.roomID, client)
	g.sessions.Join(ctx, client.roomID, userID, username, client.sessionID)
	g.sendHistory(ctx, client)

	go client.writePump()
	go client.readPump()
}

// lookupRoom checks the local store first, then asks the resolver and
// caches what it learns. Rooms created on the coordinator become known here
// the first time someone connects to them.
func (g *Gateway) lookupRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := g.store.GetRoom(ctx, roomID)
	if err != nil || room != nil {
		return room, err
	}
	if g.resolver == nil {
		return nil, nil
	}

	room, err = g.resolver.ResolveRoom(ctx, roomID)
	if err != nil || room == nil {
		return nil, err
	}
	if err := g.store.CreateRoom(ctx, room); err != nil {
		log.Warn().Err(err).Str("room_id", roomID.String()).Msg("resolved room not cached")
	}
	return room, nil
}

// sendHistory replays recent room history to a fresh connection, hot cache
// first, durable store as fallback.
func (g *Gateway) sendHistory(ctx context.Context, c *Client) {
	var msgs []models.Message
	var err error
	if g.cache != nil {
		msgs, err = g.cache.GetRoomMessages(ctx, c.roomID, historyLimit, 0)
		if err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Msg("history cache read failed")
		}
	}
	if len(msgs) == 0 {
		msgs, err = g.store.ListRoomMessages(ctx, c.roomID, historyLimit, 0)
		if err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Msg("history read failed")
			return
		}
	}

	// Stored newest first; replay oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		c.Notify(models.Event{
			Type:      models.EventChatMessage,
			RoomID:    c.roomID,
			UserID:    msg.SenderID,
			Username:  msg.SenderName,
			Message:   &msg,
			Origin:    g.nodeID,
			Timestamp: msg.CreatedAt,
		})
	}
}

// disconnect tears a client down after its read pump exits. Membership is
// cleared only when the user's last session in the room is gone, so a second
// tab closing does not evict them.
func (g *Gateway) disconnect(c *Client) {
	ctx := context.Background()
	g.bus.Unsubscribe(c.roomID, c.sessionID)
	if !g.sessions.Leave(ctx, c.roomID, c.userID, c.sessionID) {
		return
	}
	roomID, err := uuid.Parse(c.roomID)
	if err != nil {
		return
	}
	if err := g.store.RemoveRoomMember(ctx, roomID, c.userID); err != nil {
		log.Warn().Err(err).Str("room_id", c.roomID).Str("user_id", c.userID).
			Msg("membership not cleared")
	}
}

// handleFrame dispatches one inbound frame. The switch is exhaustive over
// the client-originated kinds; everything else is rejected.
func (g *Gateway) handleFrame(c *Client, frame Frame) {
	ctx := context.Background()

	switch frame.Type {
	case models.EventChatMessage:
		g.handleChat(ctx, c, frame)

	case models.EventTyping:
		g.sessions.SetTyping(ctx, c.roomID, c.userID, frame.Typing)

	case models.EventMessageEdit:
		g.handleEdit(ctx, c, frame, false)

	case models.EventMessageDelete:
		g.handleEdit(ctx, c, frame, true)

	case models.EventReaction:
		g.handleReaction(ctx, c, frame)

	case models.EventUserJoin, models.EventUserLeave:
		c.sendError("join and leave are connection-derived")

	default:
		c.sendError("unknown frame type")
	}
}

func (g *Gateway) handleChat(ctx context.Context, c *Client, frame Frame) {
	body := strings.TrimSpace(frame.Body)
	if body == "" {
		c.sendError("empty message body")
		return
	}

	now := time.Now().UnixMilli()
	msg := &models.Message{
		ID:           ulid.Make().String(),
		RoomID:       c.roomID,
		SenderID:     c.userID,
		SenderName:   c.username,
		Body:         body,
		Fingerprint:  models.Fingerprint(body),
		OriginNodeID: g.nodeID,
		SyncStatus:   models.SyncPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := g.store.UpsertMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("message not persisted")
		c.sendError("message not accepted")
		return
	}
	if roomID, err := uuid.Parse(c.roomID); err == nil {
		if err := g.store.IncrementMessageCount(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Msg("message count not bumped")
		}
	}
	if g.cache != nil {
		if err := g.cache.CacheMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Msg("message not cached")
		}
	}

	g.publish(ctx, c, models.Event{
		Type:      models.EventChatMessage,
		RoomID:    c.roomID,
		UserID:    c.userID,
		Username:  c.username,
		Message:   msg,
		Timestamp: now,
	})
}

// handleEdit covers both edit and delete: the sender rewrites their own
// message, the updated timestamp moves forward so the change wins LWW
// against the original everywhere.
func (g *Gateway) handleEdit(ctx context.Context, c *Client, frame Frame, del bool) {
	if frame.MessageID == "" {
		c.sendError("message_id is required")
		return
	}
	msg, err := g.store.GetMessage(ctx, frame.MessageID)
	if err != nil {
		c.sendError("message lookup failed")
		return
	}
	if msg == nil || msg.RoomID != c.roomID {
		c.sendError("message not found")
		return
	}
	if msg.SenderID != c.userID {
		c.sendError("not your message")
		return
	}

	if del {
		msg.Deleted = true
	} else {
		body := strings.TrimSpace(frame.Body)
		if body == "" {
			c.sendError("empty message body")
			return
		}
		msg.Body = body
		msg.Fingerprint = models.Fingerprint(body)
		msg.Edited = true
	}
	// Strictly later than the stored copy, or the rewrite loses the
	// conflict against it.
	now := time.Now().UnixMilli()
	if now <= msg.UpdatedAt {
		now = msg.UpdatedAt + 1
	}
	msg.UpdatedAt = now
	msg.SyncStatus = models.SyncPending

	if _, err := g.store.UpsertMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("message update not persisted")
		c.sendError("update not accepted")
		return
	}

	evType := models.EventMessageEdit
	if del {
		evType = models.EventMessageDelete
	}
	g.publish(ctx, c, models.Event{
		Type:      evType,
		RoomID:    c.roomID,
		UserID:    c.userID,
		Username:  c.username,
		Message:   msg,
		MessageID: msg.ID,
		Timestamp: msg.UpdatedAt,
	})
}

func (g *Gateway) handleReaction(ctx context.Context, c *Client, frame Frame) {
	if frame.MessageID == "" || frame.Reaction == "" {
		c.sendError("message_id and reaction are required")
		return
	}
	g.publish(ctx, c, models.Event{
		Type:      models.EventReaction,
		RoomID:    c.roomID,
		UserID:    c.userID,
		Username:  c.username,
		MessageID: frame.MessageID,
		Reaction:  frame.Reaction,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (g *Gateway) publish(ctx context.Context, c *Client, ev models.Event) {
	if err := g.bus.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("room_id", c.roomID).Str("type", string(ev.Type)).
			Msg("event not published")
	}
}
