// Package session tracks who is present in each room. Presence is derived
// from the set of live session ids per (room, user), so multiple tabs or a
// reconnect race can never drive a user's count negative or announce a
// duplicate join.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/metrics"
	"github.com/skye-cyber/DistriChat/internal/models"
)

// typingTimeout is how long a typing indicator stays up without renewal.
const typingTimeout = 3 * time.Second

// Publisher is where presence events go. bus.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

type userPresence struct {
	username    string
	sessions    map[string]struct{}
	typing      bool
	typingTimer *time.Timer
}

type roomPresence struct {
	users map[string]*userPresence
}

// Manager is the per-process presence table.
type Manager struct {
	pub Publisher

	mu       sync.Mutex
	rooms    map[string]*roomPresence
	sessions int
}

// NewManager creates a presence manager publishing through pub.
func NewManager(pub Publisher) *Manager {
	return &Manager{
		pub:   pub,
		rooms: make(map[string]*roomPresence),
	}
}

// Join records a session entering a room. The user_join event goes out only
// for the user's first live session, so a second tab is silent.
func (m *Manager) Join(ctx context.Context, roomID, userID, username, sessionID string) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		room = &roomPresence{users: make(map[string]*userPresence)}
		m.rooms[roomID] = room
	}
	user, ok := room.users[userID]
	if !ok {
		user = &userPresence{username: username, sessions: make(map[string]struct{})}
		room.users[userID] = user
	}
	first := len(user.sessions) == 0
	user.sessions[sessionID] = struct{}{}
	user.username = username
	m.sessions++
	metrics.WSConnections.Set(float64(m.sessions))
	m.mu.Unlock()

	if first {
		m.publish(ctx, models.Event{
			Type:      models.EventUserJoin,
			RoomID:    roomID,
			UserID:    userID,
			Username:  username,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// Leave records a session exiting a room and reports whether it was the
// user's last live session there. The user_leave event goes out only on that
// last session. Unknown sessions are ignored, so a duplicate close cannot
// double-count.
func (m *Manager) Leave(ctx context.Context, roomID, userID, sessionID string) bool {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	user, ok := room.users[userID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if _, ok := user.sessions[sessionID]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(user.sessions, sessionID)
	m.sessions--
	metrics.WSConnections.Set(float64(m.sessions))

	last := len(user.sessions) == 0
	username := user.username
	if last {
		if user.typingTimer != nil {
			user.typingTimer.Stop()
		}
		delete(room.users, userID)
		if len(room.users) == 0 {
			delete(m.rooms, roomID)
		}
	}
	m.mu.Unlock()

	if last {
		m.publish(ctx, models.Event{
			Type:      models.EventUserLeave,
			RoomID:    roomID,
			UserID:    userID,
			Username:  username,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return last
}

// SetTyping updates a user's typing indicator. An active indicator clears
// itself after typingTimeout unless renewed.
func (m *Manager) SetTyping(ctx context.Context, roomID, userID string, typing bool) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	user, ok := room.users[userID]
	if !ok {
		m.mu.Unlock()
		return
	}

	changed := user.typing != typing
	user.typing = typing
	if user.typingTimer != nil {
		user.typingTimer.Stop()
		user.typingTimer = nil
	}
	if typing {
		user.typingTimer = time.AfterFunc(typingTimeout, func() {
			m.SetTyping(context.Background(), roomID, userID, false)
		})
	}
	username := user.username
	m.mu.Unlock()

	if changed || typing {
		m.publish(ctx, models.Event{
			Type:      models.EventTyping,
			RoomID:    roomID,
			UserID:    userID,
			Username:  username,
			Typing:    typing,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// OnlineCount returns how many distinct users are present in a room.
func (m *Manager) OnlineCount(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return 0
	}
	return len(room.users)
}

// OnlineUsers returns the ids of users present in a room.
func (m *Manager) OnlineUsers(roomID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(room.users))
	for id := range room.users {
		out = append(out, id)
	}
	return out
}

// ActiveConnections returns the total number of live sessions, reported in
// heartbeats.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

func (m *Manager) publish(ctx context.Context, ev models.Event) {
	if m.pub == nil {
		return
	}
	if err := m.pub.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("room_id", ev.RoomID).Str("type", string(ev.Type)).
			Msg("presence event not published")
	}
}
