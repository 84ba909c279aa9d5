package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skye-cyber/DistriChat/internal/models"
)

// MemoryStore is an in-memory DataStore used in tests and as a development
// fallback when no database is configured. All methods are safe for
// concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	registrations map[uuid.UUID]models.NodeRegistration
	nodes         map[uuid.UUID]models.Node
	heartbeats    map[uuid.UUID][]models.HeartbeatSample
	rooms         map[uuid.UUID]models.Room
	members       map[uuid.UUID]map[string]struct{}
	messages      map[string]models.Message
	sessions      map[uuid.UUID]models.SyncSession
	syncLog       []models.SyncLogEntry
	watermarks    map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		registrations: make(map[uuid.UUID]models.NodeRegistration),
		nodes:         make(map[uuid.UUID]models.Node),
		heartbeats:    make(map[uuid.UUID][]models.HeartbeatSample),
		rooms:         make(map[uuid.UUID]models.Room),
		members:       make(map[uuid.UUID]map[string]struct{}),
		messages:      make(map[string]models.Message),
		sessions:      make(map[uuid.UUID]models.SyncSession),
		watermarks:    make(map[string]int64),
	}
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateRegistration stores a new registration request.
func (s *MemoryStore) CreateRegistration(ctx context.Context, reg *models.NodeRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.registrations {
		if r.NodeURL == reg.NodeURL {
			return ErrDuplicateURL
		}
	}
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	s.registrations[reg.ID] = *reg
	return nil
}

// GetRegistration retrieves a registration by id.
func (s *MemoryStore) GetRegistration(ctx context.Context, id uuid.UUID) (*models.NodeRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.registrations[id]; ok {
		cp := r
		return &cp, nil
	}
	return nil, nil
}

// GetRegistrationByURL retrieves a registration by node URL.
func (s *MemoryStore) GetRegistrationByURL(ctx context.Context, url string) (*models.NodeRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.registrations {
		if r.NodeURL == url {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

// UpdateRegistration replaces a registration record.
func (s *MemoryStore) UpdateRegistration(ctx context.Context, reg *models.NodeRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.ID] = *reg
	return nil
}

// ListRegistrations returns registrations, optionally filtered by status.
func (s *MemoryStore) ListRegistrations(ctx context.Context, status models.RegistrationStatus) ([]models.NodeRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.NodeRegistration
	for _, r := range s.registrations {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateNode stores a new node, enforcing the unique URL constraint.
func (s *MemoryStore) CreateNode(ctx context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.URL == node.URL {
			return ErrDuplicateURL
		}
	}
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now
	s.nodes[node.ID] = *node
	return nil
}

// GetNode retrieves a node by id.
func (s *MemoryStore) GetNode(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[id]; ok {
		cp := n
		return &cp, nil
	}
	return nil, nil
}

// GetNodeByURL retrieves a node by URL.
func (s *MemoryStore) GetNodeByURL(ctx context.Context, url string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.URL == url {
			cp := n
			return &cp, nil
		}
	}
	return nil, nil
}

// ListNodes returns all nodes ordered by id for determinism.
func (s *MemoryStore) ListNodes(ctx context.Context) ([]models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// UpdateNode replaces a node record.
func (s *MemoryStore) UpdateNode(ctx context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node.UpdatedAt = time.Now().UTC()
	s.nodes[node.ID] = *node
	return nil
}

// RecordHeartbeat retains a heartbeat sample, keeping the most recent 50.
func (s *MemoryStore) RecordHeartbeat(ctx context.Context, sample models.HeartbeatSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb := append(s.heartbeats[sample.NodeID], sample)
	if len(hb) > 50 {
		hb = hb[len(hb)-50:]
	}
	s.heartbeats[sample.NodeID] = hb
	return nil
}

// RecentHeartbeats returns up to limit samples, newest first.
func (s *MemoryStore) RecentHeartbeats(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.HeartbeatSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hb := s.heartbeats[nodeID]
	out := make([]models.HeartbeatSample, 0, limit)
	for i := len(hb) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, hb[i])
	}
	return out, nil
}

// CreateRoom stores a new room.
func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	now := time.Now().UTC()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	if room.LastActiveAt.IsZero() {
		room.LastActiveAt = now
	}
	s.rooms[room.ID] = *room
	return nil
}

// GetRoom retrieves a room by id.
func (s *MemoryStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[id]; ok {
		cp := r
		return &cp, nil
	}
	return nil, nil
}

// ListRooms returns rooms with pagination, most recently active first.
func (s *MemoryStore) ListRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastActiveAt.After(all[j].LastActiveAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

// ListRoomsByNode returns the rooms owned by a node.
func (s *MemoryStore) ListRoomsByNode(ctx context.Context, nodeID uuid.UUID) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Room
	for _, r := range s.rooms {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// UpdateRoom replaces a room record.
func (s *MemoryStore) UpdateRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = *room
	return nil
}

// IncrementMessageCount bumps a room's message counter and activity time.
func (s *MemoryStore) IncrementMessageCount(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.MessageCount++
		r.LastActiveAt = time.Now().UTC()
		s.rooms[roomID] = r
	}
	return nil
}

// AddRoomMember adds a user to a room's membership set (idempotent).
func (s *MemoryStore) AddRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] == nil {
		s.members[roomID] = make(map[string]struct{})
	}
	s.members[roomID][userID] = struct{}{}
	return nil
}

// RemoveRoomMember removes a user from a room's membership set.
func (s *MemoryStore) RemoveRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[roomID], userID)
	return nil
}

// ListRoomMembers returns the room's member ids sorted for determinism.
func (s *MemoryStore) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members[roomID]))
	for id := range s.members[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// CountRoomMembers returns the size of the room's membership set.
func (s *MemoryStore) CountRoomMembers(ctx context.Context, roomID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[roomID]), nil
}

// UpsertMessage inserts or, under last-write-wins, replaces a message.
func (s *MemoryStore) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.messages[msg.ID]
	if ok && !msg.Supersedes(&existing) {
		return false, nil
	}
	s.messages[msg.ID] = *msg
	return true, nil
}

// GetMessage retrieves a message by id.
func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.messages[id]; ok {
		cp := m
		return &cp, nil
	}
	return nil, nil
}

// GetMessageByFingerprint finds a message in a room by content fingerprint.
func (s *MemoryStore) GetMessageByFingerprint(ctx context.Context, roomID, fingerprint string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.RoomID == roomID && m.Fingerprint == fingerprint {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

// ListRoomMessages returns up to limit messages for a room, newest first,
// strictly older than before when before > 0.
func (s *MemoryStore) ListRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.RoomID != roomID || m.Deleted {
			continue
		}
		if before > 0 && m.CreatedAt >= before {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListMessagesSince returns messages updated strictly after since, oldest
// update first, capped at limit. Keying on the update timestamp keeps
// edits of old messages inside the incremental window.
func (s *MemoryStore) ListMessagesSince(ctx context.Context, since int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.UpdatedAt > since {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt < out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountMessages returns the total number of stored messages.
func (s *MemoryStore) CountMessages(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages)), nil
}

// MarkMessagesSynced flips the given messages to synced.
func (s *MemoryStore) MarkMessagesSynced(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			m.SyncStatus = models.SyncSynced
			s.messages[id] = m
		}
	}
	return nil
}

// CreateSyncSession stores a new sync session record.
func (s *MemoryStore) CreateSyncSession(ctx context.Context, sess *models.SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	s.sessions[sess.ID] = *sess
	return nil
}

// UpdateSyncSession replaces a sync session record.
func (s *MemoryStore) UpdateSyncSession(ctx context.Context, sess *models.SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

// ListSyncSessions returns sessions for a node, newest first.
func (s *MemoryStore) ListSyncSessions(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.SyncSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SyncSession
	for _, sess := range s.sessions {
		if nodeID == uuid.Nil || sess.NodeID == nodeID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendSyncLog records the outcome for one message in a sync session.
func (s *MemoryStore) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.SyncedAt.IsZero() {
		entry.SyncedAt = time.Now().UTC()
	}
	s.syncLog = append(s.syncLog, *entry)
	return nil
}

// GetSyncWatermark returns the stored watermark for a key, zero if unset.
func (s *MemoryStore) GetSyncWatermark(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[key], nil
}

// SetSyncWatermark stores the watermark for a key.
func (s *MemoryStore) SetSyncWatermark(ctx context.Context, key string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[key] = ts
	return nil
}
