package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skye-cyber/DistriChat/internal/models"
)

// SQLiteStore handles SQLite database operations. It backs both a chat
// node's local message log and single-binary coordinator deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/districhat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/districhat.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS node_registrations (
		id TEXT PRIMARY KEY,
		node_name TEXT NOT NULL,
		node_url TEXT NOT NULL UNIQUE,
		admin_email TEXT NOT NULL DEFAULT '',
		max_rooms INTEGER NOT NULL DEFAULT 50,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		approved_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		api_key_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		load REAL NOT NULL DEFAULT 0,
		max_rooms INTEGER NOT NULL DEFAULT 50,
		active_rooms INTEGER NOT NULL DEFAULT 0,
		active_connections INTEGER NOT NULL DEFAULT 0,
		cpu_usage REAL NOT NULL DEFAULT 0,
		memory_usage REAL NOT NULL DEFAULT 0,
		last_heartbeat DATETIME,
		last_sync DATETIME,
		retired INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS node_heartbeats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT NOT NULL,
		ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		load REAL NOT NULL DEFAULT 0,
		active_connections INTEGER NOT NULL DEFAULT 0,
		cpu_usage REAL NOT NULL DEFAULT 0,
		memory_usage REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_heartbeats_node_ts ON node_heartbeats(node_id, ts DESC);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		node_id TEXT NOT NULL,
		is_private INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rooms_node ON rooms(node_id);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		origin_node_id TEXT NOT NULL,
		edited INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_fingerprint ON messages(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_messages_updated ON messages(updated_at);

	CREATE TABLE IF NOT EXISTS sync_sessions (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		sync_type TEXT NOT NULL,
		messages_synced INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_sync_sessions_node ON sync_sessions(node_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS sync_log (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		action TEXT NOT NULL,
		synced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		watermark INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateRegistration stores a new registration request.
func (s *SQLiteStore) CreateRegistration(ctx context.Context, reg *models.NodeRegistration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_registrations (id, node_name, node_url, admin_email, max_rooms, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, reg.ID.String(), reg.NodeName, reg.NodeURL, reg.AdminEmail, reg.MaxRooms, reg.Status, reg.CreatedAt)
	if isSQLiteUnique(err) {
		return ErrDuplicateURL
	}
	return err
}

func (s *SQLiteStore) scanRegistration(row *sql.Row) (*models.NodeRegistration, error) {
	reg := &models.NodeRegistration{}
	var idStr string
	err := row.Scan(&idStr, &reg.NodeName, &reg.NodeURL, &reg.AdminEmail,
		&reg.MaxRooms, &reg.Status, &reg.CreatedAt, &reg.ApprovedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	reg.ID = uuid.MustParse(idStr)
	return reg, nil
}

// GetRegistration retrieves a registration by id.
func (s *SQLiteStore) GetRegistration(ctx context.Context, id uuid.UUID) (*models.NodeRegistration, error) {
	return s.scanRegistration(s.db.QueryRowContext(ctx, `
		SELECT id, node_name, node_url, admin_email, max_rooms, status, created_at, approved_at
		FROM node_registrations WHERE id = ?
	`, id.String()))
}

// GetRegistrationByURL retrieves a registration by node URL.
func (s *SQLiteStore) GetRegistrationByURL(ctx context.Context, url string) (*models.NodeRegistration, error) {
	return s.scanRegistration(s.db.QueryRowContext(ctx, `
		SELECT id, node_name, node_url, admin_email, max_rooms, status, created_at, approved_at
		FROM node_registrations WHERE node_url = ?
	`, url))
}

// UpdateRegistration replaces a registration record.
func (s *SQLiteStore) UpdateRegistration(ctx context.Context, reg *models.NodeRegistration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE node_registrations SET status = ?, approved_at = ? WHERE id = ?
	`, reg.Status, reg.ApprovedAt, reg.ID.String())
	return err
}

// ListRegistrations returns registrations, optionally filtered by status.
func (s *SQLiteStore) ListRegistrations(ctx context.Context, status models.RegistrationStatus) ([]models.NodeRegistration, error) {
	query := `SELECT id, node_name, node_url, admin_email, max_rooms, status, created_at, approved_at
		FROM node_registrations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NodeRegistration
	for rows.Next() {
		var reg models.NodeRegistration
		var idStr string
		if err := rows.Scan(&idStr, &reg.NodeName, &reg.NodeURL, &reg.AdminEmail,
			&reg.MaxRooms, &reg.Status, &reg.CreatedAt, &reg.ApprovedAt); err != nil {
			return nil, err
		}
		reg.ID = uuid.MustParse(idStr)
		out = append(out, reg)
	}
	return out, rows.Err()
}

// CreateNode stores a new node, enforcing the unique URL constraint.
func (s *SQLiteStore) CreateNode(ctx context.Context, node *models.Node) error {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, name, url, api_key_hash, status, load, max_rooms,
			active_rooms, active_connections, cpu_usage, memory_usage,
			last_heartbeat, last_sync, retired, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, node.ID.String(), node.Name, node.URL, node.APIKeyHash, node.Status, node.Load,
		node.MaxRooms, node.ActiveRooms, node.ActiveConnections, node.CPUUsage,
		node.MemoryUsage, node.LastHeartbeat, node.LastSync, boolToInt(node.Retired),
		node.CreatedAt, node.UpdatedAt)
	if isSQLiteUnique(err) {
		return ErrDuplicateURL
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) scanNode(row *sql.Row) (*models.Node, error) {
	n := &models.Node{}
	var idStr string
	var retired int
	err := row.Scan(&idStr, &n.Name, &n.URL, &n.APIKeyHash, &n.Status, &n.Load,
		&n.MaxRooms, &n.ActiveRooms, &n.ActiveConnections, &n.CPUUsage, &n.MemoryUsage,
		&n.LastHeartbeat, &n.LastSync, &retired, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	n.ID = uuid.MustParse(idStr)
	n.Retired = retired == 1
	return n, nil
}

const sqliteNodeCols = `id, name, url, api_key_hash, status, load, max_rooms, active_rooms,
	active_connections, cpu_usage, memory_usage, last_heartbeat, last_sync, retired,
	created_at, updated_at`

// GetNode retrieves a node by id.
func (s *SQLiteStore) GetNode(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	return s.scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteNodeCols+` FROM nodes WHERE id = ?`, id.String()))
}

// GetNodeByURL retrieves a node by URL.
func (s *SQLiteStore) GetNodeByURL(ctx context.Context, url string) (*models.Node, error) {
	return s.scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteNodeCols+` FROM nodes WHERE url = ?`, url))
}

// ListNodes returns all nodes ordered by id.
func (s *SQLiteStore) ListNodes(ctx context.Context) ([]models.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteNodeCols+` FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Node
	for rows.Next() {
		var n models.Node
		var idStr string
		var retired int
		if err := rows.Scan(&idStr, &n.Name, &n.URL, &n.APIKeyHash, &n.Status, &n.Load,
			&n.MaxRooms, &n.ActiveRooms, &n.ActiveConnections, &n.CPUUsage, &n.MemoryUsage,
			&n.LastHeartbeat, &n.LastSync, &retired, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		n.ID = uuid.MustParse(idStr)
		n.Retired = retired == 1
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNode replaces the mutable fields of a node record.
func (s *SQLiteStore) UpdateNode(ctx context.Context, node *models.Node) error {
	node.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET status = ?, load = ?, max_rooms = ?, active_rooms = ?,
			active_connections = ?, cpu_usage = ?, memory_usage = ?,
			last_heartbeat = ?, last_sync = ?, retired = ?, updated_at = ?
		WHERE id = ?
	`, node.Status, node.Load, node.MaxRooms, node.ActiveRooms,
		node.ActiveConnections, node.CPUUsage, node.MemoryUsage,
		node.LastHeartbeat, node.LastSync, boolToInt(node.Retired), node.UpdatedAt,
		node.ID.String())
	return err
}

// RecordHeartbeat retains a heartbeat sample for the audit trail.
func (s *SQLiteStore) RecordHeartbeat(ctx context.Context, sample models.HeartbeatSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_heartbeats (node_id, ts, load, active_connections, cpu_usage, memory_usage)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sample.NodeID.String(), sample.Timestamp, sample.Load,
		sample.ActiveConnections, sample.CPUUsage, sample.MemoryUsage)
	return err
}

// RecentHeartbeats returns up to limit samples for a node, newest first.
func (s *SQLiteStore) RecentHeartbeats(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.HeartbeatSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, ts, load, active_connections, cpu_usage, memory_usage
		FROM node_heartbeats
		WHERE node_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`, nodeID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HeartbeatSample
	for rows.Next() {
		var hb models.HeartbeatSample
		var idStr string
		if err := rows.Scan(&idStr, &hb.Timestamp, &hb.Load,
			&hb.ActiveConnections, &hb.CPUUsage, &hb.MemoryUsage); err != nil {
			return nil, err
		}
		hb.NodeID = uuid.MustParse(idStr)
		out = append(out, hb)
	}
	return out, rows.Err()
}

// CreateRoom stores a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *models.Room) error {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, node_id, is_private, created_by, active,
			message_count, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, room.ID.String(), room.Name, room.NodeID.String(), boolToInt(room.IsPrivate),
		room.CreatedBy, boolToInt(room.Active), room.MessageCount, room.CreatedAt,
		room.LastActiveAt)
	return err
}

func (s *SQLiteStore) scanRoom(row *sql.Row) (*models.Room, error) {
	r := &models.Room{}
	var idStr, nodeIDStr string
	var isPrivate, active int
	err := row.Scan(&idStr, &r.Name, &nodeIDStr, &isPrivate, &r.CreatedBy,
		&active, &r.MessageCount, &r.CreatedAt, &r.LastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.ID = uuid.MustParse(idStr)
	r.NodeID = uuid.MustParse(nodeIDStr)
	r.IsPrivate = isPrivate == 1
	r.Active = active == 1
	return r, nil
}

const sqliteRoomCols = `id, name, node_id, is_private, created_by, active, message_count, created_at, last_active_at`

// GetRoom retrieves a room by id.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRoomCols+` FROM rooms WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) scanRooms(rows *sql.Rows) ([]models.Room, error) {
	defer rows.Close()
	var out []models.Room
	for rows.Next() {
		var r models.Room
		var idStr, nodeIDStr string
		var isPrivate, active int
		if err := rows.Scan(&idStr, &r.Name, &nodeIDStr, &isPrivate, &r.CreatedBy,
			&active, &r.MessageCount, &r.CreatedAt, &r.LastActiveAt); err != nil {
			return nil, err
		}
		r.ID = uuid.MustParse(idStr)
		r.NodeID = uuid.MustParse(nodeIDStr)
		r.IsPrivate = isPrivate == 1
		r.Active = active == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRooms returns rooms with pagination, most recently active first.
func (s *SQLiteStore) ListRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteRoomCols+` FROM rooms
		ORDER BY last_active_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	rooms, err := s.scanRooms(rows)
	return rooms, total, err
}

// ListRoomsByNode returns the rooms owned by a node.
func (s *SQLiteStore) ListRoomsByNode(ctx context.Context, nodeID uuid.UUID) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRoomCols+` FROM rooms WHERE node_id = ? ORDER BY id`, nodeID.String())
	if err != nil {
		return nil, err
	}
	return s.scanRooms(rows)
}

// UpdateRoom replaces the mutable fields of a room record.
func (s *SQLiteStore) UpdateRoom(ctx context.Context, room *models.Room) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET name = ?, is_private = ?, active = ?, last_active_at = ?
		WHERE id = ?
	`, room.Name, boolToInt(room.IsPrivate), boolToInt(room.Active),
		room.LastActiveAt, room.ID.String())
	return err
}

// IncrementMessageCount bumps a room's message counter and activity time.
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, roomID.String())
	return err
}

// AddRoomMember adds a user to a room's membership set (idempotent).
func (s *SQLiteStore) AddRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)
	`, roomID.String(), userID)
	return err
}

// RemoveRoomMember removes a user from a room's membership set.
func (s *SQLiteStore) RemoveRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = ? AND user_id = ?`, roomID.String(), userID)
	return err
}

// ListRoomMembers returns the room's member ids.
func (s *SQLiteStore) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM room_members WHERE room_id = ? ORDER BY user_id`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountRoomMembers returns the size of the room's membership set.
func (s *SQLiteStore) CountRoomMembers(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ?`, roomID.String()).Scan(&count)
	return count, err
}

const sqliteMessageCols = `id, room_id, sender_id, sender_name, body, fingerprint, origin_node_id,
	edited, deleted, sync_status, created_at, updated_at`

// UpsertMessage inserts or, under last-write-wins, replaces a message.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+sqliteMessageCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET body = excluded.body,
			fingerprint = excluded.fingerprint,
			edited = excluded.edited,
			deleted = excluded.deleted,
			sync_status = excluded.sync_status,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at > messages.updated_at
			OR (excluded.updated_at = messages.updated_at
				AND excluded.origin_node_id > messages.origin_node_id)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Body, msg.Fingerprint,
		msg.OriginNodeID, boolToInt(msg.Edited), boolToInt(msg.Deleted), msg.SyncStatus,
		msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) scanMessage(row *sql.Row) (*models.Message, error) {
	m := &models.Message{}
	var edited, deleted int
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Body,
		&m.Fingerprint, &m.OriginNodeID, &edited, &deleted, &m.SyncStatus,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.Edited = edited == 1
	m.Deleted = deleted == 1
	return m, nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMessageCols+` FROM messages WHERE id = ?`, id))
}

// GetMessageByFingerprint finds a message in a room by content fingerprint.
func (s *SQLiteStore) GetMessageByFingerprint(ctx context.Context, roomID, fingerprint string) (*models.Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageCols+` FROM messages
		WHERE room_id = ? AND fingerprint = ?
		LIMIT 1
	`, roomID, fingerprint))
}

func (s *SQLiteStore) scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var edited, deleted int
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Body,
			&m.Fingerprint, &m.OriginNodeID, &edited, &deleted, &m.SyncStatus,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Edited = edited == 1
		m.Deleted = deleted == 1
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRoomMessages returns up to limit messages for a room, newest first.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	query := `SELECT ` + sqliteMessageCols + ` FROM messages WHERE room_id = ? AND deleted = 0`
	args := []any{roomID}
	if before > 0 {
		query += ` AND created_at < ?`
		args = append(args, before)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows)
}

// ListMessagesSince returns messages updated strictly after since, oldest
// update first. Edits re-enter the incremental window through their bumped
// updated timestamp.
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, since int64, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageCols+` FROM messages
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows)
}

// CountMessages returns the total number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// MarkMessagesSynced flips the given messages to synced.
func (s *SQLiteStore) MarkMessagesSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET sync_status = 'synced' WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// CreateSyncSession stores a new sync session record.
func (s *SQLiteStore) CreateSyncSession(ctx context.Context, sess *models.SyncSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_sessions (id, node_id, direction, sync_type, messages_synced, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID.String(), sess.NodeID.String(), sess.Direction, sess.Type,
		sess.MessagesSynced, sess.Status, sess.Error, sess.StartedAt)
	return err
}

// UpdateSyncSession replaces a sync session record.
func (s *SQLiteStore) UpdateSyncSession(ctx context.Context, sess *models.SyncSession) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_sessions
		SET messages_synced = ?, status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, sess.MessagesSynced, sess.Status, sess.Error, sess.CompletedAt, sess.ID.String())
	return err
}

// ListSyncSessions returns sessions for a node, newest first.
func (s *SQLiteStore) ListSyncSessions(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.SyncSession, error) {
	query := `SELECT id, node_id, direction, sync_type, messages_synced, status, error, started_at, completed_at
		FROM sync_sessions`
	args := []any{}
	if nodeID != uuid.Nil {
		query += ` WHERE node_id = ?`
		args = append(args, nodeID.String())
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncSession
	for rows.Next() {
		var sess models.SyncSession
		var idStr, nodeIDStr string
		if err := rows.Scan(&idStr, &nodeIDStr, &sess.Direction, &sess.Type,
			&sess.MessagesSynced, &sess.Status, &sess.Error, &sess.StartedAt,
			&sess.CompletedAt); err != nil {
			return nil, err
		}
		sess.ID = uuid.MustParse(idStr)
		sess.NodeID = uuid.MustParse(nodeIDStr)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendSyncLog records the outcome for one message in a sync session.
func (s *SQLiteStore) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.SyncedAt.IsZero() {
		entry.SyncedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, session_id, message_id, action, synced_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID.String(), entry.SessionID.String(), entry.MessageID, entry.Action, entry.SyncedAt)
	return err
}

// GetSyncWatermark returns the stored watermark for a key, zero if unset.
func (s *SQLiteStore) GetSyncWatermark(ctx context.Context, key string) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark FROM sync_state WHERE key = ?`, key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return ts, err
}

// SetSyncWatermark stores the watermark for a key.
func (s *SQLiteStore) SetSyncWatermark(ctx context.Context, key string, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, watermark) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET watermark = excluded.watermark
	`, key, ts)
	return err
}
