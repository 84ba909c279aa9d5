package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skye-cyber/DistriChat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and bootstraps the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS node_registrations (
		id UUID PRIMARY KEY,
		node_name TEXT NOT NULL,
		node_url TEXT NOT NULL UNIQUE,
		admin_email TEXT NOT NULL DEFAULT '',
		max_rooms INTEGER NOT NULL DEFAULT 50,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		approved_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		api_key_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		load DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_rooms INTEGER NOT NULL DEFAULT 50,
		active_rooms INTEGER NOT NULL DEFAULT 0,
		active_connections INTEGER NOT NULL DEFAULT 0,
		cpu_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_heartbeat TIMESTAMPTZ,
		last_sync TIMESTAMPTZ,
		retired BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS node_heartbeats (
		id BIGSERIAL PRIMARY KEY,
		node_id UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		load DOUBLE PRECISION NOT NULL DEFAULT 0,
		active_connections INTEGER NOT NULL DEFAULT 0,
		cpu_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_usage DOUBLE PRECISION NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_heartbeats_node_ts ON node_heartbeats(node_id, ts DESC);

	CREATE TABLE IF NOT EXISTS rooms (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		node_id UUID NOT NULL,
		is_private BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		message_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_rooms_node ON rooms(node_id);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id UUID NOT NULL,
		user_id TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
		edited BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_fingerprint ON messages(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_messages_updated ON messages(updated_at);

	CREATE TABLE IF NOT EXISTS sync_sessions (
		id UUID PRIMARY KEY,
		node_id UUID NOT NULL,
		direction TEXT NOT NULL,
		sync_type TEXT NOT NULL,
		messages_synced INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_sync_sessions_node ON sync_sessions(node_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS sync_log (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL,
		message_id TEXT NOT NULL,
		action TEXT NOT NULL,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		watermark BIGINT NOT NULL DEFAULT 0
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateRegistration stores a new registration request.
func (s *PostgresStore) CreateRegistration(ctx context.Context, reg *models.NodeRegistration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO node_registrations (id, node_name, node_url, admin_email, max_rooms, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, reg.ID, reg.NodeName, reg.NodeURL, reg.AdminEmail, reg.MaxRooms, reg.Status).Scan(&reg.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateURL
	}
	return err
}

func scanRegistration(row pgx.Row) (*models.NodeRegistration, error) {
	reg := &models.NodeRegistration{}
	err := row.Scan(&reg.ID, &reg.NodeName, &reg.NodeURL, &reg.AdminEmail,
		&reg.MaxRooms, &reg.Status, &reg.CreatedAt, &reg.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return reg, nil
}

const registrationCols = `id, node_name, node_url, admin_email, max_rooms, status, created_at, approved_at`

// GetRegistration retrieves a registration by id.
func (s *PostgresStore) GetRegistration(ctx context.Context, id uuid.UUID) (*models.NodeRegistration, error) {
	return scanRegistration(s.pool.QueryRow(ctx,
		`SELECT `+registrationCols+` FROM node_registrations WHERE id = $1`, id))
}

// GetRegistrationByURL retrieves a registration by node URL.
func (s *PostgresStore) GetRegistrationByURL(ctx context.Context, url string) (*models.NodeRegistration, error) {
	return scanRegistration(s.pool.QueryRow(ctx,
		`SELECT `+registrationCols+` FROM node_registrations WHERE node_url = $1`, url))
}

// UpdateRegistration replaces a registration record.
func (s *PostgresStore) UpdateRegistration(ctx context.Context, reg *models.NodeRegistration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE node_registrations
		SET status = $2, approved_at = $3
		WHERE id = $1
	`, reg.ID, reg.Status, reg.ApprovedAt)
	return err
}

// ListRegistrations returns registrations, optionally filtered by status.
func (s *PostgresStore) ListRegistrations(ctx context.Context, status models.RegistrationStatus) ([]models.NodeRegistration, error) {
	query := `SELECT ` + registrationCols + ` FROM node_registrations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NodeRegistration
	for rows.Next() {
		var reg models.NodeRegistration
		if err := rows.Scan(&reg.ID, &reg.NodeName, &reg.NodeURL, &reg.AdminEmail,
			&reg.MaxRooms, &reg.Status, &reg.CreatedAt, &reg.ApprovedAt); err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

const nodeCols = `id, name, url, api_key_hash, status, load, max_rooms, active_rooms,
	active_connections, cpu_usage, memory_usage, last_heartbeat, last_sync, retired,
	created_at, updated_at`

func scanNodeRow(row pgx.Row) (*models.Node, error) {
	n := &models.Node{}
	err := row.Scan(&n.ID, &n.Name, &n.URL, &n.APIKeyHash, &n.Status, &n.Load,
		&n.MaxRooms, &n.ActiveRooms, &n.ActiveConnections, &n.CPUUsage, &n.MemoryUsage,
		&n.LastHeartbeat, &n.LastSync, &n.Retired, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

// CreateNode stores a new node, enforcing the unique URL constraint.
func (s *PostgresStore) CreateNode(ctx context.Context, node *models.Node) error {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO nodes (id, name, url, api_key_hash, status, load, max_rooms,
			active_rooms, active_connections, cpu_usage, memory_usage,
			last_heartbeat, last_sync, retired)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, node.ID, node.Name, node.URL, node.APIKeyHash, node.Status, node.Load,
		node.MaxRooms, node.ActiveRooms, node.ActiveConnections, node.CPUUsage,
		node.MemoryUsage, node.LastHeartbeat, node.LastSync, node.Retired).
		Scan(&node.CreatedAt, &node.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateURL
	}
	return err
}

// GetNode retrieves a node by id.
func (s *PostgresStore) GetNode(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	return scanNodeRow(s.pool.QueryRow(ctx, `SELECT `+nodeCols+` FROM nodes WHERE id = $1`, id))
}

// GetNodeByURL retrieves a node by URL.
func (s *PostgresStore) GetNodeByURL(ctx context.Context, url string) (*models.Node, error) {
	return scanNodeRow(s.pool.QueryRow(ctx, `SELECT `+nodeCols+` FROM nodes WHERE url = $1`, url))
}

// ListNodes returns all nodes ordered by id.
func (s *PostgresStore) ListNodes(ctx context.Context) ([]models.Node, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+nodeCols+` FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Node
	for rows.Next() {
		var n models.Node
		if err := rows.Scan(&n.ID, &n.Name, &n.URL, &n.APIKeyHash, &n.Status, &n.Load,
			&n.MaxRooms, &n.ActiveRooms, &n.ActiveConnections, &n.CPUUsage, &n.MemoryUsage,
			&n.LastHeartbeat, &n.LastSync, &n.Retired, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNode replaces the mutable fields of a node record.
func (s *PostgresStore) UpdateNode(ctx context.Context, node *models.Node) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE nodes
		SET status = $2, load = $3, max_rooms = $4, active_rooms = $5,
			active_connections = $6, cpu_usage = $7, memory_usage = $8,
			last_heartbeat = $9, last_sync = $10, retired = $11, updated_at = NOW()
		WHERE id = $1
	`, node.ID, node.Status, node.Load, node.MaxRooms, node.ActiveRooms,
		node.ActiveConnections, node.CPUUsage, node.MemoryUsage,
		node.LastHeartbeat, node.LastSync, node.Retired)
	return err
}

// RecordHeartbeat retains a heartbeat sample for the audit trail.
func (s *PostgresStore) RecordHeartbeat(ctx context.Context, sample models.HeartbeatSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO node_heartbeats (node_id, ts, load, active_connections, cpu_usage, memory_usage)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sample.NodeID, sample.Timestamp, sample.Load, sample.ActiveConnections,
		sample.CPUUsage, sample.MemoryUsage)
	return err
}

// RecentHeartbeats returns up to limit samples for a node, newest first.
func (s *PostgresStore) RecentHeartbeats(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.HeartbeatSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, ts, load, active_connections, cpu_usage, memory_usage
		FROM node_heartbeats
		WHERE node_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, nodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HeartbeatSample
	for rows.Next() {
		var hb models.HeartbeatSample
		if err := rows.Scan(&hb.NodeID, &hb.Timestamp, &hb.Load,
			&hb.ActiveConnections, &hb.CPUUsage, &hb.MemoryUsage); err != nil {
			return nil, err
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

const roomCols = `id, name, node_id, is_private, created_by, active, message_count, created_at, last_active_at`

func scanRoomRow(row pgx.Row) (*models.Room, error) {
	r := &models.Room{}
	err := row.Scan(&r.ID, &r.Name, &r.NodeID, &r.IsPrivate, &r.CreatedBy,
		&r.Active, &r.MessageCount, &r.CreatedAt, &r.LastActiveAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// CreateRoom stores a new room.
func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, name, node_id, is_private, created_by, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, last_active_at
	`, room.ID, room.Name, room.NodeID, room.IsPrivate, room.CreatedBy, room.Active).
		Scan(&room.CreatedAt, &room.LastActiveAt)
}

// GetRoom retrieves a room by id.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return scanRoomRow(s.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1`, id))
}

// ListRooms returns rooms with pagination, most recently active first.
func (s *PostgresStore) ListRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+roomCols+` FROM rooms
		ORDER BY last_active_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.NodeID, &r.IsPrivate, &r.CreatedBy,
			&r.Active, &r.MessageCount, &r.CreatedAt, &r.LastActiveAt); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// ListRoomsByNode returns the rooms owned by a node.
func (s *PostgresStore) ListRoomsByNode(ctx context.Context, nodeID uuid.UUID) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roomCols+` FROM rooms WHERE node_id = $1 ORDER BY id`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.NodeID, &r.IsPrivate, &r.CreatedBy,
			&r.Active, &r.MessageCount, &r.CreatedAt, &r.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRoom replaces the mutable fields of a room record.
func (s *PostgresStore) UpdateRoom(ctx context.Context, room *models.Room) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET name = $2, is_private = $3, active = $4, last_active_at = $5
		WHERE id = $1
	`, room.ID, room.Name, room.IsPrivate, room.Active, room.LastActiveAt)
	return err
}

// IncrementMessageCount bumps a room's message counter and activity time.
func (s *PostgresStore) IncrementMessageCount(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = NOW()
		WHERE id = $1
	`, roomID)
	return err
}

// AddRoomMember adds a user to a room's membership set (idempotent).
func (s *PostgresStore) AddRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID)
	return err
}

// RemoveRoomMember removes a user from a room's membership set.
func (s *PostgresStore) RemoveRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return err
}

// ListRoomMembers returns the room's member ids.
func (s *PostgresStore) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id`, roomID)
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
func (s *PostgresStore) CountRoomMembers(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM room_members WHERE room_id = $1`, roomID).Scan(&count)
	return count, err
}

const messageCols = `id, room_id, sender_id, sender_name, body, fingerprint, origin_node_id,
	edited, deleted, sync_status, created_at, updated_at`

// UpsertMessage inserts or, under last-write-wins, replaces a message.
// Conflicts on id resolve to the copy with the later updated timestamp,
// ties broken by the higher originating node id.
func (s *PostgresStore) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (`+messageCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET body = EXCLUDED.body,
			fingerprint = EXCLUDED.fingerprint,
			edited = EXCLUDED.edited,
			deleted = EXCLUDED.deleted,
			sync_status = EXCLUDED.sync_status,
			updated_at = EXCLUDED.updated_at
		WHERE messages.updated_at < EXCLUDED.updated_at
			OR (messages.updated_at = EXCLUDED.updated_at
				AND messages.origin_node_id < EXCLUDED.origin_node_id)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Body, msg.Fingerprint,
		msg.OriginNodeID, msg.Edited, msg.Deleted, msg.SyncStatus, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanMessageRow(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Body,
		&m.Fingerprint, &m.OriginNodeID, &m.Edited, &m.Deleted, &m.SyncStatus,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// GetMessage retrieves a message by id.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return scanMessageRow(s.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
}

// GetMessageByFingerprint finds a message in a room by content fingerprint.
func (s *PostgresStore) GetMessageByFingerprint(ctx context.Context, roomID, fingerprint string) (*models.Message, error) {
	return scanMessageRow(s.pool.QueryRow(ctx, `
		SELECT `+messageCols+` FROM messages
		WHERE room_id = $1 AND fingerprint = $2
		LIMIT 1
	`, roomID, fingerprint))
}

func (s *PostgresStore) scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Body,
			&m.Fingerprint, &m.OriginNodeID, &m.Edited, &m.Deleted, &m.SyncStatus,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRoomMessages returns up to limit messages for a room, newest first.
func (s *PostgresStore) ListRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	query := `SELECT ` + messageCols + ` FROM messages WHERE room_id = $1 AND NOT deleted`
	args := []any{roomID}
	if before > 0 {
		query += ` AND created_at < $2`
		args = append(args, before)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		if before > 0 {
			query += ` LIMIT $3`
		} else {
			query += ` LIMIT $2`
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows)
}

// ListMessagesSince returns messages updated strictly after since, oldest
// update first. Edits re-enter the incremental window through their bumped
// updated timestamp.
func (s *PostgresStore) ListMessagesSince(ctx context.Context, since int64, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageCols+` FROM messages
		WHERE updated_at > $1
		ORDER BY updated_at, id
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows)
}

// CountMessages returns the total number of stored messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// MarkMessagesSynced flips the given messages to synced.
func (s *PostgresStore) MarkMessagesSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE messages SET sync_status = 'synced' WHERE id = ANY($1)`, ids)
	return err
}

// CreateSyncSession stores a new sync session record.
func (s *PostgresStore) CreateSyncSession(ctx context.Context, sess *models.SyncSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO sync_sessions (id, node_id, direction, sync_type, messages_synced, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING started_at
	`, sess.ID, sess.NodeID, sess.Direction, sess.Type, sess.MessagesSynced,
		sess.Status, sess.Error).Scan(&sess.StartedAt)
}

// UpdateSyncSession replaces a sync session record.
func (s *PostgresStore) UpdateSyncSession(ctx context.Context, sess *models.SyncSession) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_sessions
		SET messages_synced = $2, status = $3, error = $4, completed_at = $5
		WHERE id = $1
	`, sess.ID, sess.MessagesSynced, sess.Status, sess.Error, sess.CompletedAt)
	return err
}

// ListSyncSessions returns sessions for a node, newest first.
func (s *PostgresStore) ListSyncSessions(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.SyncSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, node_id, direction, sync_type, messages_synced, status, error, started_at, completed_at
		FROM sync_sessions
		WHERE $1::uuid = '00000000-0000-0000-0000-000000000000' OR node_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, nodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncSession
	for rows.Next() {
		var sess models.SyncSession
		if err := rows.Scan(&sess.ID, &sess.NodeID, &sess.Direction, &sess.Type,
			&sess.MessagesSynced, &sess.Status, &sess.Error, &sess.StartedAt,
			&sess.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendSyncLog records the outcome for one message in a sync session.
func (s *PostgresStore) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_log (id, session_id, message_id, action)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.SessionID, entry.MessageID, entry.Action)
	return err
}

// GetSyncWatermark returns the stored watermark for a key, zero if unset.
func (s *PostgresStore) GetSyncWatermark(ctx context.Context, key string) (int64, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, `SELECT watermark FROM sync_state WHERE key = $1`, key).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return ts, err
}

// SetSyncWatermark stores the watermark for a key.
func (s *PostgresStore) SetSyncWatermark(ctx context.Context, key string, ts int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (key, watermark)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET watermark = EXCLUDED.watermark
	`, key, ts)
	return err
}
