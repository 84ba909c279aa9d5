package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/skye-cyber/DistriChat/internal/models"
)

// ErrDuplicateURL is returned when a node or registration reuses a URL that
// is already taken.
var ErrDuplicateURL = errors.New("store: url already registered")

// DataStore defines the durable storage interface shared by the coordinator
// and the chat nodes. PostgresStore, SQLiteStore and MemoryStore implement
// it. Lookups return (nil, nil) when the record does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Node registrations
	CreateRegistration(ctx context.Context, reg *models.NodeRegistration) error
	GetRegistration(ctx context.Context, id uuid.UUID) (*models.NodeRegistration, error)
	GetRegistrationByURL(ctx context.Context, url string) (*models.NodeRegistration, error)
	UpdateRegistration(ctx context.Context, reg *models.NodeRegistration) error
	ListRegistrations(ctx context.Context, status models.RegistrationStatus) ([]models.NodeRegistration, error)

	// Nodes
	CreateNode(ctx context.Context, node *models.Node) error
	GetNode(ctx context.Context, id uuid.UUID) (*models.Node, error)
	GetNodeByURL(ctx context.Context, url string) (*models.Node, error)
	ListNodes(ctx context.Context) ([]models.Node, error)
	UpdateNode(ctx context.Context, node *models.Node) error
	RecordHeartbeat(ctx context.Context, sample models.HeartbeatSample) error
	RecentHeartbeats(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.HeartbeatSample, error)

	// Rooms
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error)
	ListRoomsByNode(ctx context.Context, nodeID uuid.UUID) ([]models.Room, error)
	UpdateRoom(ctx context.Context, room *models.Room) error
	IncrementMessageCount(ctx context.Context, roomID uuid.UUID) error
	AddRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error
	RemoveRoomMember(ctx context.Context, roomID uuid.UUID, userID string) error
	ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]string, error)
	CountRoomMembers(ctx context.Context, roomID uuid.UUID) (int, error)

	// Messages. UpsertMessage applies last-write-wins by updated timestamp
	// (ties broken by originating node id) and reports whether the incoming
	// copy was applied.
	UpsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetMessageByFingerprint(ctx context.Context, roomID, fingerprint string) (*models.Message, error)
	ListRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error)
	// ListMessagesSince windows on updated_at so edits replicate too.
	ListMessagesSince(ctx context.Context, since int64, limit int) ([]models.Message, error)
	CountMessages(ctx context.Context) (int64, error)
	MarkMessagesSynced(ctx context.Context, ids []string) error

	// Sync bookkeeping
	CreateSyncSession(ctx context.Context, s *models.SyncSession) error
	UpdateSyncSession(ctx context.Context, s *models.SyncSession) error
	ListSyncSessions(ctx context.Context, nodeID uuid.UUID, limit int) ([]models.SyncSession, error)
	AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error

	// Watermarks for incremental sync, keyed by direction ("push"/"pull").
	GetSyncWatermark(ctx context.Context, key string) (int64, error)
	SetSyncWatermark(ctx context.Context, key string, ts int64) error
}
