package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncType selects how much of the message log a sync exchange covers.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// SyncDirection records which way messages moved in a sync exchange.
type SyncDirection string

const (
	SyncPush SyncDirection = "push" // node -> coordinator
	SyncPull SyncDirection = "pull" // coordinator -> node
)

// SyncSessionStatus is the lifecycle of one replication exchange.
type SyncSessionStatus string

const (
	SyncSessionPending    SyncSessionStatus = "pending"
	SyncSessionInProgress SyncSessionStatus = "in_progress"
	SyncSessionCompleted  SyncSessionStatus = "completed"
	SyncSessionFailed     SyncSessionStatus = "failed"
)

// SyncSession is the audit record of one replication exchange. Once
// completed or failed it is immutable; a retry creates a new session.
type SyncSession struct {
	ID             uuid.UUID         `json:"id"`
	NodeID         uuid.UUID         `json:"node_id"`
	Direction      SyncDirection     `json:"direction"`
	Type           SyncType          `json:"type"`
	MessagesSynced int               `json:"messages_synced"`
	Status         SyncSessionStatus `json:"status"`
	Error          string            `json:"error,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// SyncAction is what the receiver did with one replicated message.
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionSkip   SyncAction = "skip"
)

// SyncLogEntry records the outcome for a single message within a session.
type SyncLogEntry struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	MessageID string     `json:"message_id"`
	Action    SyncAction `json:"action"`
	SyncedAt  time.Time  `json:"synced_at"`
}
