package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// SyncStatus tracks whether a message has been replicated off its
// originating node.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Message represents a chat message. IDs are ULIDs generated at the
// originating node, so two nodes never collide.
type Message struct {
	ID           string     `json:"id"`
	RoomID       string     `json:"room_id"`
	SenderID     string     `json:"from"`
	SenderName   string     `json:"from_name,omitempty"`
	Body         string     `json:"body"`
	Fingerprint  string     `json:"fingerprint"`
	OriginNodeID string     `json:"origin_node_id"`
	Edited       bool       `json:"edited,omitempty"`
	Deleted      bool       `json:"deleted,omitempty"`
	SyncStatus   SyncStatus `json:"sync_status,omitempty"`
	CreatedAt    int64      `json:"ts"`         // unix ms
	UpdatedAt    int64      `json:"updated_ts"` // unix ms, bumped on edit/delete
}

// Fingerprint returns the deterministic content hash used for replication
// dedup: hex-encoded SHA-256 of the message body.
func Fingerprint(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Supersedes reports whether m should replace other under last-write-wins.
// Later updated timestamp wins; ties break on the higher originating node
// id so both sides converge on the same copy.
func (m *Message) Supersedes(other *Message) bool {
	if m.UpdatedAt != other.UpdatedAt {
		return m.UpdatedAt > other.UpdatedAt
	}
	return m.OriginNodeID > other.OriginNodeID
}
