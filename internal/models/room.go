package models

import (
	"time"

	"github.com/google/uuid"
)

// Room represents a chat room. The owning node is set at creation and never
// changes; rooms do not migrate between nodes.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	NodeID       uuid.UUID `json:"node_id"`
	IsPrivate    bool      `json:"is_private"`
	CreatedBy    string    `json:"created_by,omitempty"`
	Active       bool      `json:"active"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
