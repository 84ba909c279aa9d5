package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the lifecycle state of a chat-hosting node. It is derived
// from heartbeat recency and reported load, never set directly by a client.
type NodeStatus string

const (
	NodeStatusPending  NodeStatus = "pending"
	NodeStatusOnline   NodeStatus = "online"
	NodeStatusDegraded NodeStatus = "degraded"
	NodeStatusOffline  NodeStatus = "offline"
)

// Node represents a registered chat-hosting node.
type Node struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	URL               string     `json:"url"`
	APIKeyHash        string     `json:"-"`
	Status            NodeStatus `json:"status"`
	Load              float64    `json:"load"` // 0-100, as reported
	MaxRooms          int        `json:"max_rooms"`
	ActiveRooms       int        `json:"active_rooms"`
	ActiveConnections int        `json:"active_connections"`
	CPUUsage          float64    `json:"cpu_usage,omitempty"`
	MemoryUsage       float64    `json:"memory_usage,omitempty"` // MB
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
	Retired           bool       `json:"retired,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LoadRatio returns active_rooms / max_rooms, the quantity the balancer
// minimizes. A node with no declared capacity is treated as fully loaded.
func (n *Node) LoadRatio() float64 {
	if n.MaxRooms <= 0 {
		return 1.0
	}
	return float64(n.ActiveRooms) / float64(n.MaxRooms)
}

// AvailableCapacity returns the number of additional rooms the node can host.
func (n *Node) AvailableCapacity() int {
	free := n.MaxRooms - n.ActiveRooms
	if free < 0 {
		return 0
	}
	return free
}

// LoadSnapshot is the payload of a heartbeat report.
type LoadSnapshot struct {
	Load              float64 `json:"load"`
	ActiveRooms       int     `json:"active_rooms"`
	ActiveConnections int     `json:"active_connections"`
	CPUUsage          float64 `json:"cpu,omitempty"`
	MemoryUsage       float64 `json:"memory,omitempty"`
}

// HeartbeatSample is one retained heartbeat observation, kept for the
// node-detail endpoint.
type HeartbeatSample struct {
	NodeID            uuid.UUID `json:"node_id"`
	Timestamp         time.Time `json:"timestamp"`
	Load              float64   `json:"load"`
	ActiveConnections int       `json:"active_connections"`
	CPUUsage          float64   `json:"cpu_usage"`
	MemoryUsage       float64   `json:"memory_usage"`
}

// RegistrationStatus is the state of a node registration request.
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "pending"
	RegistrationApproved RegistrationStatus = "approved"
	RegistrationRejected RegistrationStatus = "rejected"
)

// NodeRegistration is a pending request to join the cluster. Approval
// creates the Node record and issues its API key.
type NodeRegistration struct {
	ID         uuid.UUID          `json:"id"`
	NodeName   string             `json:"node_name"`
	NodeURL    string             `json:"node_url"`
	AdminEmail string             `json:"admin_email"`
	MaxRooms   int                `json:"max_rooms"`
	Status     RegistrationStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	ApprovedAt *time.Time         `json:"approved_at,omitempty"`
}
