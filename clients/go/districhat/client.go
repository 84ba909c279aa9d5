// Package districhat provides a client for the DistriChat coordinator API.
// Chat nodes use it for registration, heartbeats and message sync; it also
// works as a plain read client for room lookups.
package districhat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/syncer"
)

// Client is a DistriChat coordinator API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	NodeID     uuid.UUID
	APIKey     string
	HTTPClient *http.Client
}

// Config holds node credentials persisted between runs.
type Config struct {
	NodeID string `json:"node_id"`
	APIKey string `json:"api_key"`
}

// NewClient creates a new coordinator client. Credentials are loaded from
// the config dir when present.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("DISTRICHAT_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".districhat")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads node credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "node.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	id, err := uuid.Parse(config.NodeID)
	if err != nil {
		return err
	}

	c.NodeID = id
	c.APIKey = config.APIKey
	return nil
}

// SaveConfig persists node credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{NodeID: c.NodeID.String(), APIKey: c.APIKey}
	data, _ := json.MarshalIndent(config, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "node.json"), data, 0600)
}

// doRequest performs an HTTP request. Authed requests carry the node id and
// API key headers.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, authed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("X-Node-ID", c.NodeID.String())
		req.Header.Set("X-Node-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("coordinator error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// RegisterRequest is the request body for node registration.
type RegisterRequest struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	AdminEmail string `json:"admin_email,omitempty"`
	Capacity   int    `json:"capacity,omitempty"`
}

// RegisterResponse is the response from node registration. APIKey is set
// only when the registration was auto-approved; it is shown exactly once.
type RegisterResponse struct {
	RegistrationID string                    `json:"registration_id"`
	Status         models.RegistrationStatus `json:"status"`
	NodeID         string                    `json:"node_id,omitempty"`
	APIKey         string                    `json:"api_key,omitempty"`
}

// Register submits a registration request. On auto-approval the returned
// credentials are persisted locally.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	body, _ := json.Marshal(req)
	respBody, err := c.doRequest(ctx, "POST", "/nodes/register", body, false)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	if resp.Status == models.RegistrationApproved && resp.APIKey != "" {
		id, err := uuid.Parse(resp.NodeID)
		if err != nil {
			return nil, fmt.Errorf("coordinator returned bad node id: %w", err)
		}
		c.NodeID = id
		c.APIKey = resp.APIKey
		if err := c.SaveConfig(); err != nil {
			return nil, err
		}
	}
	return &resp, nil
}

// HeartbeatResponse is the coordinator's verdict on a heartbeat.
type HeartbeatResponse struct {
	Accepted bool              `json:"accepted"`
	Status   models.NodeStatus `json:"status,omitempty"`
}

// Heartbeat reports this node's load. A false Accepted means the report was
// stale and was ignored.
func (c *Client) Heartbeat(ctx context.Context, snap models.LoadSnapshot) (*HeartbeatResponse, error) {
	body, _ := json.Marshal(snap)
	respBody, err := c.doRequest(ctx, "POST", "/nodes/heartbeat/"+c.NodeID.String(), body, true)
	if err != nil {
		return nil, err
	}

	var resp HeartbeatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushSync uploads a batch of local messages to the coordinator.
func (c *Client) PushSync(ctx context.Context, batch syncer.Batch) (*syncer.Result, error) {
	body, _ := json.Marshal(batch)
	respBody, err := c.doRequest(ctx, "POST", "/nodes/sync/"+c.NodeID.String(), body, true)
	if err != nil {
		return nil, err
	}

	var res syncer.Result
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PullSync downloads messages the rest of the cluster produced after since.
func (c *Client) PullSync(ctx context.Context, since int64, limit int) (*syncer.Batch, error) {
	path := fmt.Sprintf("/nodes/sync/%s?since=%d&limit=%d", c.NodeID.String(), since, limit)
	respBody, err := c.doRequest(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var batch syncer.Batch
	if err := json.Unmarshal(respBody, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// ResolveRoom fetches a room's record from the coordinator. Returns
// (nil, nil) when the room does not exist.
func (c *Client) ResolveRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	respBody, err := c.doRequest(ctx, "GET", "/rooms/"+roomID.String(), nil, false)
	if err != nil {
		return nil, err
	}

	var room models.Room
	if err := json.Unmarshal(respBody, &room); err != nil {
		return nil, err
	}
	if room.ID == uuid.Nil {
		return nil, nil
	}
	return &room, nil
}

// CreateRoomRequest is the request body for room creation.
type CreateRoomRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// CreateRoomResponse carries the assignment the balancer made.
type CreateRoomResponse struct {
	RoomID          string `json:"room_id"`
	Name            string `json:"name"`
	AssignedNodeID  string `json:"assigned_node_id"`
	AssignedNodeURL string `json:"assigned_node_url"`
}

// CreateRoom asks the coordinator to create a room on the least-loaded node.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error) {
	body, _ := json.Marshal(req)
	respBody, err := c.doRequest(ctx, "POST", "/chat/room/create", body, false)
	if err != nil {
		return nil, err
	}

	var resp CreateRoomResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NodeSummary is one node's public status.
type NodeSummary struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Status        models.NodeStatus `json:"status"`
	Load          float64           `json:"load"`
	ActiveRooms   int               `json:"active_rooms"`
	MaxRooms      int               `json:"max_rooms"`
	LastHeartbeat *time.Time        `json:"last_heartbeat,omitempty"`
}

// StatusResponse is the cluster status listing.
type StatusResponse struct {
	Nodes []NodeSummary `json:"nodes"`
	Total int           `json:"total"`
}

// Status lists every node the coordinator tracks.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	respBody, err := c.doRequest(ctx, "GET", "/nodes/status", nil, false)
	if err != nil {
		return nil, err
	}

	var resp StatusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Checks    map[string]any `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Health checks coordinator health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	respBody, err := c.doRequest(ctx, "GET", "/health", nil, false)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
