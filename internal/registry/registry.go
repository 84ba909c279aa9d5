// Package registry tracks the live state of every chat-hosting node: health,
// reported load and room occupancy. It is the single authority the balancer
// and the HTTP layer consult, with write-through to the durable store.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/crypto"
	"github.com/skye-cyber/DistriChat/internal/metrics"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/store"
)

var (
	// ErrUnknownNode is returned when no node matches the presented id.
	ErrUnknownNode = errors.New("registry: unknown node")
	// ErrBadCredentials is returned when the API key does not match.
	ErrBadCredentials = errors.New("registry: bad credentials")
	// ErrStaleHeartbeat is returned when a heartbeat carries a timestamp at
	// or before the last accepted one. Stale reports never move state.
	ErrStaleHeartbeat = errors.New("registry: stale heartbeat")
	// ErrAtCapacity is returned when a room reservation would exceed the
	// node's declared maximum.
	ErrAtCapacity = errors.New("registry: node at capacity")
	// ErrRetired is returned for operations on a retired node.
	ErrRetired = errors.New("registry: node retired")
)

// Config holds the registry's health-tracking parameters.
type Config struct {
	// HeartbeatTimeout is how long a node may go silent before it is
	// marked offline. Three missed 30s heartbeats by default.
	HeartbeatTimeout time.Duration
	// SweepInterval is how often the offline sweep runs.
	SweepInterval time.Duration
	// DegradedLoadRatio is the room occupancy ratio at which an online
	// node is reported as degraded.
	DegradedLoadRatio float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:  90 * time.Second,
		SweepInterval:     15 * time.Second,
		DegradedLoadRatio: 0.90,
	}
}

// record is a node's in-memory state, guarded by its own mutex so heartbeats
// and reservations for different nodes never contend.
type record struct {
	mu      sync.Mutex
	node    models.Node
	version uint64
}

// Registry is the in-memory node table with write-through persistence.
type Registry struct {
	store store.DataStore
	cfg   Config

	mu      sync.RWMutex
	records map[uuid.UUID]*record
}

// New creates a registry. Zero config values take the defaults.
func New(ds store.DataStore, cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.DegradedLoadRatio <= 0 {
		cfg.DegradedLoadRatio = def.DegradedLoadRatio
	}
	return &Registry{
		store:   ds,
		cfg:     cfg,
		records: make(map[uuid.UUID]*record),
	}
}

// Load hydrates the registry from the durable store. Nodes whose last
// heartbeat already falls outside the timeout window come up offline.
func (r *Registry) Load(ctx context.Context) error {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	r.mu.Lock()
	for _, n := range nodes {
		if n.LastHeartbeat == nil || now.Sub(*n.LastHeartbeat) > r.cfg.HeartbeatTimeout {
			if n.Status == models.NodeStatusOnline || n.Status == models.NodeStatusDegraded {
				n.Status = models.NodeStatusOffline
			}
		}
		r.records[n.ID] = &record{node: n}
	}
	r.mu.Unlock()

	r.updateOnlineGauge()
	log.Info().Int("nodes", len(nodes)).Msg("registry hydrated")
	return nil
}

// Run sweeps for silent nodes until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep marks nodes silent for longer than the heartbeat timeout as offline
// and returns how many transitions it made.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	marked := 0
	for _, rec := range r.all() {
		rec.mu.Lock()
		n := &rec.node
		alive := n.Status == models.NodeStatusOnline || n.Status == models.NodeStatusDegraded
		silent := n.LastHeartbeat == nil || now.Sub(*n.LastHeartbeat) > r.cfg.HeartbeatTimeout
		if alive && silent {
			n.Status = models.NodeStatusOffline
			rec.version++
			marked++
			snapshot := *n
			rec.mu.Unlock()

			log.Warn().
				Str("node_id", snapshot.ID.String()).
				Str("node", snapshot.Name).
				Msg("node missed heartbeat window, marked offline")
			r.persist(ctx, &snapshot)
			continue
		}
		rec.mu.Unlock()
	}

	if marked > 0 {
		r.updateOnlineGauge()
	}
	return marked
}

// Authenticate verifies a node's API key and returns its current state.
func (r *Registry) Authenticate(ctx context.Context, nodeID uuid.UUID, apiKey string) (*models.Node, error) {
	rec, ok := r.get(nodeID)
	if !ok {
		return nil, ErrUnknownNode
	}

	rec.mu.Lock()
	hash := rec.node.APIKeyHash
	snapshot := rec.node
	rec.mu.Unlock()

	if err := crypto.VerifyAPIKey(hash, apiKey); err != nil {
		return nil, ErrBadCredentials
	}
	return &snapshot, nil
}

// ApplyHeartbeat records a heartbeat report. Timestamps must advance
// monotonically per node; a report at or before the last accepted one
// returns ErrStaleHeartbeat and changes nothing.
func (r *Registry) ApplyHeartbeat(ctx context.Context, nodeID uuid.UUID, snap models.LoadSnapshot, ts time.Time) (*models.Node, error) {
	rec, ok := r.get(nodeID)
	if !ok {
		return nil, ErrUnknownNode
	}

	rec.mu.Lock()
	n := &rec.node
	if n.Retired {
		rec.mu.Unlock()
		return nil, ErrRetired
	}
	if n.LastHeartbeat != nil && !ts.After(*n.LastHeartbeat) {
		rec.mu.Unlock()
		return nil, ErrStaleHeartbeat
	}

	wasOffline := n.Status == models.NodeStatusOffline
	hb := ts
	n.LastHeartbeat = &hb
	n.Load = snap.Load
	n.ActiveConnections = snap.ActiveConnections
	n.CPUUsage = snap.CPUUsage
	n.MemoryUsage = snap.MemoryUsage
	// ActiveRooms stays coordinator-owned: the registry counts assignments
	// itself, so a node cannot under-report occupancy to attract traffic.
	n.Status = r.statusFor(n)
	rec.version++
	snapshot := *n
	rec.mu.Unlock()

	if wasOffline {
		log.Info().
			Str("node_id", snapshot.ID.String()).
			Str("node", snapshot.Name).
			Msg("node recovered, back online")
	}

	if err := r.store.RecordHeartbeat(ctx, models.HeartbeatSample{
		NodeID:            nodeID,
		Timestamp:         ts,
		Load:              snap.Load,
		ActiveConnections: snap.ActiveConnections,
		CPUUsage:          snap.CPUUsage,
		MemoryUsage:       snap.MemoryUsage,
	}); err != nil {
		log.Warn().Err(err).Str("node_id", nodeID.String()).Msg("heartbeat sample not recorded")
	}
	r.persist(ctx, &snapshot)
	r.updateOnlineGauge()
	return &snapshot, nil
}

// statusFor derives a live node's status from occupancy. Callers hold the
// record lock.
func (r *Registry) statusFor(n *models.Node) models.NodeStatus {
	if n.LoadRatio() >= r.cfg.DegradedLoadRatio {
		return models.NodeStatusDegraded
	}
	return models.NodeStatusOnline
}

// Snapshot returns a copy of every tracked node.
func (r *Registry) Snapshot() []models.Node {
	recs := r.all()
	out := make([]models.Node, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.node)
		rec.mu.Unlock()
	}
	return out
}

// Get returns a copy of one node's state.
func (r *Registry) Get(nodeID uuid.UUID) (*models.Node, bool) {
	rec, ok := r.get(nodeID)
	if !ok {
		return nil, false
	}
	rec.mu.Lock()
	snapshot := rec.node
	rec.mu.Unlock()
	return &snapshot, true
}

// ReserveRoom atomically claims one room slot on the node. The claim is
// checked against the node's declared maximum under its record lock, so
// concurrent assignments can never oversubscribe it.
func (r *Registry) ReserveRoom(ctx context.Context, nodeID uuid.UUID) error {
	rec, ok := r.get(nodeID)
	if !ok {
		return ErrUnknownNode
	}

	rec.mu.Lock()
	n := &rec.node
	if n.Retired {
		rec.mu.Unlock()
		return ErrRetired
	}
	if n.Status != models.NodeStatusOnline && n.Status != models.NodeStatusDegraded {
		rec.mu.Unlock()
		return ErrAtCapacity
	}
	if n.ActiveRooms >= n.MaxRooms {
		rec.mu.Unlock()
		return ErrAtCapacity
	}
	n.ActiveRooms++
	n.Status = r.statusFor(n)
	rec.version++
	snapshot := *n
	rec.mu.Unlock()

	r.persist(ctx, &snapshot)
	return nil
}

// ReleaseRoom returns a room slot to the node, e.g. when persisting the
// room record fails after a reservation.
func (r *Registry) ReleaseRoom(ctx context.Context, nodeID uuid.UUID) error {
	rec, ok := r.get(nodeID)
	if !ok {
		return ErrUnknownNode
	}

	rec.mu.Lock()
	n := &rec.node
	if n.ActiveRooms > 0 {
		n.ActiveRooms--
	}
	if n.Status == models.NodeStatusOnline || n.Status == models.NodeStatusDegraded {
		n.Status = r.statusFor(n)
	}
	rec.version++
	snapshot := *n
	rec.mu.Unlock()

	r.persist(ctx, &snapshot)
	return nil
}

// TouchSync records a completed sync exchange on the node.
func (r *Registry) TouchSync(ctx context.Context, nodeID uuid.UUID) {
	rec, ok := r.get(nodeID)
	if !ok {
		return
	}
	rec.mu.Lock()
	now := time.Now().UTC()
	rec.node.LastSync = &now
	rec.version++
	snapshot := rec.node
	rec.mu.Unlock()
	r.persist(ctx, &snapshot)
}

// Add places a newly approved node under registry tracking.
func (r *Registry) Add(node models.Node) {
	r.mu.Lock()
	r.records[node.ID] = &record{node: node}
	r.mu.Unlock()
}

/// Retire soft-removes a node: it stops receiving assignments but its rooms
// and message history stay intact.
func (r *Registry) Retire(ctx context.Context, nodeID uuid.UUID) error {
	rec, ok := r.get(nodeID)
	if !ok {
		return ErrUnknownNode
	}

	rec.mu.Lock()
	rec.node.Retired = true
	rec.version++
	snapshot := rec.node
	rec.mu.Unlock()

	log.Info().Str("node_id", nodeID.String()).Msg("node retired")
	r.persist(ctx, &snapshot)
	r.updateOnlineGauge()
	return nil
}

func (r *Registry) get(id uuid.UUID) (*record, bool) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	return rec, ok
}

func (r *Registry) all() []*record {
	r.mu.RLock()
	out := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	return out
}

func (r *Registry) persist(ctx context.Context, n *models.Node) {
	if err := r.store.UpdateNode(ctx, n); err != nil {
		log.Warn().Err(err).Str("node_id", n.ID.String()).Msg("node write-through failed")
	}
}

func (r *Registry) updateOnlineGauge() {
	online := 0
	for _, rec := range r.all() {
		rec.mu.Lock()
		if !rec.node.Retired &&
			(rec.node.Status == models.NodeStatusOnline || rec.node.Status == models.NodeStatusDegraded) {
			online++
		}
		rec.mu.Unlock()
	}
	metrics.NodesOnline.Set(float64(online))
}
