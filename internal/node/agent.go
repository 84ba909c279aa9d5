// Package node runs the background duties of a chat node: heartbeat
// reporting, change detection and scheduled message sync.
package node

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/session"
	"github.com/skye-cyber/DistriChat/internal/store"
)

// Config holds the agent's timing parameters.
type Config struct {
	// HeartbeatInterval is how often load reports go to the coordinator.
	HeartbeatInterval time.Duration
	// SyncSchedule is a cron spec for periodic sync, e.g. "@every 5m".
	SyncSchedule string
	// SyncChangeThreshold triggers an early sync once this many new
	// messages accumulated since the last one. Zero disables it.
	SyncChangeThreshold int64
	// MaxRooms is this node's declared capacity, echoed in load reports.
	MaxRooms int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   30 * time.Second,
		SyncSchedule:        "@every 5m",
		SyncChangeThreshold: 100,
	}
}

// Heartbeater sends one load report. The districhat client implements it
// through a thin adapter. A false return means the report was stale.
type Heartbeater interface {
	Heartbeat(ctx context.Context, snap models.LoadSnapshot) (bool, error)
}

// Syncer runs one idempotent sync exchange.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Agent is the chat node's background worker. All three sync triggers
// (schedule, change threshold, on-demand) collapse into the same
// single-flight exchange.
type Agent struct {
	cfg      Config
	nodeID   uuid.UUID
	store    store.DataStore
	sessions *session.Manager
	heart    Heartbeater
	syncer   Syncer

	syncCh chan struct{}
	// Written by syncWorker, read by the Run loop's threshold check.
	lastSyncedMsgs atomic.Int64
}

// NewAgent wires a node agent. Zero config values take the defaults.
func NewAgent(cfg Config, nodeID uuid.UUID, ds store.DataStore, sm *session.Manager, heart Heartbeater, sync Syncer) *Agent {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.SyncSchedule == "" {
		cfg.SyncSchedule = def.SyncSchedule
	}
	return &Agent{
		cfg:      cfg,
		nodeID:   nodeID,
		store:    ds,
		sessions: sm,
		heart:    heart,
		syncer:   sync,
		syncCh:   make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(a.cfg.SyncSchedule, a.RequestSync); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	go a.syncWorker(ctx)

	// First report goes out immediately so the coordinator sees the node
	// without waiting a full interval.
	a.beat(ctx)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.beat(ctx)
			a.checkChangeThreshold(ctx)
		}
	}
}

// RequestSync queues a sync exchange. Requests collapse while one is
// already pending.
func (a *Agent) RequestSync() {
	select {
	case a.syncCh <- struct{}{}:
	default:
	}
}

func (a *Agent) syncWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.syncCh:
			if err := a.syncer.Sync(ctx); err != nil {
				log.Error().Err(err).Msg("sync exchange failed")
				continue
			}
			if count, err := a.store.CountMessages(ctx); err == nil {
				a.lastSyncedMsgs.Store(count)
			}
		}
	}
}

func (a *Agent) beat(ctx context.Context) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("load snapshot failed, heartbeat skipped")
		return
	}

	accepted, err := a.heart.Heartbeat(ctx, snap)
	if err != nil {
		log.Warn().Err(err).Msg("heartbeat not delivered")
		return
	}
	if !accepted {
		log.Warn().Msg("heartbeat rejected as stale")
	}
}

// checkChangeThreshold fires an early sync when enough messages piled up
// since the last exchange.
func (a *Agent) checkChangeThreshold(ctx context.Context) {
	if a.cfg.SyncChangeThreshold <= 0 {
		return
	}
	count, err := a.store.CountMessages(ctx)
	if err != nil {
		return
	}
	if pending := count - a.lastSyncedMsgs.Load(); pending >= a.cfg.SyncChangeThreshold {
		log.Info().
			Int64("new_messages", pending).
			Msg("change threshold reached, requesting sync")
		a.RequestSync()
	}
}

// Snapshot assembles the load report: room occupancy from the local store,
// live connections from the session manager, heap size from the runtime.
func (a *Agent) Snapshot(ctx context.Context) (models.LoadSnapshot, error) {
	rooms, err := a.store.ListRoomsByNode(ctx, a.nodeID)
	if err != nil {
		return models.LoadSnapshot{}, err
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	load := 0.0
	if a.cfg.MaxRooms > 0 {
		load = float64(len(rooms)) / float64(a.cfg.MaxRooms) * 100
	}

	return models.LoadSnapshot{
		Load:              load,
		ActiveRooms:       len(rooms),
		ActiveConnections: a.sessions.ActiveConnections(),
		MemoryUsage:       float64(memStats.HeapAlloc) / (1024 * 1024),
	}, nil
}
