package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/clients/go/districhat"
	"github.com/skye-cyber/DistriChat/internal/api"
	"github.com/skye-cyber/DistriChat/internal/bus"
	"github.com/skye-cyber/DistriChat/internal/config"
	"github.com/skye-cyber/DistriChat/internal/handlers"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/node"
	"github.com/skye-cyber/DistriChat/internal/session"
	"github.com/skye-cyber/DistriChat/internal/store"
	"github.com/skye-cyber/DistriChat/internal/syncer"
	"github.com/skye-cyber/DistriChat/internal/ws"
)

// coordinatorHeartbeat adapts the districhat client to the agent's
// Heartbeater interface.
type coordinatorHeartbeat struct {
	client *districhat.Client
}

func (c coordinatorHeartbeat) Heartbeat(ctx context.Context, snap models.LoadSnapshot) (bool, error) {
	resp, err := c.client.Heartbeat(ctx, snap)
	if err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	zlog.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local message store. SQLite is the normal choice for a node; memory
	// works for throwaway instances.
	var dataStore store.DataStore
	if cfg.SQLitePath != "" {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	} else {
		dataStore = store.NewMemoryStore()
		logger.Warn().Msg("no SQLITE_PATH set, messages will not survive restarts")
	}
	defer dataStore.Close()

	// Redis doubles as the hot history cache and the cross-node event
	// transport. Without it the node still works, just alone.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	client := districhat.NewClient(cfg.CoordinatorURL)
	ensureRegistered(ctx, logger, client, cfg)

	nodeID := client.NodeID

	var transport bus.RemoteTransport
	if redisStore != nil {
		transport = redisStore
	}
	eventBus := bus.New(nodeID.String(), transport)
	go func() {
		if err := eventBus.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("event transport stopped")
		}
	}()

	sessions := session.NewManager(eventBus)
	gateway := ws.NewGateway(nodeID.String(), dataStore, redisStore, eventBus, sessions, client)

	syncClient := syncer.NewClient(dataStore, client, nodeID)
	agent := node.NewAgent(node.Config{
		HeartbeatInterval:   cfg.HeartbeatInterval,
		SyncSchedule:        cfg.SyncSchedule,
		SyncChangeThreshold: cfg.SyncChangeThreshold,
		MaxRooms:            cfg.MaxRooms,
	}, nodeID, dataStore, sessions, coordinatorHeartbeat{client}, syncClient)

	go func() {
		if err := agent.Run(ctx); err != nil {
			logger.Fatal().Err(err).Msg("node agent failed")
		}
	}()

	h := handlers.NewHandler(dataStore, redisStore, nil, nil, false)
	router := api.NewNodeRouter(api.NodeConfig{
		Logger:  logger,
		Handler: h,
		Gateway: gateway,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("node_id", nodeID.String()).
			Str("coordinator", cfg.CoordinatorURL).
			Msg("starting DistriChat node")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down node...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("node stopped")
}

// ensureRegistered registers the node with the coordinator on first run.
// Credentials persist in the config dir, so an already-registered node
// skips this entirely.
func ensureRegistered(ctx context.Context, logger zerolog.Logger, client *districhat.Client, cfg *config.Config) {
	if client.NodeID != uuid.Nil && client.APIKey != "" {
		logger.Info().Str("node_id", client.NodeID.String()).Msg("using saved node credentials")
		return
	}

	if cfg.NodeName == "" || cfg.NodeURL == "" {
		logger.Fatal().Msg("NODE_NAME and NODE_URL are required for first-time registration")
	}

	resp, err := client.Register(ctx, districhat.RegisterRequest{
		Name:     cfg.NodeName,
		URL:      cfg.NodeURL,
		Capacity: cfg.MaxRooms,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("registration failed")
	}

	switch resp.Status {
	case models.RegistrationApproved:
		logger.Info().Str("node_id", resp.NodeID).Msg("registration approved")
	case models.RegistrationPending:
		logger.Fatal().
			Str("registration_id", resp.RegistrationID).
			Msg("registration pending approval, restart once an admin approves it")
	default:
		logger.Fatal().Str("status", string(resp.Status)).Msg("registration not accepted")
	}
}
