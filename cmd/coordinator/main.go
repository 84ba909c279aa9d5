package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/api"
	"github.com/skye-cyber/DistriChat/internal/config"
	"github.com/skye-cyber/DistriChat/internal/handlers"
	"github.com/skye-cyber/DistriChat/internal/registry"
	"github.com/skye-cyber/DistriChat/internal/store"
	"github.com/skye-cyber/DistriChat/internal/syncer"
)

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

	// Pick the durable store: Postgres in clusters, SQLite for single-box
	// deployments, memory for local hacking.
	var dataStore store.DataStore
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pg
		logger.Info().Msg("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	default:
		dataStore = store.NewMemoryStore()
		logger.Warn().Msg("no DATABASE_URL or SQLITE_PATH set, using in-memory store")
	}
	defer dataStore.Close()

	// Hot cache is optional.
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

	// Node registry: hydrate from the store, then sweep in the background.
	reg := registry.New(dataStore, registry.Config{
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		SweepInterval:     cfg.SweepInterval,
		DegradedLoadRatio: cfg.DegradedLoadRatio,
	})
	if err := reg.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("registry hydration failed")
	}
	go reg.Run(ctx)

	engine := syncer.NewEngine(dataStore)
	h := handlers.NewHandler(dataStore, redisStore, reg, engine, cfg.NodeAutoApprove)

	router := api.NewCoordinatorRouter(api.CoordinatorConfig{
		Logger:     logger,
		Handler:    h,
		Registry:   reg,
		AdminToken: cfg.AdminToken,
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
			Str("env", cfg.Env).
			Bool("auto_approve", cfg.NodeAutoApprove).
			Msg("starting DistriChat coordinator")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down coordinator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("coordinator stopped")
}
