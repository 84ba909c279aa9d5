// Package api builds the HTTP routers for the coordinator and the chat
// nodes.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/skye-cyber/DistriChat/internal/api/middleware"
	"github.com/skye-cyber/DistriChat/internal/handlers"
	"github.com/skye-cyber/DistriChat/internal/registry"
	"github.com/skye-cyber/DistriChat/internal/ws"
)

// CoordinatorConfig carries the router's collaborators.
type CoordinatorConfig struct {
	Logger     zerolog.Logger
	Handler    *handlers.Handler
	Registry   *registry.Registry
	AdminToken string
}

// NewCoordinatorRouter creates the coordinator's HTTP router.
func NewCoordinatorRouter(cfg CoordinatorConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(4 * 1024 * 1024)) // sync batches are large
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimw.Recoverer)

	// CORS - nodes and dashboards call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Node-ID", "X-Node-API-Key", "X-Admin-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := cfg.Handler
	auth := middleware.NewAuthMiddleware(cfg.Registry, cfg.AdminToken)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/nodes/register", h.RegisterNode)
	r.Get("/nodes/status", h.NodesStatus)
	r.Get("/nodes/{id}", h.NodeDetail)
	r.Post("/chat/room/create", h.CreateRoom)
	r.Get("/rooms", h.ListRooms)
	r.Get("/rooms/{id}", h.GetRoom)
	r.Get("/rooms/{id}/messages", h.RoomMessages)

	// Node-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireNode)

		r.Post("/nodes/heartbeat/{nodeID}", h.Heartbeat)
		r.Post("/nodes/sync/{nodeID}", h.PushSync)
		r.Get("/nodes/sync/{nodeID}", h.PullSync)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)

		r.Get("/nodes/registrations", h.ListRegistrations)
		r.Post("/nodes/registrations/{id}/approve", h.ApproveRegistration)
		r.Post("/nodes/registrations/{id}/reject", h.RejectRegistration)
		r.Post("/nodes/{id}/retire", h.RetireNode)
		r.Post("/rooms/{id}/deactivate", h.DeactivateRoom)
		r.Get("/sync/sessions", h.ListSyncSessions)
	})

	return r
}

// NodeConfig carries the chat node router's collaborators.
type NodeConfig struct {
	Logger  zerolog.Logger
	Handler *handlers.Handler
	Gateway *ws.Gateway
}

// NewNodeRouter creates a chat node's HTTP router: the websocket endpoint
// plus read-only room history and health.
func NewNodeRouter(cfg NodeConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := cfg.Handler

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/rooms/{id}/messages", h.RoomMessages)
	r.Get("/ws/chat/{roomID}", cfg.Gateway.ServeWS)

	return r
}
