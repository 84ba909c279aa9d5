package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/skye-cyber/DistriChat/internal/registry"
	"github.com/skye-cyber/DistriChat/internal/store"
	"github.com/skye-cyber/DistriChat/internal/syncer"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Handler contains shared dependencies for all coordinator HTTP handlers.
type Handler struct {
	store       store.DataStore
	redis       *store.RedisStore
	registry    *registry.Registry
	engine      *syncer.Engine
	autoApprove bool
}

// NewHandler creates a new Handler. redis may be nil on deployments without
// a hot cache.
func NewHandler(ds store.DataStore, redis *store.RedisStore, reg *registry.Registry, engine *syncer.Engine, autoApprove bool) *Handler {
	return &Handler{
		store:       ds,
		redis:       redis,
		registry:    reg,
		engine:      engine,
		autoApprove: autoApprove,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits a name to 100 characters, removing control
// characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" {
		return true // optional field
	}
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
