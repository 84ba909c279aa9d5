package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/registry"
)

type contextKey string

const NodeContextKey contextKey = "node"

// AuthMiddleware verifies node credentials on cluster-internal endpoints.
type AuthMiddleware struct {
	registry   *registry.Registry
	adminToken string
}

// NewAuthMiddleware creates a new auth middleware. adminToken guards the
// registration approval endpoints; empty disables them.
func NewAuthMiddleware(reg *registry.Registry, adminToken string) *AuthMiddleware {
	return &AuthMiddleware{registry: reg, adminToken: adminToken}
}

// RequireNode verifies the X-Node-API-Key header against the node's stored
// hash. The node id comes from the URL when present, otherwise from the
// X-Node-ID header.
func (m *AuthMiddleware) RequireNode(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "nodeID")
		if idStr == "" {
			idStr = r.Header.Get("X-Node-ID")
		}
		apiKey := r.Header.Get("X-Node-API-Key")
		if idStr == "" || apiKey == "" {
			jsonError(w, http.StatusUnauthorized, "missing node credentials")
			return
		}

		nodeID, err := uuid.Parse(idStr)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid node id")
			return
		}

		node, err := m.registry.Authenticate(r.Context(), nodeID, apiKey)
		if err != nil {
			status := http.StatusUnauthorized
			if err == registry.ErrUnknownNode {
				status = http.StatusNotFound
			}
			jsonError(w, status, "authentication failed")
			return
		}

		ctx := context.WithValue(r.Context(), NodeContextKey, node)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards operator endpoints with the shared admin token.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.adminToken == "" {
			jsonError(w, http.StatusForbidden, "admin endpoints disabled")
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) != 1 {
			jsonError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetNodeFromContext retrieves the authenticated node from the request
// context.
func GetNodeFromContext(ctx context.Context) *models.Node {
	node, ok := ctx.Value(NodeContextKey).(*models.Node)
	if !ok {
		return nil
	}
	return node
}
