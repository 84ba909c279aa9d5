package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/registry"
)

// NodesStatus handles GET /nodes/status: every tracked node with its live
// health and occupancy. Retired nodes are excluded.
func (h *Handler) NodesStatus(w http.ResponseWriter, r *http.Request) {
	nodes := h.registry.Snapshot()
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID.String() < nodes[j].ID.String()
	})

	out := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Retired {
			continue
		}
		out = append(out, n)
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"nodes": out,
		"total": len(out),
	})
}

// NodeDetail handles GET /nodes/{id}: one node's state plus its recent
// heartbeat samples and the rooms it hosts.
func (h *Handler) NodeDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid node id")
		return
	}

	node, ok := h.registry.Get(id)
	if !ok {
		h.Error(w, http.StatusNotFound, "node not found")
		return
	}

	heartbeats, err := h.store.RecentHeartbeats(r.Context(), id, 20)
	if err != nil {
		log.Warn().Err(err).Str("node_id", id.String()).Msg("heartbeat history read failed")
	}
	if heartbeats == nil {
		heartbeats = []models.HeartbeatSample{}
	}

	rooms, err := h.store.ListRoomsByNode(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("node_id", id.String()).Msg("room listing failed")
	}
	if rooms == nil {
		rooms = []models.Room{}
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"node":              node,
		"recent_heartbeats": heartbeats,
		"rooms":             rooms,
	})
}

// RetireNode handles POST /nodes/{id}/retire (admin): the node stops
// receiving assignments, its rooms and history stay.
func (h *Handler) RetireNode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid node id")
		return
	}

	if err := h.registry.Retire(r.Context(), id); err != nil {
		if err == registry.ErrUnknownNode {
			h.Error(w, http.StatusNotFound, "node not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "retire failed")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"retired": true})
}
