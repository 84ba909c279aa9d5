package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/balancer"
	"github.com/skye-cyber/DistriChat/internal/metrics"
	"github.com/skye-cyber/DistriChat/internal/models"
)

// allocationRetries is how many times room creation re-picks after losing a
// reservation race.
const allocationRetries = 3

// CreateRoomRequest is the request body for room creation.
type CreateRoomRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	CreatedBy string `json:"created_by"`
}

// CreateRoomResponse carries the placement the balancer made.
type CreateRoomResponse struct {
	RoomID          string `json:"room_id"`
	Name            string `json:"name"`
	AssignedNodeID  string `json:"assigned_node_id"`
	AssignedNodeURL string `json:"assigned_node_url"`
}

// CreateRoom handles POST /chat/room/create: pick the least-loaded node,
// reserve a slot on it, persist the room. A lost reservation race re-picks;
// no node with capacity is a 503.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	for attempt := 0; attempt < allocationRetries; attempt++ {
		picked, err := balancer.Pick(h.registry.Snapshot())
		if err != nil {
			break
		}

		if err := h.registry.ReserveRoom(r.Context(), picked.ID); err != nil {
			// Raced with another assignment; pick again.
			continue
		}

		room := &models.Room{
			Name:      req.Name,
			NodeID:    picked.ID,
			IsPrivate: req.IsPrivate,
			CreatedBy: req.CreatedBy,
			Active:    true,
		}
		if err := h.store.CreateRoom(r.Context(), room); err != nil {
			h.registry.ReleaseRoom(r.Context(), picked.ID)
			log.Error().Err(err).Str("node_id", picked.ID.String()).Msg("room not persisted")
			h.Error(w, http.StatusInternalServerError, "room creation failed")
			return
		}

		metrics.RoomsAssigned.Inc()
		log.Info().
			Str("room_id", room.ID.String()).
			Str("node_id", picked.ID.String()).
			Str("name", room.Name).
			Msg("room assigned")
		h.JSON(w, http.StatusCreated, CreateRoomResponse{
			RoomID:          room.ID.String(),
			Name:            room.Name,
			AssignedNodeID:  picked.ID.String(),
			AssignedNodeURL: picked.URL,
		})
		return
	}

	metrics.AssignmentFailures.Inc()
	h.Error(w, http.StatusServiceUnavailable, "no node has capacity")
}

// GetRoom handles GET /rooms/{id}.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	room, err := h.store.GetRoom(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// DeactivateRoom handles POST /rooms/{id}/deactivate (admin): the room stops
// accepting connections, its slot on the hosting node is released and the
// hot cache is dropped. Messages stay in the durable store.
func (h *Handler) DeactivateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	room, err := h.store.GetRoom(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}
	if !room.Active {
		h.Error(w, http.StatusConflict, "room already inactive")
		return
	}

	room.Active = false
	if err := h.store.UpdateRoom(r.Context(), room); err != nil {
		log.Error().Err(err).Str("room_id", id.String()).Msg("room not deactivated")
		h.Error(w, http.StatusInternalServerError, "deactivation failed")
		return
	}
	if err := h.registry.ReleaseRoom(r.Context(), room.NodeID); err != nil {
		log.Warn().Err(err).Str("node_id", room.NodeID.String()).Msg("room slot not released")
	}
	if h.redis != nil {
		if err := h.redis.DropRoomCache(r.Context(), id.String()); err != nil {
			log.Warn().Err(err).Str("room_id", id.String()).Msg("room cache not dropped")
		}
	}

	log.Info().Str("room_id", id.String()).Msg("room deactivated")
	h.JSON(w, http.StatusOK, map[string]any{"deactivated": true})
}

// ListRooms handles GET /rooms?limit=&offset=.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := parseIntParam(r, "offset", 0)

	rooms, total, err := h.store.ListRooms(r.Context(), limit, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"total": total,
	})
}

// RoomMessages handles GET /rooms/{id}/messages?limit=&before=, hot cache
// first with durable fallback.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	room, err := h.store.GetRoom(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	limit := parseIntParam(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		before, _ = strconv.ParseInt(v, 10, 64)
	}

	var msgs []models.Message
	if h.redis != nil {
		msgs, err = h.redis.GetRoomMessages(r.Context(), id.String(), limit, before)
		if err != nil {
			log.Warn().Err(err).Str("room_id", id.String()).Msg("cache read failed")
		}
	}
	if len(msgs) == 0 {
		msgs, err = h.store.ListRoomMessages(r.Context(), id.String(), limit, before)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "history read failed")
			return
		}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"room_id":  id.String(),
		"messages": msgs,
		"has_more": len(msgs) == limit,
	})
}

func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
