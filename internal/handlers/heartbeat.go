package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/api/middleware"
	"github.com/skye-cyber/DistriChat/internal/metrics"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/registry"
)

// HeartbeatRequest is a node's load report. Timestamp is optional; the
// coordinator's receive time is used when absent.
type HeartbeatRequest struct {
	models.LoadSnapshot
	Timestamp int64 `json:"timestamp,omitempty"` // unix ms
}

// HeartbeatResponse is the coordinator's verdict.
type HeartbeatResponse struct {
	Accepted bool              `json:"accepted"`
	Status   models.NodeStatus `json:"status,omitempty"`
}

// Heartbeat handles POST /nodes/heartbeat/{nodeID}. The auth middleware has
// already verified the caller's API key.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetNodeFromContext(r.Context())
	if node == nil {
		h.Error(w, http.StatusUnauthorized, "missing node credentials")
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Load < 0 || req.Load > 100 {
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		h.Error(w, http.StatusBadRequest, "load must be between 0 and 100")
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp).UTC()
	}

	updated, err := h.registry.ApplyHeartbeat(r.Context(), node.ID, req.LoadSnapshot, ts)
	switch err {
	case nil:
		metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
		h.JSON(w, http.StatusOK, HeartbeatResponse{Accepted: true, Status: updated.Status})
	case registry.ErrStaleHeartbeat:
		metrics.HeartbeatsTotal.WithLabelValues("stale").Inc()
		h.JSON(w, http.StatusOK, HeartbeatResponse{Accepted: false})
	case registry.ErrUnknownNode:
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		h.Error(w, http.StatusNotFound, "node not found")
	case registry.ErrRetired:
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		h.Error(w, http.StatusGone, "node retired")
	default:
		log.Error().Err(err).Str("node_id", node.ID.String()).Msg("heartbeat not applied")
		h.Error(w, http.StatusInternalServerError, "heartbeat failed")
	}
}
