package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/api/middleware"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/syncer"
)

// PushSync handles POST /nodes/sync/{nodeID}: a node uploading its message
// log. The batch is applied message by message; a mid-batch storage failure
// still reports what committed so the node re-sends only the tail.
func (h *Handler) PushSync(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetNodeFromContext(r.Context())
	if node == nil {
		h.Error(w, http.StatusUnauthorized, "missing node credentials")
		return
	}

	var batch syncer.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// The batch is attributed to the authenticated caller regardless of
	// what it claims.
	batch.NodeID = node.ID

	res, err := h.engine.Apply(r.Context(), batch, models.SyncPush)
	if err != nil {
		if res != nil {
			// Partial commit: the node advances to LastCommittedTS.
			h.JSON(w, http.StatusInternalServerError, res)
			return
		}
		log.Error().Err(err).Str("node_id", node.ID.String()).Msg("push sync failed")
		h.Error(w, http.StatusInternalServerError, "sync failed")
		return
	}

	h.registry.TouchSync(r.Context(), node.ID)
	h.JSON(w, http.StatusOK, res)
}

// PullSync handles GET /nodes/sync/{nodeID}?since=&limit=: a node
// downloading what the rest of the cluster produced.
func (h *Handler) PullSync(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetNodeFromContext(r.Context())
	if node == nil {
		h.Error(w, http.StatusUnauthorized, "missing node credentials")
		return
	}

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := parseSince(v)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "since must be a unix ms timestamp or RFC 3339 time")
			return
		}
		since = parsed
	}
	limit := parseIntParam(r, "limit", syncer.DefaultBatchLimit)
	if limit > syncer.DefaultBatchLimit {
		limit = syncer.DefaultBatchLimit
	}

	batch, err := h.engine.BuildBatch(r.Context(), node.ID, since, limit)
	if err != nil {
		log.Error().Err(err).Str("node_id", node.ID.String()).Msg("pull sync failed")
		h.Error(w, http.StatusInternalServerError, "sync failed")
		return
	}

	h.registry.TouchSync(r.Context(), node.ID)
	h.JSON(w, http.StatusOK, batch)
}

// parseSince accepts the watermark either as unix milliseconds or as an
// RFC 3339 timestamp.
func parseSince(v string) (int64, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative timestamp")
		}
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// ListSyncSessions handles GET /sync/sessions?node_id=&limit= (admin).
func (h *Handler) ListSyncSessions(w http.ResponseWriter, r *http.Request) {
	nodeID := uuid.Nil
	if v := r.URL.Query().Get("node_id"); v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid node_id")
			return
		}
		nodeID = parsed
	}
	limit := parseIntParam(r, "limit", 50)

	sessions, err := h.store.ListSyncSessions(r.Context(), nodeID, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if sessions == nil {
		sessions = []models.SyncSession{}
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}
