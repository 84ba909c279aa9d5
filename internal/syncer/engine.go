// Package syncer replicates message logs between chat nodes and the
// coordinator. Batches are idempotent: every message is applied through the
// store's last-write-wins upsert, so replaying a batch converges instead of
// duplicating.
package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/metrics"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/store"
)

// DefaultBatchLimit caps how many messages one sync exchange carries.
const DefaultBatchLimit = 500

// Batch is the sync wire format, both for pushes and pull responses.
type Batch struct {
	NodeID   uuid.UUID        `json:"node_id"`
	Type     models.SyncType  `json:"type"`
	Messages []models.Message `json:"messages"`
	SentAt   int64            `json:"sent_at"` // unix ms
}

// Result reports what the receiver committed.
type Result struct {
	SessionID uuid.UUID `json:"session_id"`
	Applied   int       `json:"applied"`
	Skipped   int       `json:"skipped"`
	// LastCommittedTS is the updated_at of the last message durably
	// applied, in batch order. The sender advances its watermark to this
	// and no further, so a mid-batch failure re-sends the tail only.
	LastCommittedTS int64 `json:"last_committed_ts"`
}

// Engine applies and builds sync batches against a store.
type Engine struct {
	store store.DataStore
}

// NewEngine creates a sync engine over ds.
func NewEngine(ds store.DataStore) *Engine {
	return &Engine{store: ds}
}

// Apply commits an incoming batch message by message, in order. Each message
// goes through the LWW upsert and is logged against the session. On a storage
// failure the session closes as failed carrying the count and timestamp of
// what did commit; everything before the failure stays committed.
func (e *Engine) Apply(ctx context.Context, batch Batch, direction models.SyncDirection) (*Result, error) {
	sess := &models.SyncSession{
		NodeID:    batch.NodeID,
		Direction: direction,
		Type:      batch.Type,
		Status:    models.SyncSessionInProgress,
	}
	if err := e.store.CreateSyncSession(ctx, sess); err != nil {
		return nil, err
	}

	res := &Result{SessionID: sess.ID}
	for i := range batch.Messages {
		msg := batch.Messages[i]
		msg.SyncStatus = models.SyncSynced

		existing, err := e.store.GetMessage(ctx, msg.ID)
		if err != nil {
			e.fail(ctx, sess, res, err)
			return res, err
		}

		// Fingerprint dedup: the same content can arrive under two ids
		// when a client retried across nodes. The copy with the lexically
		// smaller ULID (the earlier one) survives.
		if existing == nil {
			dup, err := e.store.GetMessageByFingerprint(ctx, msg.RoomID, msg.Fingerprint)
			if err != nil {
				e.fail(ctx, sess, res, err)
				return res, err
			}
			if dup != nil && dup.SenderID == msg.SenderID && dup.ID < msg.ID {
				e.logAction(ctx, sess.ID, msg.ID, models.SyncActionSkip)
				res.Skipped++
				res.LastCommittedTS = msg.UpdatedAt
				continue
			}
		}

		applied, err := e.store.UpsertMessage(ctx, &msg)
		if err != nil {
			e.fail(ctx, sess, res, err)
			return res, err
		}

		action := models.SyncActionSkip
		switch {
		case applied && existing == nil:
			action = models.SyncActionCreate
		case applied:
			action = models.SyncActionUpdate
		}
		e.logAction(ctx, sess.ID, msg.ID, action)

		if applied {
			res.Applied++
		} else {
			res.Skipped++
		}
		res.LastCommittedTS = msg.UpdatedAt
	}

	now := time.Now().UTC()
	sess.Status = models.SyncSessionCompleted
	sess.MessagesSynced = res.Applied
	sess.CompletedAt = &now
	if err := e.store.UpdateSyncSession(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("sync session not closed")
	}

	metrics.SyncSessions.WithLabelValues(string(direction), string(models.SyncSessionCompleted)).Inc()
	metrics.MessagesSynced.Add(float64(res.Applied))
	return res, nil
}

// BuildBatch collects messages updated strictly after since, oldest update
// first, so edits of old messages replicate alongside new traffic.
func (e *Engine) BuildBatch(ctx context.Context, nodeID uuid.UUID, since int64, limit int) (*Batch, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	msgs, err := e.store.ListMessagesSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	syncType := models.SyncIncremental
	if since == 0 {
		syncType = models.SyncFull
	}
	return &Batch{
		NodeID:   nodeID,
		Type:     syncType,
		Messages: msgs,
		SentAt:   time.Now().UnixMilli(),
	}, nil
}

func (e *Engine) fail(ctx context.Context, sess *models.SyncSession, res *Result, cause error) {
	now := time.Now().UTC()
	sess.Status = models.SyncSessionFailed
	sess.MessagesSynced = res.Applied
	sess.Error = cause.Error()
	sess.CompletedAt = &now
	if err := e.store.UpdateSyncSession(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed sync session not recorded")
	}
	metrics.SyncSessions.WithLabelValues(string(sess.Direction), string(models.SyncSessionFailed)).Inc()
	log.Error().Err(cause).
		Str("session_id", sess.ID.String()).
		Int("applied", res.Applied).
		Msg("sync batch failed mid-apply")
}

func (e *Engine) logAction(ctx context.Context, sessionID uuid.UUID, messageID string, action models.SyncAction) {
	if err := e.store.AppendSyncLog(ctx, &models.SyncLogEntry{
		SessionID: sessionID,
		MessageID: messageID,
		Action:    action,
	}); err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("sync log entry not recorded")
	}
}
