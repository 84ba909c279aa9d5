package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/store"
)

// Coordinator is the remote end of a sync exchange, implemented by the
// districhat API client.
type Coordinator interface {
	PushSync(ctx context.Context, batch Batch) (*Result, error)
	PullSync(ctx context.Context, since int64, limit int) (*Batch, error)
}

// Client runs the node side of replication: push local messages up, pull
// the rest of the cluster's messages down. Both legs are incremental from
// persisted watermarks and idempotent, so the scheduler can fire Sync as
// often as it likes.
type Client struct {
	engine *Engine
	store  store.DataStore
	coord  Coordinator
	nodeID uuid.UUID
	limit  int
}

// NewClient creates a sync client for one node.
func NewClient(ds store.DataStore, coord Coordinator, nodeID uuid.UUID) *Client {
	return &Client{
		engine: NewEngine(ds),
		store:  ds,
		coord:  coord,
		nodeID: nodeID,
		limit:  DefaultBatchLimit,
	}
}

// Sync runs one full exchange. The push leg completing keeps its progress
// even when the pull leg fails.
func (c *Client) Sync(ctx context.Context) error {
	if err := c.push(ctx); err != nil {
		return err
	}
	return c.pull(ctx)
}

func (c *Client) push(ctx context.Context) error {
	since, err := c.store.GetSyncWatermark(ctx, "push")
	if err != nil {
		return err
	}

	batch, err := c.engine.BuildBatch(ctx, c.nodeID, since, c.limit)
	if err != nil {
		return err
	}
	if len(batch.Messages) == 0 {
		return nil
	}

	sess := &models.SyncSession{
		NodeID:    c.nodeID,
		Direction: models.SyncPush,
		Type:      batch.Type,
		Status:    models.SyncSessionInProgress,
	}
	if err := c.store.CreateSyncSession(ctx, sess); err != nil {
		return err
	}

	res, err := c.coord.PushSync(ctx, *batch)
	if err != nil {
		c.closeSession(ctx, sess, 0, err)
		return err
	}

	// Advance only to what the coordinator committed; the tail goes again
	// next round.
	committed := make([]string, 0, len(batch.Messages))
	for _, msg := range batch.Messages {
		if res.LastCommittedTS > 0 && msg.UpdatedAt <= res.LastCommittedTS {
			committed = append(committed, msg.ID)
		}
	}
	if err := c.store.MarkMessagesSynced(ctx, committed); err != nil {
		log.Warn().Err(err).Msg("pushed messages not marked synced")
	}
	if res.LastCommittedTS > since {
		if err := c.store.SetSyncWatermark(ctx, "push", res.LastCommittedTS); err != nil {
			return err
		}
	}

	c.closeSession(ctx, sess, len(committed), nil)
	log.Info().
		Int("pushed", len(committed)).
		Int64("watermark", res.LastCommittedTS).
		Msg("push sync done")
	return nil
}

func (c *Client) pull(ctx context.Context) error {
	since, err := c.store.GetSyncWatermark(ctx, "pull")
	if err != nil {
		return err
	}

	batch, err := c.coord.PullSync(ctx, since, c.limit)
	if err != nil {
		return err
	}
	if len(batch.Messages) == 0 {
		return nil
	}

	res, err := c.engine.Apply(ctx, *batch, models.SyncPull)
	if res != nil && res.LastCommittedTS > since {
		if wmErr := c.store.SetSyncWatermark(ctx, "pull", res.LastCommittedTS); wmErr != nil {
			return wmErr
		}
	}
	if err != nil {
		return err
	}

	log.Info().
		Int("applied", res.Applied).
		Int("skipped", res.Skipped).
		Int64("watermark", res.LastCommittedTS).
		Msg("pull sync done")
	return nil
}

func (c *Client) closeSession(ctx context.Context, sess *models.SyncSession, synced int, cause error) {
	now := time.Now().UTC()
	sess.MessagesSynced = synced
	sess.CompletedAt = &now
	if cause != nil {
		sess.Status = models.SyncSessionFailed
		sess.Error = cause.Error()
	} else {
		sess.Status = models.SyncSessionCompleted
	}
	if err := c.store.UpdateSyncSession(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("sync session not closed")
	}
}
