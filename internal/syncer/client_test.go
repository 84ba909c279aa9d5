package syncer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/store"
)

// localCoordinator runs the coordinator side of a sync exchange in-process.
type localCoordinator struct {
	engine *Engine
	nodeID uuid.UUID
}

func newLocalCoordinator(ds store.DataStore) *localCoordinator {
	return &localCoordinator{engine: NewEngine(ds), nodeID: uuid.New()}
}

func (c *localCoordinator) PushSync(ctx context.Context, batch Batch) (*Result, error) {
	return c.engine.Apply(ctx, batch, models.SyncPush)
}

func (c *localCoordinator) PullSync(ctx context.Context, since int64, limit int) (*Batch, error) {
	return c.engine.BuildBatch(ctx, c.nodeID, since, limit)
}

func TestSyncPushesLocalMessagesUp(t *testing.T) {
	ctx := context.Background()
	nodeStore := store.NewMemoryStore()
	coordStore := store.NewMemoryStore()
	coord := newLocalCoordinator(coordStore)

	nodeID := uuid.New()
	client := NewClient(nodeStore, coord, nodeID)

	msg := mkMessage("room-1", "alice", "local message", nodeID.String(), 1000)
	_, err := nodeStore.UpsertMessage(ctx, &msg)
	require.NoError(t, err)

	require.NoError(t, client.Sync(ctx))

	// Coordinator has the message.
	got, err := coordStore.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "local message", got.Body)

	// The local copy is marked synced and the watermark advanced.
	local, err := nodeStore.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, local.SyncStatus)

	wm, err := nodeStore.GetSyncWatermark(ctx, "push")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), wm)
}

func TestSyncPullsRemoteMessagesDown(t *testing.T) {
	ctx := context.Background()
	nodeStore := store.NewMemoryStore()
	coordStore := store.NewMemoryStore()
	coord := newLocalCoordinator(coordStore)

	remote := mkMessage("room-1", "bob", "from another node", "node-z", 5000)
	_, err := coordStore.UpsertMessage(ctx, &remote)
	require.NoError(t, err)

	client := NewClient(nodeStore, coord, uuid.New())
	require.NoError(t, client.Sync(ctx))

	got, err := nodeStore.GetMessage(ctx, remote.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "from another node", got.Body)

	wm, err := nodeStore.GetSyncWatermark(ctx, "pull")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), wm)
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	nodeStore := store.NewMemoryStore()
	coordStore := store.NewMemoryStore()
	coord := newLocalCoordinator(coordStore)

	nodeID := uuid.New()
	client := NewClient(nodeStore, coord, nodeID)

	msg := mkMessage("room-1", "alice", "once only", nodeID.String(), 1000)
	_, err := nodeStore.UpsertMessage(ctx, &msg)
	require.NoError(t, err)

	require.NoError(t, client.Sync(ctx))
	require.NoError(t, client.Sync(ctx))
	require.NoError(t, client.Sync(ctx))

	count, err := coordStore.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTwoNodesConvergeThroughCoordinator(t *testing.T) {
	ctx := context.Background()
	coordStore := store.NewMemoryStore()
	coord := newLocalCoordinator(coordStore)

	storeA := store.NewMemoryStore()
	storeB := store.NewMemoryStore()
	nodeA := NewClient(storeA, coord, uuid.New())
	nodeB := NewClient(storeB, coord, uuid.New())

	msgA := mkMessage("room-1", "alice", "written on a", "node-a", 1000)
	msgB := mkMessage("room-1", "bob", "written on b", "node-b", 2000)
	_, err := storeA.UpsertMessage(ctx, &msgA)
	require.NoError(t, err)
	_, err = storeB.UpsertMessage(ctx, &msgB)
	require.NoError(t, err)

	// Round one moves each node's messages to the coordinator; round two
	// spreads them to the other node.
	require.NoError(t, nodeA.Sync(ctx))
	require.NoError(t, nodeB.Sync(ctx))
	require.NoError(t, nodeA.Sync(ctx))
	require.NoError(t, nodeB.Sync(ctx))

	for name, ds := range map[string]*store.MemoryStore{"a": storeA, "b": storeB, "coord": coordStore} {
		count, err := ds.CountMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count, "store %s", name)

		got, err := ds.GetMessage(ctx, msgA.ID)
		require.NoError(t, err)
		require.NotNil(t, got, "store %s missing a's message", name)
		got, err = ds.GetMessage(ctx, msgB.ID)
		require.NoError(t, err)
		require.NotNil(t, got, "store %s missing b's message", name)
	}
}

func TestConflictingEditsConvergeToLastWriter(t *testing.T) {
	ctx := context.Background()
	coordStore := store.NewMemoryStore()
	coord := newLocalCoordinator(coordStore)

	storeA := store.NewMemoryStore()
	storeB := store.NewMemoryStore()
	nodeA := NewClient(storeA, coord, uuid.New())
	nodeB := NewClient(storeB, coord, uuid.New())

	// Both nodes hold the same message, then each edits it while
	// partitioned.
	base := mkMessage("room-1", "alice", "original", "node-a", 1000)
	onA := base
	onA.Body = "edit from a"
	onA.Fingerprint = models.Fingerprint(onA.Body)
	onA.UpdatedAt = 2000
	onB := base
	onB.Body = "edit from b"
	onB.Fingerprint = models.Fingerprint(onB.Body)
	onB.UpdatedAt = 3000

	_, err := storeA.UpsertMessage(ctx, &onA)
	require.NoError(t, err)
	_, err = storeB.UpsertMessage(ctx, &onB)
	require.NoError(t, err)

	require.NoError(t, nodeA.Sync(ctx))
	require.NoError(t, nodeB.Sync(ctx))
	require.NoError(t, nodeA.Sync(ctx))
	require.NoError(t, nodeB.Sync(ctx))

	for name, ds := range map[string]*store.MemoryStore{"a": storeA, "b": storeB, "coord": coordStore} {
		got, err := ds.GetMessage(ctx, base.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "edit from b", got.Body, "store %s", name)
		assert.Equal(t, int64(3000), got.UpdatedAt, "store %s", name)
	}
}
