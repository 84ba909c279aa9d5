package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skye-cyber/DistriChat/internal/api"
	"github.com/skye-cyber/DistriChat/internal/handlers"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/registry"
	"github.com/skye-cyber/DistriChat/internal/store"
	"github.com/skye-cyber/DistriChat/internal/syncer"
)

const adminToken = "test-admin-token"

type testEnv struct {
	t      *testing.T
	router *chi.Mux
	store  *store.MemoryStore
	reg    *registry.Registry
}

func newTestEnv(t *testing.T, autoApprove bool) *testEnv {
	t.Helper()
	ds := store.NewMemoryStore()
	reg := registry.New(ds, registry.DefaultConfig())
	h := handlers.NewHandler(ds, nil, reg, syncer.NewEngine(ds), autoApprove)
	router := api.NewCoordinatorRouter(api.CoordinatorConfig{
		Logger:     zerolog.Nop(),
		Handler:    h,
		Registry:   reg,
		AdminToken: adminToken,
	})
	return &testEnv{t: t, router: router, store: ds, reg: reg}
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// registerNode registers a node through the auto-approve path and returns
// its credentials.
func (e *testEnv) registerNode(name, url string, maxRooms int) (uuid.UUID, string) {
	e.t.Helper()
	rec := e.do("POST", "/nodes/register", map[string]any{
		"name":     name,
		"url":      url,
		"capacity": maxRooms,
	}, nil)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[handlers.RegisterNodeResponse](e.t, rec)
	require.Equal(e.t, models.RegistrationApproved, resp.Status)
	require.NotEmpty(e.t, resp.APIKey)
	id, err := uuid.Parse(resp.NodeID)
	require.NoError(e.t, err)
	return id, resp.APIKey
}

// heartbeat sends a load report for the node so the balancer considers it.
func (e *testEnv) heartbeat(nodeID uuid.UUID, apiKey string, load float64) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do("POST", "/nodes/heartbeat/"+nodeID.String(), map[string]any{
		"load": load,
	}, map[string]string{"X-Node-API-Key": apiKey})
}

func TestRegisterNodeAutoApprove(t *testing.T) {
	env := newTestEnv(t, true)

	id, key := env.registerNode("alpha", "http://alpha:9000", 10)
	assert.NotEqual(t, uuid.Nil, id)
	assert.NotEmpty(t, key)

	// The node is tracked immediately.
	rec := env.do("GET", "/nodes/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, status.Total)
}

func TestRegisterNodeDuplicateURL(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerNode("alpha", "http://alpha:9000", 10)

	rec := env.do("POST", "/nodes/register", map[string]any{
		"name": "alpha-again",
		"url":  "http://alpha:9000",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterNodeValidation(t *testing.T) {
	env := newTestEnv(t, true)

	cases := map[string]map[string]any{
		"missing url":  {"name": "alpha"},
		"missing name": {"url": "http://alpha:9000"},
		"bad scheme":   {"name": "alpha", "url": "ftp://alpha:9000"},
		"bad email":    {"name": "alpha", "url": "http://alpha:9000", "admin_email": "not-an-email"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do("POST", "/nodes/register", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegisterConflictsWithPendingRegistration(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do("POST", "/nodes/register", map[string]any{
		"name": "delta",
		"url":  "http://delta:9000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// The same URL cannot queue a second registration while the first is
	// undecided.
	rec = env.do("POST", "/nodes/register", map[string]any{
		"name": "delta-retry",
		"url":  "http://delta:9000",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending approval")
}

func TestRegistrationApprovalFlow(t *testing.T) {
	env := newTestEnv(t, false)
	admin := map[string]string{"X-Admin-Token": adminToken}

	rec := env.do("POST", "/nodes/register", map[string]any{
		"name": "beta",
		"url":  "http://beta:9000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	reg := decode[handlers.RegisterNodeResponse](t, rec)
	assert.Equal(t, models.RegistrationPending, reg.Status)
	assert.Empty(t, reg.APIKey)

	// Pending registrations are visible to the admin.
	rec = env.do("GET", "/nodes/registrations?status=pending", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, listing.Total)

	// Approval needs the admin token.
	approvePath := "/nodes/registrations/" + reg.RegistrationID + "/approve"
	rec = env.do("POST", approvePath, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do("POST", approvePath, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decode[handlers.RegisterNodeResponse](t, rec)
	assert.Equal(t, models.RegistrationApproved, approved.Status)
	assert.NotEmpty(t, approved.APIKey)
	assert.NotEmpty(t, approved.NodeID)

	// A decided registration cannot be approved again.
	rec = env.do("POST", approvePath, nil, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectRegistration(t *testing.T) {
	env := newTestEnv(t, false)
	admin := map[string]string{"X-Admin-Token": adminToken}

	rec := env.do("POST", "/nodes/register", map[string]any{
		"name": "gamma",
		"url":  "http://gamma:9000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	reg := decode[handlers.RegisterNodeResponse](t, rec)

	rec = env.do("POST", "/nodes/registrations/"+reg.RegistrationID+"/reject", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	// No node was created.
	rec = env.do("GET", "/nodes/status", nil, nil)
	status := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 0, status.Total)
}

func TestHeartbeatAcceptAndStale(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 10)

	rec := env.heartbeat(id, key, 20)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[handlers.HeartbeatResponse](t, rec)
	assert.True(t, resp.Accepted)
	assert.Equal(t, models.NodeStatusOnline, resp.Status)

	// A report timestamped before the last accepted one is ignored.
	rec = env.do("POST", "/nodes/heartbeat/"+id.String(), map[string]any{
		"load":      30,
		"timestamp": 1000,
	}, map[string]string{"X-Node-API-Key": key})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[handlers.HeartbeatResponse](t, rec)
	assert.False(t, resp.Accepted)
}

// An approved node stays pending until its first accepted heartbeat proves
// it reachable; only then does the balancer consider it.
func TestApprovedNodePendingUntilFirstHeartbeat(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 10)

	rec := env.do("GET", "/nodes/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[struct {
		Node models.Node `json:"node"`
	}](t, rec)
	assert.Equal(t, models.NodeStatusPending, detail.Node.Status)

	// An unheard-from node takes no rooms.
	rec = env.do("POST", "/chat/room/create", map[string]any{"name": "early"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.Equal(t, http.StatusOK, env.heartbeat(id, key, 10).Code)

	rec = env.do("GET", "/nodes/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail = decode[struct {
		Node models.Node `json:"node"`
	}](t, rec)
	assert.Equal(t, models.NodeStatusOnline, detail.Node.Status)
}

func TestHeartbeatRejectsBadCredentialsAndLoad(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 10)

	rec := env.heartbeat(id, "wrong-key", 20)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.heartbeat(uuid.New(), key, 20)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.heartbeat(id, key, 150)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRoomSpreadsAcrossNodes(t *testing.T) {
	env := newTestEnv(t, true)
	idA, keyA := env.registerNode("alpha", "http://alpha:9000", 10)
	idB, keyB := env.registerNode("beta", "http://beta:9000", 10)
	require.Equal(t, http.StatusOK, env.heartbeat(idA, keyA, 10).Code)
	require.Equal(t, http.StatusOK, env.heartbeat(idB, keyB, 10).Code)

	// With equal capacity the two rooms land on different nodes: the
	// second pick sees the first node at a higher ratio.
	assigned := make(map[string]int)
	for i := 0; i < 2; i++ {
		rec := env.do("POST", "/chat/room/create", map[string]any{
			"name": fmt.Sprintf("room-%d", i),
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[handlers.CreateRoomResponse](t, rec)
		assert.NotEmpty(t, resp.RoomID)
		assigned[resp.AssignedNodeID]++
	}
	assert.Len(t, assigned, 2)
	assert.Equal(t, 1, assigned[idA.String()])
	assert.Equal(t, 1, assigned[idB.String()])
}

func TestCreateRoomNoCapacity(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do("POST", "/chat/room/create", map[string]any{"name": "lonely"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateRoomFullCluster(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 1)
	require.Equal(t, http.StatusOK, env.heartbeat(id, key, 10).Code)

	rec := env.do("POST", "/chat/room/create", map[string]any{"name": "first"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do("POST", "/chat/room/create", map[string]any{"name": "second"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeactivateRoomFreesNodeCapacity(t *testing.T) {
	env := newTestEnv(t, true)
	admin := map[string]string{"X-Admin-Token": adminToken}
	id, key := env.registerNode("alpha", "http://alpha:9000", 1)
	require.Equal(t, http.StatusOK, env.heartbeat(id, key, 10).Code)

	rec := env.do("POST", "/chat/room/create", map[string]any{"name": "first"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[handlers.CreateRoomResponse](t, rec)

	// Capacity 1: the node is full.
	rec = env.do("POST", "/chat/room/create", map[string]any{"name": "blocked"}, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	deactivatePath := "/rooms/" + created.RoomID + "/deactivate"
	rec = env.do("POST", deactivatePath, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do("POST", deactivatePath, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do("GET", "/rooms/"+created.RoomID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	room := decode[models.Room](t, rec)
	assert.False(t, room.Active)

	// The freed slot takes the next room.
	rec = env.do("POST", "/chat/room/create", map[string]any{"name": "second"}, nil)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do("POST", deactivatePath, nil, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAndListRooms(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 10)
	require.Equal(t, http.StatusOK, env.heartbeat(id, key, 10).Code)

	rec := env.do("POST", "/chat/room/create", map[string]any{"name": "general"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[handlers.CreateRoomResponse](t, rec)

	rec = env.do("GET", "/rooms/"+created.RoomID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	room := decode[models.Room](t, rec)
	assert.Equal(t, "general", room.Name)
	assert.Equal(t, id, room.NodeID)

	rec = env.do("GET", "/rooms/"+uuid.New().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do("GET", "/rooms", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, listing.Total)
}

func TestSyncPushPullRoundtrip(t *testing.T) {
	env := newTestEnv(t, true)
	idA, keyA := env.registerNode("alpha", "http://alpha:9000", 10)
	idB, keyB := env.registerNode("beta", "http://beta:9000", 10)

	roomID := uuid.New().String()
	msgs := []models.Message{
		{
			ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", RoomID: roomID,
			SenderID: "u1", Body: "hello",
			Fingerprint:  models.Fingerprint("hello"),
			OriginNodeID: idA.String(),
			CreatedAt:    1000, UpdatedAt: 1000,
		},
		{
			ID: "01AAAAAAAAAAAAAAAAAAAAAAAB", RoomID: roomID,
			SenderID: "u1", Body: "world",
			Fingerprint:  models.Fingerprint("world"),
			OriginNodeID: idA.String(),
			CreatedAt:    2000, UpdatedAt: 2000,
		},
	}

	authA := map[string]string{"X-Node-ID": idA.String(), "X-Node-API-Key": keyA}
	rec := env.do("POST", "/nodes/sync/"+idA.String(), syncer.Batch{Messages: msgs}, authA)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[syncer.Result](t, rec)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, int64(2000), res.LastCommittedTS)

	// Replaying the same batch commits nothing new.
	rec = env.do("POST", "/nodes/sync/"+idA.String(), syncer.Batch{Messages: msgs}, authA)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[syncer.Result](t, rec)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 2, res.Skipped)

	// The other node pulls the full log.
	authB := map[string]string{"X-Node-ID": idB.String(), "X-Node-API-Key": keyB}
	rec = env.do("GET", "/nodes/sync/"+idB.String()+"?since=0", nil, authB)
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[syncer.Batch](t, rec)
	assert.Equal(t, models.SyncFull, batch.Type)
	require.Len(t, batch.Messages, 2)
	assert.Equal(t, "hello", batch.Messages[0].Body)

	// An incremental pull windows on the update timestamp.
	rec = env.do("GET", "/nodes/sync/"+idB.String()+"?since=1000", nil, authB)
	require.Equal(t, http.StatusOK, rec.Code)
	batch = decode[syncer.Batch](t, rec)
	assert.Equal(t, models.SyncIncremental, batch.Type)
	require.Len(t, batch.Messages, 1)
	assert.Equal(t, "world", batch.Messages[0].Body)

	// The watermark is also accepted as an RFC 3339 timestamp.
	rec = env.do("GET", "/nodes/sync/"+idB.String()+"?since=1970-01-01T00:00:01Z", nil, authB)
	require.Equal(t, http.StatusOK, rec.Code)
	batch = decode[syncer.Batch](t, rec)
	require.Len(t, batch.Messages, 1)
}

func TestSyncRequiresNodeAuth(t *testing.T) {
	env := newTestEnv(t, true)

	path := "/nodes/sync/" + uuid.New().String()
	rec := env.do("POST", path, syncer.Batch{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do("GET", path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListSyncSessions(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 10)
	auth := map[string]string{"X-Node-ID": id.String(), "X-Node-API-Key": key}

	rec := env.do("POST", "/nodes/sync/"+id.String(), syncer.Batch{}, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do("GET", "/sync/sessions", nil, map[string]string{"X-Admin-Token": adminToken})
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, listing.Total)
}

func TestNodeDetail(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 10)
	require.Equal(t, http.StatusOK, env.heartbeat(id, key, 25).Code)

	rec := env.do("GET", "/nodes/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[struct {
		Node             models.Node              `json:"node"`
		RecentHeartbeats []models.HeartbeatSample `json:"recent_heartbeats"`
	}](t, rec)
	assert.Equal(t, models.NodeStatusOnline, detail.Node.Status)
	assert.Len(t, detail.RecentHeartbeats, 1)

	rec = env.do("GET", "/nodes/"+uuid.New().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetireNode(t *testing.T) {
	env := newTestEnv(t, true)
	id, key := env.registerNode("alpha", "http://alpha:9000", 10)
	require.Equal(t, http.StatusOK, env.heartbeat(id, key, 10).Code)

	rec := env.do("POST", "/nodes/"+id.String()+"/retire", nil, map[string]string{"X-Admin-Token": adminToken})
	require.Equal(t, http.StatusOK, rec.Code)

	// Retired nodes disappear from the status listing and refuse heartbeats.
	rec = env.do("GET", "/nodes/status", nil, nil)
	status := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 0, status.Total)

	rec = env.heartbeat(id, key, 10)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = env.do("POST", "/chat/room/create", map[string]any{"name": "nope"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do("GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["store"].Status)

	rec = env.do("GET", "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[handlers.RootResponse](t, rec)
	assert.Equal(t, "DistriChat", root.Name)
}
