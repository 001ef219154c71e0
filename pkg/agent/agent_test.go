package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basinlabs/warden/pkg/transport"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, controlPlaneURL string) *Agent {
	t.Helper()
	a, err := New(Config{
		DataDir:         t.TempDir(),
		ControlPlaneURL: controlPlaneURL,
		Endpoint:        "http://127.0.0.1:0",
		Resources:       types.NodeResources{CPU: 1000, Memory: 1024},
	}, nil)
	require.NoError(t, err)
	return a
}

func TestLoadOrCreateNodeIDStableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	id1, err := loadOrCreateNodeID(dir)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := loadOrCreateNodeID(dir)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestStartRegistersThenFailsFatallyOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newTestAgent(t, srv.URL)
	err := a.Start(context.Background())
	require.Error(t, err)
}

func TestStartRegistersSuccessfullyAndHeartbeats(t *testing.T) {
	registered := make(chan types.Node, 1)
	heartbeats := make(chan types.Heartbeat, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/register":
			var n types.Node
			_ = json.NewDecoder(r.Body).Decode(&n)
			registered <- n
		case "/heartbeat":
			var hb types.Heartbeat
			_ = json.NewDecoder(r.Body).Decode(&hb)
			select {
			case heartbeats <- hb:
			default:
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := New(Config{
		DataDir:           t.TempDir(),
		ControlPlaneURL:   srv.URL,
		Endpoint:          "http://127.0.0.1:0",
		Resources:         types.NodeResources{CPU: 1000, Memory: 1024},
		HeartbeatInterval: 20 * time.Millisecond,
		MonitorInterval:   20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(context.Background()))

	select {
	case n := <-registered:
		assert.Equal(t, a.NodeID(), n.ID)
	case <-time.After(time.Second):
		t.Fatal("registration never observed")
	}

	select {
	case hb := <-heartbeats:
		assert.Equal(t, a.NodeID(), hb.NodeID)
	case <-time.After(time.Second):
		t.Fatal("heartbeat never observed")
	}
}

func TestPlaceStatusAndStopOverHTTP(t *testing.T) {
	a := newTestAgent(t, "http://unused.invalid")
	handler := a.Handler()

	alloc := types.Allocation{ID: "alloc-1", JobID: "job-1", TaskGroup: "web"}
	group := types.TaskGroup{Name: "web", Tasks: []types.Task{
		{Name: "sleeper", Config: map[string]any{"command": "sleep 5"}},
	}}
	body, err := json.Marshal(transport.StartRequest{Allocation: alloc, TaskGroup: group})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/allocations", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/allocations/alloc-1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var hb types.AllocationHeartbeat
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hb))
	assert.Equal(t, types.AllocRunning, hb.Status)

	req = httptest.NewRequest(http.MethodDelete, "/allocations/alloc-1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/allocations/alloc-1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopUnknownAllocationReturnsNotFound(t *testing.T) {
	a := newTestAgent(t, "http://unused.invalid")
	req := httptest.NewRequest(http.MethodDelete, "/allocations/missing", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
