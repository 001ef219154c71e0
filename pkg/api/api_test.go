package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/basinlabs/warden/pkg/executor"
	"github.com/basinlabs/warden/pkg/nodemanager"
	"github.com/basinlabs/warden/pkg/scheduler"
	"github.com/basinlabs/warden/pkg/storage"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	started map[string]types.Allocation
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(map[string]types.Allocation)}
}

func (f *fakeTransport) Start(ctx context.Context, endpoint string, alloc types.Allocation, group types.TaskGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[alloc.ID] = alloc
	return nil
}

func (f *fakeTransport) Stop(ctx context.Context, endpoint string, allocationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, allocationID)
	return nil
}

func (f *fakeTransport) GetStatus(ctx context.Context, endpoint string, allocationID string) (types.AllocationHeartbeat, error) {
	return types.AllocationHeartbeat{Status: types.AllocRunning}, nil
}

type testServer struct {
	srv *httptest.Server
	nm  *nodemanager.NodeManager
}

func newTestServer(t *testing.T, testAPIKey string) *testServer {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	nm := nodemanager.New(store)
	planCh := make(chan scheduler.JobPlan, 16)
	sched := scheduler.New(nm, planCh)
	exec := executor.New(nm, newFakeTransport(), planCh)
	sched.Open()
	exec.Open()
	t.Cleanup(func() { sched.Close(); exec.Close() })

	s := New(nm, sched, exec, testAPIKey)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, nm: nm}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRegisterHeartbeatAndListNodes(t *testing.T) {
	ts := newTestServer(t, "")

	node := types.Node{ID: "node-1", Endpoint: "http://127.0.0.1:9000", Resources: types.NodeResources{CPU: 1000, Memory: 1024}}
	resp := ts.post(t, "/register", node)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hb := types.Heartbeat{NodeID: "node-1", Resources: node.Resources, Healthy: true, Timestamp: time.Now()}
	resp = ts.post(t, "/heartbeat", hb)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/nodes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nodes []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nodes))
	require.Len(t, nodes, 1)
}

func TestSubmitJobSchedulesAndPlacesAllocation(t *testing.T) {
	ts := newTestServer(t, "")

	node := types.Node{ID: "node-1", Endpoint: "http://127.0.0.1:9000", Resources: types.NodeResources{CPU: 2000, Memory: 2048}}
	require.Equal(t, http.StatusOK, ts.post(t, "/register", node).StatusCode)

	req := jobRequest{TaskGroups: []types.TaskGroup{{
		Name:  "web",
		Tasks: []types.Task{{Name: "nginx", Resources: types.Resources{CPU: 100, Memory: 128}, Config: map[string]any{"command": "true"}}},
	}}}
	resp := ts.post(t, "/jobs", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var submitted submitJobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.JobID)
	require.NotEmpty(t, submitted.EvaluationID)

	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodGet, "/jobs/"+submitted.JobID, nil)
		defer resp.Body.Close()
		var info types.JobInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return false
		}
		return len(info.AllocationInfos) == 1 && info.AllocationInfos[0].Allocation.Status == types.AllocRunning
	}, time.Second, 10*time.Millisecond)
}

func TestTemplateCRUD(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.post(t, "/templates", templateRequest{Name: "web", TaskGroups: []types.TaskGroup{{Name: "web"}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tmpl types.JobTemplate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tmpl))

	resp = ts.do(t, http.MethodGet, "/templates/"+tmpl.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []types.JobTemplate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	assert.Len(t, all, 1)

	resp = ts.do(t, http.MethodPut, "/templates/"+tmpl.ID, templateRequest{Name: "web-v2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/templates/"+tmpl.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/templates/"+tmpl.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearAllRequiresAPIKey(t *testing.T) {
	ts := newTestServer(t, "secret")

	resp := ts.post(t, "/test/clear-all", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/test/clear-all", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClearAllDisabledWhenNoKeyConfigured(t *testing.T) {
	ts := newTestServer(t, "")
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/test/clear-all", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "anything")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
