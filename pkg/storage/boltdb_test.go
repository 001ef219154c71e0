package storage

import (
	"testing"
	"time"

	"github.com/basinlabs/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNodeUpsertAndGet(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{ID: "node-1", IPAddress: "10.0.0.1", Healthy: true}
	require.NoError(t, store.UpsertNode(node))

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got.IPAddress)

	_, err = store.GetNode("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllocationListByJobAndNode(t *testing.T) {
	store := newTestStore(t)

	allocs := []*types.Allocation{
		{ID: "a1", JobID: "job-1", NodeID: "node-1", TaskGroup: "web"},
		{ID: "a2", JobID: "job-1", NodeID: "node-2", TaskGroup: "worker"},
		{ID: "a3", JobID: "job-2", NodeID: "node-1", TaskGroup: "web"},
	}
	for _, a := range allocs {
		require.NoError(t, store.UpsertAllocation(a))
	}

	byJob, err := store.ListAllocationsByJob("job-1")
	require.NoError(t, err)
	assert.Len(t, byJob, 2)

	byNode, err := store.ListAllocationsByNode("node-1")
	require.NoError(t, err)
	assert.Len(t, byNode, 2)
}

func TestTaskStatusScopedToAllocation(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertTaskStatus(&types.TaskStatus{AllocationID: "a1", TaskName: "nginx", Status: types.TaskRunning}))
	require.NoError(t, store.UpsertTaskStatus(&types.TaskStatus{AllocationID: "a1", TaskName: "logger", Status: types.TaskPending}))
	require.NoError(t, store.UpsertTaskStatus(&types.TaskStatus{AllocationID: "a2", TaskName: "nginx", Status: types.TaskRunning}))

	statuses, err := store.ListTaskStatusesByAllocation("a1")
	require.NoError(t, err)
	assert.Len(t, statuses, 2)

	require.NoError(t, store.DeleteTaskStatusesByAllocation("a1"))
	statuses, err = store.ListTaskStatusesByAllocation("a1")
	require.NoError(t, err)
	assert.Empty(t, statuses)

	remaining, err := store.ListTaskStatusesByAllocation("a2")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestTemplateCRUD(t *testing.T) {
	store := newTestStore(t)

	tmpl := &types.JobTemplate{ID: "t1", Name: "web", CreatedAt: time.Now()}
	require.NoError(t, store.UpsertTemplate(tmpl))

	got, err := store.GetTemplate("t1")
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)

	require.NoError(t, store.DeleteTemplate("t1"))
	_, err = store.GetTemplate("t1")
	assert.ErrorIs(t, err, ErrNotFound)
}
