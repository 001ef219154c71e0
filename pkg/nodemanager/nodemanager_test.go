package nodemanager

import (
	"context"
	"testing"

	"github.com/basinlabs/warden/pkg/storage"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*NodeManager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestDeriveJobStatusPriority(t *testing.T) {
	cases := []struct {
		name       string
		allocs     []types.Allocation
		sufficient bool
		want       types.JobStatus
	}{
		{"all lost", []types.Allocation{{Status: types.AllocLost}, {Status: types.AllocLost}}, true, types.JobLost},
		{"all failed", []types.Allocation{{Status: types.AllocFailed}}, true, types.JobFailed},
		{"running with failed is degraded", []types.Allocation{{Status: types.AllocRunning}, {Status: types.AllocFailed}}, true, types.JobDegraded},
		{"running only", []types.Allocation{{Status: types.AllocRunning}, {Status: types.AllocRunning}}, true, types.JobRunning},
		{"all pending sufficient", []types.Allocation{{Status: types.AllocPending}}, true, types.JobPending},
		{"all pending insufficient", []types.Allocation{{Status: types.AllocPending}}, false, types.JobBlocked},
		{"complete and stopped", []types.Allocation{{Status: types.AllocComplete}, {Status: types.AllocStopped}}, true, types.JobComplete},
		{"empty means unchanged", nil, true, types.JobStatus("")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveJobStatus(tc.allocs, tc.sufficient))
		})
	}
}

func TestRegisterNodeAndHeartbeat(t *testing.T) {
	nm, _ := newTestManager(t)
	ctx := context.Background()

	node := types.Node{ID: "n1", Endpoint: "http://10.0.0.1:7000", Resources: types.NodeResources{CPU: 1000, Memory: 4096}}
	require.NoError(t, nm.RegisterNode(ctx, node))

	nodes, err := nm.ListHealthyNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Healthy)

	hb := types.Heartbeat{NodeID: "n1", Healthy: true, Resources: types.NodeResources{CPU: 1000, Memory: 4096, CPUUsed: 100}}
	require.NoError(t, nm.UpdateHeartbeat(ctx, hb))

	got, err := nm.GetAllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].Resources.CPUUsed)
}

func TestSubmitJobPreservesStatusOnUpdate(t *testing.T) {
	nm, store := newTestManager(t)
	ctx := context.Background()

	job := types.Job{ID: "job-1", TaskGroups: []types.TaskGroup{{Name: "web"}}}
	id, isUpdate, previous, err := nm.SubmitJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, isUpdate)
	assert.Nil(t, previous)
	assert.Equal(t, "job-1", id)

	stored, err := store.GetJob("job-1")
	require.NoError(t, err)
	stored.Status = types.JobRunning
	require.NoError(t, store.UpsertJob(stored))

	job.TaskGroups = append(job.TaskGroups, types.TaskGroup{Name: "worker"})
	_, isUpdate, previous, err = nm.SubmitJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, isUpdate)
	require.NotNil(t, previous)
	assert.Len(t, previous.TaskGroups, 1)

	after, err := nm.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, after.Status)
	assert.Len(t, after.TaskGroups, 2)
}

func TestUpdateAllocationRecomputesJobStatus(t *testing.T) {
	nm, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertNode(&types.Node{ID: "n1", Healthy: true, Resources: types.NodeResources{CPU: 1000, Memory: 4096}}))
	job := types.Job{ID: "job-1", TaskGroups: []types.TaskGroup{{Name: "web", Tasks: []types.Task{{Name: "nginx", Resources: types.Resources{CPU: 100, Memory: 128}}}}}}
	_, _, _, err := nm.SubmitJob(ctx, job)
	require.NoError(t, err)

	alloc := types.Allocation{ID: "a1", JobID: "job-1", NodeID: "n1", TaskGroup: "web", Status: types.AllocPending}
	require.NoError(t, nm.UpdateAllocation(ctx, alloc))

	after, err := nm.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, after.Status)

	alloc.Status = types.AllocRunning
	require.NoError(t, nm.UpdateAllocation(ctx, alloc))

	after, err = nm.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, after.Status)
}

func TestBlockedWhenInsufficientResources(t *testing.T) {
	nm, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertNode(&types.Node{ID: "n1", Healthy: true, Resources: types.NodeResources{CPU: 100, Memory: 128}}))
	job := types.Job{ID: "job-1", TaskGroups: []types.TaskGroup{{Name: "web", Tasks: []types.Task{{Name: "x", Resources: types.Resources{CPU: 500, Memory: 1024}}}}}}
	_, _, _, err := nm.SubmitJob(ctx, job)
	require.NoError(t, err)

	alloc := types.Allocation{ID: "a1", JobID: "job-1", NodeID: "n1", TaskGroup: "web", Status: types.AllocPending}
	require.NoError(t, nm.UpdateAllocation(ctx, alloc))

	after, err := nm.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobBlocked, after.Status)
}

func TestDeleteAllocationReturnsNodeForNotify(t *testing.T) {
	nm, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertNode(&types.Node{ID: "n1", Healthy: true}))
	require.NoError(t, store.UpsertJob(&types.Job{ID: "job-1", TaskGroups: []types.TaskGroup{{Name: "web"}}}))
	require.NoError(t, store.UpsertAllocation(&types.Allocation{ID: "a1", JobID: "job-1", NodeID: "n1", TaskGroup: "web", Status: types.AllocRunning}))

	ok, nodeID, err := nm.DeleteAllocation(ctx, "a1", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "n1", nodeID)

	_, err = store.GetAllocation("a1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ok, _, err = nm.DeleteAllocation(ctx, "missing", true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkJobDeadAndCleanJobData(t *testing.T) {
	nm, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(&types.Job{ID: "job-1", Status: types.JobRunning}))
	require.NoError(t, store.UpsertAllocation(&types.Allocation{ID: "a1", JobID: "job-1", NodeID: "n1", TaskGroup: "web"}))
	require.NoError(t, store.UpsertTaskStatus(&types.TaskStatus{AllocationID: "a1", TaskName: "nginx", Status: types.TaskRunning}))

	allocs, err := nm.MarkJobDead(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, allocs, 1)

	job, err := nm.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobDead, job.Status)

	// A dead job's status must not be re-derived by allocation updates.
	require.NoError(t, nm.UpdateAllocation(ctx, types.Allocation{ID: "a1", JobID: "job-1", NodeID: "n1", TaskGroup: "web", Status: types.AllocLost}))
	job, err = nm.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobDead, job.Status)

	require.NoError(t, nm.CleanJobData(ctx, "job-1"))
	_, err = store.GetJob("job-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	statuses, err := store.ListTaskStatusesByAllocation("a1")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestGetAllJobsNestsAllocationsAndTasks(t *testing.T) {
	nm, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(&types.Job{ID: "job-1"}))
	require.NoError(t, store.UpsertAllocation(&types.Allocation{ID: "a1", JobID: "job-1", NodeID: "n1", TaskGroup: "web"}))
	require.NoError(t, store.UpsertTaskStatus(&types.TaskStatus{AllocationID: "a1", TaskName: "nginx", Status: types.TaskRunning}))

	infos, err := nm.GetAllJobs(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Len(t, infos[0].AllocationInfos, 1)
	require.Len(t, infos[0].AllocationInfos[0].Tasks, 1)
	assert.Equal(t, "nginx", infos[0].AllocationInfos[0].Tasks[0].TaskName)
}

func TestUpdateHeartbeatIgnoresStaleAllocations(t *testing.T) {
	nm, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertNode(&types.Node{ID: "n1", Healthy: true}))
	hb := types.Heartbeat{
		NodeID:  "n1",
		Healthy: true,
		Allocations: map[string]types.AllocationHeartbeat{
			"gone": {Status: types.AllocRunning, Tasks: map[string]types.TaskStatusPayload{}},
		},
	}
	require.NoError(t, nm.UpdateHeartbeat(ctx, hb))

	_, err := store.GetAllocation("gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
