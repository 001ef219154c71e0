// Package nodemanager wraps the store with the typed operations the rest of
// the control plane uses: node registration and heartbeat ingestion, job
// and allocation CRUD, and the single pure function that derives a job's
// aggregate status from its allocations.
//
// NodeManager is the only component that writes the store (see §9's
// "ad-hoc status re-derivation" redesign flag): every mutation that can
// affect a job's aggregate status runs through RecomputeJobStatus in this
// package, never inline at the call site.
package nodemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/storage"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested job, node, allocation, or
// template does not exist.
var ErrNotFound = storage.ErrNotFound

// NodeManager is the sole writer of the store.
type NodeManager struct {
	store  storage.Store
	mu     sync.Mutex
	logger zerolog.Logger
}

// New creates a NodeManager over store.
func New(store storage.Store) *NodeManager {
	return &NodeManager{store: store, logger: log.WithComponent("nodemanager")}
}

// RegisterNode upserts a node, setting it healthy with a fresh heartbeat
// timestamp.
func (nm *NodeManager) RegisterNode(ctx context.Context, node types.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()

	node.Healthy = true
	node.LastHeartbeat = time.Now()
	if err := nm.store.UpsertNode(&node); err != nil {
		return fmt.Errorf("register node %s: %w", node.ID, err)
	}
	nm.logger.Info().Str("node_id", node.ID).Str("endpoint", node.Endpoint).Msg("node registered")
	return nil
}

// UpdateHeartbeat updates the node row and upserts every carried allocation
// and task status row. Allocations absent from the heartbeat are left
// untouched — absence never implies deletion.
func (nm *NodeManager) UpdateHeartbeat(ctx context.Context, hb types.Heartbeat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()

	node, err := nm.store.GetNode(hb.NodeID)
	if err != nil {
		return fmt.Errorf("heartbeat from unknown node %s: %w", hb.NodeID, err)
	}
	node.Resources = hb.Resources
	node.Healthy = hb.Healthy
	node.LastHeartbeat = time.Now()
	if err := nm.store.UpsertNode(node); err != nil {
		return fmt.Errorf("heartbeat update node %s: %w", hb.NodeID, err)
	}

	affectedJobs := make(map[string]struct{})
	for allocID, ah := range hb.Allocations {
		alloc, err := nm.store.GetAllocation(allocID)
		if err != nil {
			// The control plane no longer knows this allocation (already
			// deleted); ignore stale reports from the agent.
			continue
		}
		alloc.Status = ah.Status
		if !ah.StartTime.IsZero() {
			alloc.StartTime = ah.StartTime
		}
		if !ah.EndTime.IsZero() {
			alloc.EndTime = ah.EndTime
		}
		if err := nm.store.UpsertAllocation(alloc); err != nil {
			return fmt.Errorf("heartbeat update allocation %s: %w", allocID, err)
		}
		affectedJobs[alloc.JobID] = struct{}{}

		for taskName, ts := range ah.Tasks {
			row := &types.TaskStatus{
				AllocationID: allocID,
				TaskName:     taskName,
				Status:       ts.Status,
				ExitCode:     ts.ExitCode,
				Message:      ts.Message,
				StartTime:    ts.StartTime,
				EndTime:      ts.EndTime,
			}
			if err := nm.store.UpsertTaskStatus(row); err != nil {
				return fmt.Errorf("heartbeat update task status %s/%s: %w", allocID, taskName, err)
			}
		}
	}

	if err := nm.alarmOnResourceUsage(hb); err != nil {
		nm.logger.Warn().Err(err).Msg("resource usage alarm check failed")
	}

	for jobID := range affectedJobs {
		if err := nm.recomputeJobStatusLocked(jobID); err != nil {
			nm.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to recompute job status")
		}
	}
	return nil
}

// alarmOnResourceUsage logs a warning when a heartbeat's coarse
// resource-usage figures exceed their threshold. Advisory only; no state
// transition follows from it.
func (nm *NodeManager) alarmOnResourceUsage(hb types.Heartbeat) error {
	const (
		cpuThreshold  = 90.0
		memThreshold  = 85.0
		diskThreshold = 80.0
	)
	if hb.CPUUsagePercent > cpuThreshold {
		nm.logger.Warn().Str("node_id", hb.NodeID).Float64("cpu_usage_percent", hb.CPUUsagePercent).Msg("cpu usage alarm")
	}
	if hb.MemoryUsagePercent > memThreshold {
		nm.logger.Warn().Str("node_id", hb.NodeID).Float64("memory_usage_percent", hb.MemoryUsagePercent).Msg("memory usage alarm")
	}
	if hb.DiskUsagePercent > diskThreshold {
		nm.logger.Warn().Str("node_id", hb.NodeID).Float64("disk_usage_percent", hb.DiskUsagePercent).Msg("disk usage alarm")
	}
	return nil
}

// ListHealthyNodes returns every node currently marked healthy.
func (nm *NodeManager) ListHealthyNodes(ctx context.Context) ([]types.Node, error) {
	nodes, err := nm.store.ListNodes()
	if err != nil {
		return nil, err
	}
	var healthy []types.Node
	for _, n := range nodes {
		if n.Healthy {
			healthy = append(healthy, *n)
		}
	}
	return healthy, nil
}

// GetAllNodes returns every node regardless of health.
func (nm *NodeManager) GetAllNodes(ctx context.Context) ([]types.Node, error) {
	nodes, err := nm.store.ListNodes()
	if err != nil {
		return nil, err
	}
	out := make([]types.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *n)
	}
	return out, nil
}

// GetNode returns a single node by id.
func (nm *NodeManager) GetNode(ctx context.Context, id string) (types.Node, error) {
	n, err := nm.store.GetNode(id)
	if err != nil {
		return types.Node{}, err
	}
	return *n, nil
}

// GetNodeAllocations returns every allocation currently targeting nodeID.
func (nm *NodeManager) GetNodeAllocations(ctx context.Context, nodeID string) ([]types.Allocation, error) {
	allocs, err := nm.store.ListAllocationsByNode(nodeID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Allocation, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, *a)
	}
	return out, nil
}

// SubmitJob upserts spec as a job. If spec.ID already exists, the stored
// job's status is preserved (submission never resets progress); otherwise
// the job is inserted at pending. Returns the job id, whether this was an
// update to an existing job, and the job's spec exactly as it was stored
// before this call (nil for a first submission) — callers that need to
// diff the old spec against the new one (the scheduler's evaluation) must
// capture it here, since once this call returns the old row is gone.
func (nm *NodeManager) SubmitJob(ctx context.Context, spec types.Job) (jobID string, isUpdate bool, previous *types.Job, err error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := time.Now()
	if spec.ID != "" {
		if existing, gerr := nm.store.GetJob(spec.ID); gerr == nil {
			previousSpec := *existing
			spec.Status = existing.Status
			spec.CreatedAt = existing.CreatedAt
			spec.UpdatedAt = now
			if err := nm.store.UpsertJob(&spec); err != nil {
				return "", false, nil, fmt.Errorf("update job %s: %w", spec.ID, err)
			}
			return spec.ID, true, &previousSpec, nil
		}
	}

	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	spec.Status = types.JobPending
	spec.CreatedAt = now
	spec.UpdatedAt = now
	if err := nm.store.UpsertJob(&spec); err != nil {
		return "", false, nil, fmt.Errorf("submit job %s: %w", spec.ID, err)
	}
	return spec.ID, false, nil, nil
}

// GetJob returns a job by id.
func (nm *NodeManager) GetJob(ctx context.Context, id string) (types.Job, error) {
	j, err := nm.store.GetJob(id)
	if err != nil {
		return types.Job{}, err
	}
	return *j, nil
}

// GetJobAllocations returns a job's allocations.
func (nm *NodeManager) GetJobAllocations(ctx context.Context, jobID string) ([]types.Allocation, error) {
	allocs, err := nm.store.ListAllocationsByJob(jobID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Allocation, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, *a)
	}
	return out, nil
}

// GetJobInfo returns a job with its allocations, each carrying their task
// statuses.
func (nm *NodeManager) GetJobInfo(ctx context.Context, id string) (types.JobInfo, error) {
	job, err := nm.GetJob(ctx, id)
	if err != nil {
		return types.JobInfo{}, err
	}
	return nm.buildJobInfo(job)
}

// GetAllJobs returns every job, each with nested allocations and task
// statuses.
func (nm *NodeManager) GetAllJobs(ctx context.Context) ([]types.JobInfo, error) {
	jobs, err := nm.store.ListJobs()
	if err != nil {
		return nil, err
	}
	out := make([]types.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info, err := nm.buildJobInfo(*j)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (nm *NodeManager) buildJobInfo(job types.Job) (types.JobInfo, error) {
	allocs, err := nm.store.ListAllocationsByJob(job.ID)
	if err != nil {
		return types.JobInfo{}, err
	}
	infos := make([]types.AllocationInfo, 0, len(allocs))
	for _, a := range allocs {
		statuses, err := nm.store.ListTaskStatusesByAllocation(a.ID)
		if err != nil {
			return types.JobInfo{}, err
		}
		ts := make([]types.TaskStatus, 0, len(statuses))
		for _, s := range statuses {
			ts = append(ts, *s)
		}
		infos = append(infos, types.AllocationInfo{Allocation: *a, Tasks: ts})
	}
	return types.JobInfo{Job: job, AllocationInfos: infos}, nil
}

// UpdateAllocation upserts alloc and recomputes the owning job's status.
func (nm *NodeManager) UpdateAllocation(ctx context.Context, alloc types.Allocation) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if err := nm.store.UpsertAllocation(&alloc); err != nil {
		return fmt.Errorf("update allocation %s: %w", alloc.ID, err)
	}
	return nm.recomputeJobStatusLocked(alloc.JobID)
}

// DeleteAllocation removes an allocation row. ok reports success; if
// notifyAgent is true and the row existed, nodeID is the agent host the
// caller should notify with a stop directive. Deleting a non-existent
// allocation is a no-op success (ok true, nodeID empty).
func (nm *NodeManager) DeleteAllocation(ctx context.Context, allocationID string, notifyAgent bool) (ok bool, nodeID string, err error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	alloc, err := nm.store.GetAllocation(allocationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return true, "", nil
		}
		return false, "", err
	}

	if err := nm.store.DeleteTaskStatusesByAllocation(allocationID); err != nil {
		return false, "", fmt.Errorf("delete task statuses for %s: %w", allocationID, err)
	}
	if err := nm.store.DeleteAllocation(allocationID); err != nil {
		return false, "", fmt.Errorf("delete allocation %s: %w", allocationID, err)
	}

	if err := nm.recomputeJobStatusLocked(alloc.JobID); err != nil {
		nm.logger.Error().Err(err).Str("job_id", alloc.JobID).Msg("failed to recompute job status after delete")
	}

	if notifyAgent {
		return true, alloc.NodeID, nil
	}
	return true, "", nil
}

// MarkJobDead sets the job's status to dead and returns its current
// allocations so the caller (the executor) can stop them.
func (nm *NodeManager) MarkJobDead(ctx context.Context, jobID string) ([]types.Allocation, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	job, err := nm.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	job.Status = types.JobDead
	job.UpdatedAt = time.Now()
	if err := nm.store.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("mark job %s dead: %w", jobID, err)
	}

	allocs, err := nm.store.ListAllocationsByJob(jobID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Allocation, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, *a)
	}
	return out, nil
}

// CleanJobData removes every task-status, allocation, and job row for
// jobID. It does not talk to agents; the caller is responsible for having
// stopped the job's allocations first.
func (nm *NodeManager) CleanJobData(ctx context.Context, jobID string) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	allocs, err := nm.store.ListAllocationsByJob(jobID)
	if err != nil {
		return err
	}
	for _, a := range allocs {
		if err := nm.store.DeleteTaskStatusesByAllocation(a.ID); err != nil {
			return err
		}
		if err := nm.store.DeleteAllocation(a.ID); err != nil {
			return err
		}
	}
	if err := nm.store.DeleteJob(jobID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// ClearAll wipes every stored entity. Test-only: exposed for the control
// plane's /test/clear-all reset endpoint.
func (nm *NodeManager) ClearAll(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.store.ClearAll()
}

// SweepUnhealthyNodes marks every node whose last heartbeat is older than
// timeout as unhealthy, cascades every non-terminal allocation on such a
// node to lost (along with its non-terminal task-status rows), and
// recomputes the status of every affected job. It returns the ids of nodes
// newly marked unhealthy by this call.
func (nm *NodeManager) SweepUnhealthyNodes(ctx context.Context, timeout time.Duration) ([]string, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nodes, err := nm.store.ListNodes()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	newlyUnhealthy := make(map[string]struct{})
	for _, n := range nodes {
		if n.Healthy && now.Sub(n.LastHeartbeat) > timeout {
			n.Healthy = false
			if err := nm.store.UpsertNode(n); err != nil {
				return nil, fmt.Errorf("mark node %s unhealthy: %w", n.ID, err)
			}
			newlyUnhealthy[n.ID] = struct{}{}
			nm.logger.Warn().Str("node_id", n.ID).Time("last_heartbeat", n.LastHeartbeat).Msg("node timed out, marked unhealthy")
		}
	}
	if len(newlyUnhealthy) == 0 {
		return nil, nil
	}

	allocs, err := nm.store.ListAllocations()
	if err != nil {
		return nil, err
	}
	affectedJobs := make(map[string]struct{})
	for _, a := range allocs {
		if _, down := newlyUnhealthy[a.NodeID]; !down {
			continue
		}
		if a.Status.Terminal() {
			continue
		}
		a.Status = types.AllocLost
		a.EndTime = now
		if err := nm.store.UpsertAllocation(a); err != nil {
			return nil, fmt.Errorf("mark allocation %s lost: %w", a.ID, err)
		}
		affectedJobs[a.JobID] = struct{}{}

		statuses, err := nm.store.ListTaskStatusesByAllocation(a.ID)
		if err != nil {
			return nil, err
		}
		for _, ts := range statuses {
			if ts.Status == types.TaskComplete || ts.Status == types.TaskFailed || ts.Status == types.TaskLost {
				continue
			}
			ts.Status = types.TaskLost
			ts.EndTime = now
			if err := nm.store.UpsertTaskStatus(ts); err != nil {
				return nil, fmt.Errorf("mark task status %s/%s lost: %w", a.ID, ts.TaskName, err)
			}
		}
	}

	ids := make([]string, 0, len(newlyUnhealthy))
	for id := range newlyUnhealthy {
		ids = append(ids, id)
	}

	for jobID := range affectedJobs {
		if err := nm.recomputeJobStatusLocked(jobID); err != nil {
			nm.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to recompute job status after sweep")
		}
	}
	return ids, nil
}

// RecomputeJobStatus is the public, lock-acquiring entry point for callers
// outside this package.
func (nm *NodeManager) RecomputeJobStatus(ctx context.Context, jobID string) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.recomputeJobStatusLocked(jobID)
}

// recomputeJobStatusLocked re-derives and persists a job's status. Callers
// must hold nm.mu.
func (nm *NodeManager) recomputeJobStatusLocked(jobID string) error {
	job, err := nm.store.GetJob(jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	// A job explicitly marked dead never has its status re-derived from
	// allocation state; only MarkJobDead/SubmitJob change it from here.
	if job.Status == types.JobDead {
		return nil
	}

	allocs, err := nm.store.ListAllocationsByJob(jobID)
	if err != nil {
		return err
	}
	allocValues := make([]types.Allocation, 0, len(allocs))
	for _, a := range allocs {
		allocValues = append(allocValues, *a)
	}

	sufficient, err := nm.sufficientResources(*job)
	if err != nil {
		nm.logger.Warn().Err(err).Str("job_id", jobID).Msg("sufficient-resources check failed, assuming insufficient")
		sufficient = false
	}

	newStatus := DeriveJobStatus(allocValues, sufficient)
	if newStatus == "" || newStatus == job.Status {
		return nil
	}
	job.Status = newStatus
	job.UpdatedAt = time.Now()
	return nm.store.UpsertJob(job)
}

// sufficientResources implements §4.1's "sufficient resources" test: for
// each task group, at least one healthy node must have enough remaining
// capacity after subtracting the demand of the running allocations already
// placed on it.
func (nm *NodeManager) sufficientResources(job types.Job) (bool, error) {
	if len(job.TaskGroups) == 0 {
		return true, nil
	}

	nodes, err := nm.store.ListNodes()
	if err != nil {
		return false, err
	}
	allocs, err := nm.store.ListAllocations()
	if err != nil {
		return false, err
	}

	jobCache := map[string]*types.Job{job.ID: &job}
	nodeDemand := make(map[string]types.Resources, len(nodes))
	for _, a := range allocs {
		if a.Status != types.AllocRunning {
			continue
		}
		j, ok := jobCache[a.JobID]
		if !ok {
			j, err = nm.store.GetJob(a.JobID)
			if err != nil {
				continue
			}
			jobCache[a.JobID] = j
		}
		g, ok := j.TaskGroupByName(a.TaskGroup)
		if !ok {
			continue
		}
		need := g.TotalResources()
		d := nodeDemand[a.NodeID]
		d.CPU += need.CPU
		d.Memory += need.Memory
		nodeDemand[a.NodeID] = d
	}

	for _, g := range job.TaskGroups {
		need := g.TotalResources()
		satisfied := false
		for _, n := range nodes {
			if !n.Healthy {
				continue
			}
			avail := n.Resources.Available()
			d := nodeDemand[n.ID]
			avail.CPU -= d.CPU
			avail.Memory -= d.Memory
			if avail.CPU >= need.CPU && avail.Memory >= need.Memory {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false, nil
		}
	}
	return true, nil
}

// DeriveJobStatus is the single pure function that folds a job's
// allocation statuses (plus whether it could currently be placed) into an
// aggregate job status. It returns "" when the multiset is empty, meaning
// the caller should leave the job's current status untouched.
func DeriveJobStatus(allocs []types.Allocation, resourcesSufficient bool) types.JobStatus {
	if len(allocs) == 0 {
		return ""
	}

	var pending, running, complete, failed, lost, stopped int
	for _, a := range allocs {
		switch a.Status {
		case types.AllocPending:
			pending++
		case types.AllocRunning:
			running++
		case types.AllocComplete:
			complete++
		case types.AllocFailed:
			failed++
		case types.AllocLost:
			lost++
		case types.AllocStopped:
			stopped++
		}
	}
	total := len(allocs)

	switch {
	case lost == total:
		return types.JobLost
	case failed == total:
		return types.JobFailed
	case running > 0 && (failed > 0 || lost > 0):
		return types.JobDegraded
	case running > 0:
		return types.JobRunning
	case pending == total:
		if resourcesSufficient {
			return types.JobPending
		}
		return types.JobBlocked
	case complete+stopped == total:
		return types.JobComplete
	case failed > 0 || lost > 0:
		// Mixed terminal-failure and not-yet-started allocations: the
		// source material never specifies this combination explicitly;
		// treat it the same as the "running + failed/lost" case.
		return types.JobDegraded
	case pending > 0:
		if resourcesSufficient {
			return types.JobPending
		}
		return types.JobBlocked
	default:
		return types.JobComplete
	}
}
