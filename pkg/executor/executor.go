// Package executor applies plans produced by the scheduler: a single queue
// of plans and one worker that, for each plan, removes deleted allocations
// before delivering new ones to the agents that must run them.
package executor

import (
	"context"
	"sync"

	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/metrics"
	"github.com/basinlabs/warden/pkg/nodemanager"
	"github.com/basinlabs/warden/pkg/scheduler"
	"github.com/basinlabs/warden/pkg/transport"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/rs/zerolog"
)

// Executor owns the plan-apply queue. Not safe to Open twice without an
// intervening Close.
type Executor struct {
	nodeManager *nodemanager.NodeManager
	transport   transport.AgentTransport
	planIn      <-chan scheduler.JobPlan

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New builds an executor that drains planIn.
func New(nm *nodemanager.NodeManager, at transport.AgentTransport, planIn <-chan scheduler.JobPlan) *Executor {
	return &Executor{
		nodeManager: nm,
		transport:   at,
		planIn:      planIn,
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("executor"),
	}
}

// Open starts the single apply worker.
func (e *Executor) Open() {
	e.wg.Add(1)
	go e.run()
}

// Close stops the worker and waits for its current plan to finish applying.
func (e *Executor) Close() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case jp, ok := <-e.planIn:
			if !ok {
				return
			}
			e.apply(jp)
		case <-e.stopCh:
			return
		}
	}
}

// apply runs one plan's deletes, then its creates. Every step is
// best-effort: a single failed agent call never aborts the rest of the
// plan.
func (e *Executor) apply(jp scheduler.JobPlan) {
	ctx := context.Background()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlanApplyDuration)

	for _, allocID := range jp.Plan.Deletes {
		e.deleteAllocation(ctx, allocID)
	}
	for _, alloc := range jp.Plan.Creates {
		e.createAllocation(ctx, jp.JobID, alloc)
	}
}

// deleteAllocation removes alloc from the store and, best-effort, tells its
// node's agent to stop it. The row is removed regardless of whether the
// agent could be reached.
func (e *Executor) deleteAllocation(ctx context.Context, allocID string) {
	ok, nodeID, err := e.nodeManager.DeleteAllocation(ctx, allocID, true)
	if err != nil {
		e.logger.Error().Err(err).Str("allocation_id", allocID).Msg("failed to delete allocation row")
		return
	}
	if !ok || nodeID == "" {
		return
	}
	e.notifyStop(ctx, nodeID, allocID)
}

// notifyStop sends a best-effort stop directive to the agent on nodeID.
func (e *Executor) notifyStop(ctx context.Context, nodeID, allocID string) {
	node, err := e.nodeManager.GetNode(ctx, nodeID)
	if err != nil {
		e.logger.Warn().Err(err).Str("node_id", nodeID).Str("allocation_id", allocID).Msg("could not reach node, allocation row still removed")
		return
	}
	if err := e.transport.Stop(ctx, node.Endpoint, allocID); err != nil {
		e.logger.Warn().Err(err).Str("node_id", nodeID).Str("allocation_id", allocID).Msg("agent stop notification failed, allocation row still removed")
	}
}

// createAllocation delivers a newly planned allocation to its target node's
// agent, persisting the outcome either way.
func (e *Executor) createAllocation(ctx context.Context, jobID string, alloc types.Allocation) {
	job, err := e.nodeManager.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("job vanished before allocation could be created")
		return
	}
	group, ok := job.TaskGroupByName(alloc.TaskGroup)
	if !ok {
		e.logger.Error().Str("job_id", jobID).Str("task_group", alloc.TaskGroup).Msg("task group vanished before allocation could be created")
		return
	}
	node, err := e.nodeManager.GetNode(ctx, alloc.NodeID)
	if err != nil {
		e.logger.Error().Err(err).Str("node_id", alloc.NodeID).Msg("node vanished before allocation could be created")
		alloc.Status = types.AllocFailed
		_ = e.nodeManager.UpdateAllocation(ctx, alloc)
		metrics.AllocationsFailed.Inc()
		return
	}

	alloc.Status = types.AllocRunning
	if err := e.transport.Start(ctx, node.Endpoint, alloc, group); err != nil {
		e.logger.Warn().Err(err).Str("allocation_id", alloc.ID).Str("node_id", node.ID).Msg("agent rejected allocation")
		alloc.Status = types.AllocFailed
		metrics.AllocationsFailed.Inc()
	} else {
		metrics.AllocationsPlaced.Inc()
	}

	if err := e.nodeManager.UpdateAllocation(ctx, alloc); err != nil {
		e.logger.Error().Err(err).Str("allocation_id", alloc.ID).Msg("failed to persist allocation outcome")
	}
}

// StopJob marks jobID dead and best-effort notifies every agent running one
// of its allocations, then removes the allocation rows without a second
// notification round.
func (e *Executor) StopJob(ctx context.Context, jobID string) error {
	allocs, err := e.nodeManager.MarkJobDead(ctx, jobID)
	if err != nil {
		return err
	}
	for _, a := range allocs {
		e.notifyStop(ctx, a.NodeID, a.ID)
		if _, _, err := e.nodeManager.DeleteAllocation(ctx, a.ID, false); err != nil {
			e.logger.Error().Err(err).Str("allocation_id", a.ID).Msg("failed to remove allocation row while stopping job")
		}
	}
	return nil
}

// DeleteJob stops jobID, then removes every residual row the job owns.
func (e *Executor) DeleteJob(ctx context.Context, jobID string) error {
	if err := e.StopJob(ctx, jobID); err != nil {
		return err
	}
	return e.nodeManager.CleanJobData(ctx, jobID)
}
