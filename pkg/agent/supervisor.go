package agent

import (
	"context"
	"sync"
	"time"

	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/runtime"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/rs/zerolog"
)

type taskKey struct {
	allocationID string
	taskName     string
}

// localAllocation is the agent's own view of one placed allocation: its
// aggregate status plus each task's last-observed status. This is the
// source material for the heartbeat payload and the agent's status
// endpoint.
type localAllocation struct {
	alloc types.Allocation
	group types.TaskGroup
	tasks map[string]types.TaskStatusPayload
}

// TaskSupervisor holds the active set of task drivers, at most one per
// (allocation_id, task_name), exactly as the teacher's worker.containers
// map enforces invariant 5 for containers.
type TaskSupervisor struct {
	runtime *runtime.ContainerdRuntime

	mu      sync.Mutex
	drivers map[taskKey]TaskDriver
	allocs  map[string]*localAllocation

	logger zerolog.Logger
}

// NewTaskSupervisor builds a supervisor that creates container tasks
// through rt (may be nil if this agent never runs container tasks).
func NewTaskSupervisor(rt *runtime.ContainerdRuntime) *TaskSupervisor {
	return &TaskSupervisor{
		runtime: rt,
		drivers: make(map[taskKey]TaskDriver),
		allocs:  make(map[string]*localAllocation),
		logger:  log.WithComponent("task-supervisor"),
	}
}

// Place starts every task in group for alloc. The allocation is marked
// running immediately; per-task failures surface on the next Observe pass
// (or, for synchronous start errors, are recorded before Place returns).
func (s *TaskSupervisor) Place(ctx context.Context, alloc types.Allocation, group types.TaskGroup) {
	now := time.Now()
	alloc.Status = types.AllocRunning
	alloc.StartTime = now

	local := &localAllocation{alloc: alloc, group: group, tasks: make(map[string]types.TaskStatusPayload, len(group.Tasks))}

	s.mu.Lock()
	s.allocs[alloc.ID] = local
	s.mu.Unlock()

	for _, task := range group.Tasks {
		s.startTask(ctx, alloc, task)
	}
}

func (s *TaskSupervisor) startTask(ctx context.Context, alloc types.Allocation, task types.Task) {
	key := taskKey{allocationID: alloc.ID, taskName: task.Name}
	driver := newDriver(s.runtime, alloc, task)

	s.mu.Lock()
	s.drivers[key] = driver
	s.allocs[alloc.ID].tasks[task.Name] = types.TaskStatusPayload{Status: types.TaskRunning, StartTime: time.Now()}
	s.mu.Unlock()

	if err := driver.Start(ctx); err != nil {
		s.logger.Error().Err(err).Str("allocation_id", alloc.ID).Str("task", task.Name).Msg("task start failed")
		s.mu.Lock()
		s.allocs[alloc.ID].tasks[task.Name] = types.TaskStatusPayload{Status: types.TaskFailed, Message: err.Error(), EndTime: time.Now()}
		s.mu.Unlock()
	}
}

// ObserveAll polls every active task driver and recomputes each affected
// allocation's aggregate status.
func (s *TaskSupervisor) ObserveAll(ctx context.Context) {
	s.mu.Lock()
	keys := make([]taskKey, 0, len(s.drivers))
	drivers := make([]TaskDriver, 0, len(s.drivers))
	for k, d := range s.drivers {
		keys = append(keys, k)
		drivers = append(drivers, d)
	}
	s.mu.Unlock()

	for i, key := range keys {
		status, exitCode, message, err := drivers[i].Observe(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("allocation_id", key.allocationID).Str("task", key.taskName).Msg("observe failed")
			continue
		}
		s.recordTaskStatus(key, status, exitCode, message)
	}
}

func (s *TaskSupervisor) recordTaskStatus(key taskKey, status types.TaskRunStatus, exitCode *int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local, ok := s.allocs[key.allocationID]
	if !ok {
		return
	}
	prev := local.tasks[key.taskName]
	payload := types.TaskStatusPayload{Status: status, StartTime: prev.StartTime, ExitCode: exitCode, Message: message}
	if status == types.TaskComplete || status == types.TaskFailed || status == types.TaskLost {
		payload.EndTime = time.Now()
	}
	local.tasks[key.taskName] = payload

	local.alloc.Status = aggregateStatus(local.tasks)
	if local.alloc.Status.Terminal() && local.alloc.EndTime.IsZero() {
		local.alloc.EndTime = time.Now()
	}
}

// aggregateStatus folds per-task statuses into one allocation status: any
// failed task fails the allocation; all complete completes it; any running
// keeps it running; otherwise it is still pending.
func aggregateStatus(tasks map[string]types.TaskStatusPayload) types.AllocStatus {
	if len(tasks) == 0 {
		return types.AllocPending
	}
	var failed, complete, running int
	for _, t := range tasks {
		switch t.Status {
		case types.TaskFailed, types.TaskLost:
			failed++
		case types.TaskComplete:
			complete++
		case types.TaskRunning:
			running++
		}
	}
	switch {
	case failed > 0:
		return types.AllocFailed
	case complete == len(tasks):
		return types.AllocComplete
	case running > 0:
		return types.AllocRunning
	default:
		return types.AllocPending
	}
}

// Stop stops every task driver for allocationID and marks it stopped
// locally. Returns false if the allocation is not active on this agent.
func (s *TaskSupervisor) Stop(ctx context.Context, allocationID string) bool {
	s.mu.Lock()
	local, ok := s.allocs[allocationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var drivers []TaskDriver
	for key, d := range s.drivers {
		if key.allocationID == allocationID {
			drivers = append(drivers, d)
			delete(s.drivers, key)
		}
	}
	s.mu.Unlock()

	for _, d := range drivers {
		if err := d.Stop(ctx); err != nil {
			s.logger.Warn().Err(err).Str("allocation_id", allocationID).Msg("driver stop failed")
		}
	}

	s.mu.Lock()
	local.alloc.Status = types.AllocStopped
	local.alloc.EndTime = time.Now()
	s.mu.Unlock()
	return true
}

// Remove drops allocationID from the active set entirely. The stop
// directive handler calls it right after Stop, so later heartbeats no
// longer carry the allocation.
func (s *TaskSupervisor) Remove(allocationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allocs, allocationID)
}

// Snapshot returns the current heartbeat payload for allocationID.
func (s *TaskSupervisor) Snapshot(allocationID string) (types.AllocationHeartbeat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	local, ok := s.allocs[allocationID]
	if !ok {
		return types.AllocationHeartbeat{}, false
	}
	return snapshotLocked(local), true
}

// SnapshotAll returns the heartbeat payload for every allocation this agent
// is currently running.
func (s *TaskSupervisor) SnapshotAll() map[string]types.AllocationHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.AllocationHeartbeat, len(s.allocs))
	for id, local := range s.allocs {
		out[id] = snapshotLocked(local)
	}
	return out
}

func snapshotLocked(local *localAllocation) types.AllocationHeartbeat {
	tasks := make(map[string]types.TaskStatusPayload, len(local.tasks))
	for name, t := range local.tasks {
		tasks[name] = t
	}
	return types.AllocationHeartbeat{
		Status:    local.alloc.Status,
		StartTime: local.alloc.StartTime,
		EndTime:   local.alloc.EndTime,
		Tasks:     tasks,
	}
}
