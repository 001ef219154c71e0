package agent

import (
	"context"
	"time"

	"github.com/basinlabs/warden/pkg/runtime"
	"github.com/basinlabs/warden/pkg/types"
)

// TaskDriver runs and supervises exactly one task. A driver instance is
// bound to one (allocation_id, task_name) pair for its whole lifetime: a
// fresh Start call always gets a fresh driver, never a reused one.
type TaskDriver interface {
	// Start launches the task. On success the task is considered running
	// immediately; Observe is responsible for later demoting it.
	Start(ctx context.Context) error
	// Observe inspects the underlying runtime and reports the task's
	// current status. exitCode is non-nil only for a terminal status.
	Observe(ctx context.Context) (status types.TaskRunStatus, exitCode *int, message string, err error)
	// Stop requests a graceful stop, escalating to a forceful one if the
	// task does not exit within the driver's own grace period.
	Stop(ctx context.Context) error
}

// intPtr is a small helper so call sites can build *int exit codes inline.
func intPtr(v int) *int { return &v }

const (
	containerStopGrace = 10 * time.Second
	processStopGrace   = 5 * time.Second
)

// newDriver picks the task kind's driver per task.IsContainer(), matching
// the teacher's worker.go dispatch on whether config.image is set.
func newDriver(rt *runtime.ContainerdRuntime, alloc types.Allocation, task types.Task) TaskDriver {
	if task.IsContainer() {
		return &containerDriver{runtime: rt, alloc: alloc, task: task, containerID: alloc.ID + "-" + task.Name}
	}
	return &processDriver{alloc: alloc, task: task}
}
