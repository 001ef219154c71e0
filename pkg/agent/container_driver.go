package agent

import (
	"context"
	"fmt"

	"github.com/basinlabs/warden/pkg/runtime"
	"github.com/basinlabs/warden/pkg/types"
)

// containerDriver runs a task as a containerd-managed container. On any
// error while pulling, creating, or starting, Start returns that error so
// the supervisor can record the task as failed with the message.
type containerDriver struct {
	runtime     *runtime.ContainerdRuntime
	alloc       types.Allocation
	task        types.Task
	containerID string
}

func (d *containerDriver) Start(ctx context.Context) error {
	image := d.task.Image()
	if err := d.runtime.PullImage(ctx, image); err != nil {
		return err
	}

	spec := runtime.Spec{
		Image:  image,
		CPU:    d.task.Resources.CPU,
		Memory: d.task.Resources.Memory,
	}
	if hostPort, ok := d.task.Port(); ok {
		spec.HasMapping = true
		spec.HostPort = hostPort
	}

	if err := d.runtime.CreateAndStart(ctx, d.containerID, spec); err != nil {
		return err
	}
	return nil
}

func (d *containerDriver) Observe(ctx context.Context) (types.TaskRunStatus, *int, string, error) {
	status, err := d.runtime.GetStatus(ctx, d.containerID)
	if err != nil {
		return "", nil, "", err
	}
	switch {
	case status.NotFound:
		return types.TaskFailed, nil, "container not found", nil
	case status.Running:
		return types.TaskRunning, nil, "", nil
	case status.Exited:
		code := int(status.ExitCode)
		if code == 0 {
			return types.TaskComplete, intPtr(code), "", nil
		}
		return types.TaskFailed, intPtr(code), fmt.Sprintf("container exited with code %d", code), nil
	default:
		return types.TaskPending, nil, "", nil
	}
}

func (d *containerDriver) Stop(ctx context.Context) error {
	return d.runtime.Stop(ctx, d.containerID, containerStopGrace)
}
