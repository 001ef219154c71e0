// Package runtime wraps the containerd client with the narrow surface the
// agent's container task driver needs: pull, create+start, status, and
// stop+delete. It carries no knowledge of jobs, allocations, or tasks.
package runtime

import (
	"fmt"
	"syscall"
	"time"

	"context"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
)

const (
	// Namespace is the containerd namespace warden's agent runs tasks in.
	Namespace = "warden"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// cpuPeriod is the CFS quota period used to turn a tenths-of-a-percent
	// CPU demand into a quota, matching the teacher's 100ms period choice.
	cpuPeriod = uint64(100000)
)

// ContainerdRuntime is a thin containerd client scoped to one namespace.
type ContainerdRuntime struct {
	client *containerd.Client
}

// NewContainerdRuntime connects to the containerd socket at socketPath
// (DefaultSocketPath if empty).
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &ContainerdRuntime{client: client}, nil
}

// Close releases the underlying client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// PullImage pulls imageRef, unpacking it for the snapshotter.
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	if _, err := r.client.Pull(r.ctx(ctx), imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}
	return nil
}

// Spec bundles the resource and port-mapping demands of one task into what
// CreateAndStart needs to build an OCI spec. CreateAndStart applies only the
// image, CPU and memory fields; HostPort, TaskPort and HasMapping are carried
// but no port mapping is set up.
type Spec struct {
	Image      string
	CPU        int64 // tenths of a percent of a core
	Memory     int64 // megabytes
	HostPort   int
	TaskPort   int
	HasMapping bool
}

// CreateAndStart creates containerID from spec's image with the requested
// CPU/memory limits and starts it running.
func (r *ContainerdRuntime) CreateAndStart(ctx context.Context, containerID string, spec Spec) error {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return fmt.Errorf("get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{oci.WithImageConfig(image)}
	if spec.CPU > 0 {
		// CPU is tenths of a percent of one core; a full core is 1000.
		quota := int64(float64(spec.CPU) / 1000.0 * float64(cpuPeriod))
		shares := uint64(spec.CPU) * 1024 / 1000
		opts = append(opts, oci.WithCPUCFS(quota, cpuPeriod), oci.WithCPUShares(shares))
	}
	if spec.Memory > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.Memory)*1024*1024))
	}

	container, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("create container %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("create task for %s: %w", containerID, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task for %s: %w", containerID, err)
	}
	return nil
}

// Status is the tri-state the agent's status monitor needs: whether the
// container is still running, has exited (with its exit code), or no
// longer exists.
type Status struct {
	Running  bool
	Exited   bool
	NotFound bool
	ExitCode uint32
}

// GetStatus reports containerID's current state.
func (r *ContainerdRuntime) GetStatus(ctx context.Context, containerID string) (Status, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return Status{NotFound: true}, nil
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return Status{NotFound: true}, nil
	}
	st, err := task.Status(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("task status for %s: %w", containerID, err)
	}
	switch st.Status {
	case containerd.Running, containerd.Paused:
		return Status{Running: true}, nil
	case containerd.Stopped:
		return Status{Exited: true, ExitCode: st.ExitStatus}, nil
	default:
		return Status{Running: true}, nil
	}
}

// Stop sends SIGTERM, waits up to timeout for exit, escalates to SIGKILL,
// then deletes the task and container plus its snapshot.
func (r *ContainerdRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}
	task, err := container.Task(ctx, nil)
	if err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, timeout)
		if killErr := task.Kill(stopCtx, syscall.SIGTERM); killErr == nil {
			statusC, waitErr := task.Wait(stopCtx)
			if waitErr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					_ = task.Kill(ctx, syscall.SIGKILL)
				}
			}
		}
		cancel()
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", containerID, err)
	}
	return nil
}
