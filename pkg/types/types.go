// Package types defines the core data structures shared across warden's
// control plane and agent: nodes, jobs, task groups, tasks, allocations,
// and their runtime status.
package types

import "time"

// NodeStatus represents the liveness of a registered node.
type NodeStatus string

const (
	NodeHealthy   NodeStatus = "healthy"
	NodeUnhealthy NodeStatus = "unhealthy"
)

// Resources tracks integer resource capacity or demand.
//
// CPU is reported in tenths of a percent of a virtual core and memory in
// megabytes, matching the wire format agents report in heartbeats.
type Resources struct {
	CPU    int64 `json:"cpu"`
	Memory int64 `json:"memory"`
}

// NodeResources tracks a node's total capacity alongside the used amounts
// its agent reports at registration and in each heartbeat.
type NodeResources struct {
	CPU        int64 `json:"cpu"`
	Memory     int64 `json:"memory"`
	CPUUsed    int64 `json:"cpu_used"`
	MemoryUsed int64 `json:"memory_used"`
}

// Available returns remaining capacity after subtracting reservations.
func (r NodeResources) Available() Resources {
	return Resources{CPU: r.CPU - r.CPUUsed, Memory: r.Memory - r.MemoryUsed}
}

// Node is a machine running a warden agent.
type Node struct {
	ID            string            `json:"node_id"`
	IPAddress     string            `json:"ip_address"`
	Endpoint      string            `json:"endpoint"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Resources     NodeResources     `json:"resources"`
	Healthy       bool              `json:"healthy"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// JobStatus is the aggregate derived status of a job.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
	JobLost     JobStatus = "lost"
	JobDead     JobStatus = "dead"
	JobDegraded JobStatus = "degraded"
	JobBlocked  JobStatus = "blocked"
)

// ConstraintOperator is the comparison applied between a node attribute and
// a constraint's value.
type ConstraintOperator string

const (
	ConstraintEqual    ConstraintOperator = "="
	ConstraintNotEqual ConstraintOperator = "!="
	ConstraintGreater  ConstraintOperator = ">"
	ConstraintLess     ConstraintOperator = "<"
	ConstraintRegex    ConstraintOperator = "regex"
)

// Constraint restricts placement to nodes whose attribute satisfies the
// operator against value.
type Constraint struct {
	Attribute string             `json:"attribute"`
	Operator  ConstraintOperator `json:"operator"`
	Value     string             `json:"value"`
}

// Task is a single process or container within a task group.
//
// A task is a container task when Config carries an "image" key; otherwise
// it is a process task launched from Config["command"].
type Task struct {
	Name      string         `json:"name"`
	Resources Resources      `json:"resources"`
	Config    map[string]any `json:"config"`
}

// Image returns the container image for the task, or "" if this is a
// process task.
func (t Task) Image() string {
	if v, ok := t.Config["image"].(string); ok {
		return v
	}
	return ""
}

// IsContainer reports whether the task launches a container rather than an
// OS process.
func (t Task) IsContainer() bool {
	return t.Image() != ""
}

// Command returns the shell command for a process task.
func (t Task) Command() string {
	if v, ok := t.Config["command"].(string); ok {
		return v
	}
	return ""
}

// Port returns the configured container->host port mapping, if any.
func (t Task) Port() (hostPort int, ok bool) {
	switch v := t.Config["port"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// TaskGroup is a named set of tasks that must land together on one node.
type TaskGroup struct {
	Name        string       `json:"name"`
	Tasks       []Task       `json:"tasks"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

// TotalResources sums the resource demand of every task in the group.
func (g TaskGroup) TotalResources() Resources {
	var out Resources
	for _, t := range g.Tasks {
		out.CPU += t.Resources.CPU
		out.Memory += t.Resources.Memory
	}
	return out
}

// Job is a user-submitted collection of task groups.
type Job struct {
	ID          string       `json:"job_id"`
	TaskGroups  []TaskGroup  `json:"task_groups"`
	Constraints []Constraint `json:"constraints,omitempty"`
	Status      JobStatus    `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TaskGroupByName finds a task group in the job by name.
func (j Job) TaskGroupByName(name string) (TaskGroup, bool) {
	for _, g := range j.TaskGroups {
		if g.Name == name {
			return g, true
		}
	}
	return TaskGroup{}, false
}

// AllocStatus is the lifecycle status of an allocation.
type AllocStatus string

const (
	AllocPending  AllocStatus = "pending"
	AllocRunning  AllocStatus = "running"
	AllocComplete AllocStatus = "complete"
	AllocFailed   AllocStatus = "failed"
	AllocLost     AllocStatus = "lost"
	AllocStopped  AllocStatus = "stopped"
)

// Terminal reports whether the allocation status will never transition
// again without external action (a new allocation).
func (s AllocStatus) Terminal() bool {
	switch s {
	case AllocComplete, AllocFailed, AllocLost, AllocStopped:
		return true
	default:
		return false
	}
}

// Allocation is the placement of one task group onto one node.
type Allocation struct {
	ID        string      `json:"allocation_id"`
	JobID     string      `json:"job_id"`
	NodeID    string      `json:"node_id"`
	TaskGroup string      `json:"task_group"`
	Status    AllocStatus `json:"status"`
	StartTime time.Time   `json:"start_time,omitempty"`
	EndTime   time.Time   `json:"end_time,omitempty"`
}

// TaskRunStatus is the lifecycle status of an individual task within an
// allocation, as reported by the agent.
type TaskRunStatus string

const (
	TaskPending  TaskRunStatus = "pending"
	TaskRunning  TaskRunStatus = "running"
	TaskComplete TaskRunStatus = "complete"
	TaskFailed   TaskRunStatus = "failed"
	TaskLost     TaskRunStatus = "lost"
)

// TaskStatus is the per-(allocation, task name) status row.
type TaskStatus struct {
	AllocationID string        `json:"allocation_id"`
	TaskName     string        `json:"task_name"`
	Status       TaskRunStatus `json:"status"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	Message      string        `json:"message,omitempty"`
	StartTime    time.Time     `json:"start_time,omitempty"`
	EndTime      time.Time     `json:"end_time,omitempty"`
}

// AllocationHeartbeat is the per-allocation payload an agent attaches to a
// heartbeat.
type AllocationHeartbeat struct {
	Status    AllocStatus                  `json:"status"`
	StartTime time.Time                    `json:"start_time,omitempty"`
	EndTime   time.Time                    `json:"end_time,omitempty"`
	Tasks     map[string]TaskStatusPayload `json:"tasks"`
}

// TaskStatusPayload is the per-task status carried inside a heartbeat.
type TaskStatusPayload struct {
	Status    TaskRunStatus `json:"status"`
	StartTime time.Time     `json:"start_time,omitempty"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Heartbeat is the payload an agent POSTs to the control plane.
type Heartbeat struct {
	NodeID      string                         `json:"node_id"`
	Resources   NodeResources                  `json:"resources"`
	Healthy     bool                           `json:"healthy"`
	Timestamp   time.Time                      `json:"timestamp"`
	Allocations map[string]AllocationHeartbeat `json:"allocations"`

	// CPUUsagePercent, MemoryUsagePercent and DiskUsagePercent feed the
	// coarse resource-usage alarm in the node manager. They are
	// advisory and do not participate in any state transition.
	CPUUsagePercent    float64 `json:"cpu_usage_percent,omitempty"`
	MemoryUsagePercent float64 `json:"memory_usage_percent,omitempty"`
	DiskUsagePercent   float64 `json:"disk_usage_percent,omitempty"`
}

// JobTemplate is a stored, reusable job specification.
type JobTemplate struct {
	ID          string       `json:"template_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	TaskGroups  []TaskGroup  `json:"task_groups"`
	Constraints []Constraint `json:"constraints,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// JobInfo bundles a job with its current allocations, each carrying its
// per-task statuses, for read APIs.
type JobInfo struct {
	Job             Job              `json:"job"`
	AllocationInfos []AllocationInfo `json:"allocations"`
}

// AllocationInfo bundles an allocation with its per-task statuses.
type AllocationInfo struct {
	Allocation Allocation   `json:"allocation"`
	Tasks      []TaskStatus `json:"tasks"`
}
