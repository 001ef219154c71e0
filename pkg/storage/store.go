// Package storage defines the transactional persistence layer for nodes,
// jobs, allocations, per-task status, and job templates.
package storage

import (
	"errors"

	"github.com/basinlabs/warden/pkg/types"
)

// ErrNotFound is returned by Get* methods when the requested row does not
// exist. NodeManager re-exports it as ErrNotFound, and the API layer maps
// it to a 404 response.
var ErrNotFound = errors.New("storage: not found")

// Store is the transactional key/row store the control plane runs on.
// NodeManager is the only component permitted to call it directly.
type Store interface {
	// Nodes
	UpsertNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)

	// Jobs
	UpsertJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	DeleteJob(id string) error

	// Allocations
	UpsertAllocation(alloc *types.Allocation) error
	GetAllocation(id string) (*types.Allocation, error)
	ListAllocations() ([]*types.Allocation, error)
	ListAllocationsByJob(jobID string) ([]*types.Allocation, error)
	ListAllocationsByNode(nodeID string) ([]*types.Allocation, error)
	DeleteAllocation(id string) error

	// Task status
	UpsertTaskStatus(status *types.TaskStatus) error
	ListTaskStatusesByAllocation(allocationID string) ([]*types.TaskStatus, error)
	DeleteTaskStatusesByAllocation(allocationID string) error

	// Job templates
	UpsertTemplate(tmpl *types.JobTemplate) error
	GetTemplate(id string) (*types.JobTemplate, error)
	ListTemplates() ([]*types.JobTemplate, error)
	DeleteTemplate(id string) error

	// ClearAll empties every bucket. Test-only: wired to the control
	// plane's /test/clear-all reset endpoint, never called from
	// production request paths.
	ClearAll() error

	// Close releases underlying resources (e.g. the bbolt file handle).
	Close() error
}
