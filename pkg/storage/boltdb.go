package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/basinlabs/warden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes       = []byte("nodes")
	bucketJobs        = []byte("jobs")
	bucketAllocations = []byte("allocations")
	bucketTaskStatus  = []byte("task_status")
	bucketTemplates   = []byte("job_templates")

	allBuckets = [][]byte{bucketNodes, bucketJobs, bucketAllocations, bucketTaskStatus, bucketTemplates}
)

// BoltStore implements Store using a local bbolt file, one bucket per
// entity, JSON-encoded values keyed by the entity's primary id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the warden.db file under
// dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "warden.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// ClearAll deletes and recreates every bucket, wiping all stored state.
func (s *BoltStore) ClearAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("clear bucket %s: %w", bucket, err)
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return fmt.Errorf("recreate bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// taskStatusKey composes the (allocation_id, task_name) primary key.
func taskStatusKey(allocationID, taskName string) []byte {
	return []byte(allocationID + "\x00" + taskName)
}

// Node operations

func (s *BoltStore) UpsertNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

// Job operations

func (s *BoltStore) UpsertJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
}

// Allocation operations

func (s *BoltStore) UpsertAllocation(alloc *types.Allocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(alloc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAllocations).Put([]byte(alloc.ID), data)
	})
}

func (s *BoltStore) GetAllocation(id string) (*types.Allocation, error) {
	var alloc types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAllocations).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &alloc)
	})
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

func (s *BoltStore) ListAllocations() ([]*types.Allocation, error) {
	var allocs []*types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).ForEach(func(k, v []byte) error {
			var alloc types.Allocation
			if err := json.Unmarshal(v, &alloc); err != nil {
				return err
			}
			allocs = append(allocs, &alloc)
			return nil
		})
	})
	return allocs, err
}

func (s *BoltStore) ListAllocationsByJob(jobID string) ([]*types.Allocation, error) {
	allocs, err := s.ListAllocations()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Allocation
	for _, a := range allocs {
		if a.JobID == jobID {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListAllocationsByNode(nodeID string) ([]*types.Allocation, error) {
	allocs, err := s.ListAllocations()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Allocation
	for _, a := range allocs {
		if a.NodeID == nodeID {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

func (s *BoltStore) DeleteAllocation(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).Delete([]byte(id))
	})
}

// Task status operations

func (s *BoltStore) UpsertTaskStatus(status *types.TaskStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTaskStatus).Put(taskStatusKey(status.AllocationID, status.TaskName), data)
	})
}

func (s *BoltStore) ListTaskStatusesByAllocation(allocationID string) ([]*types.TaskStatus, error) {
	var statuses []*types.TaskStatus
	prefix := []byte(allocationID + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTaskStatus).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var status types.TaskStatus
			if err := json.Unmarshal(v, &status); err != nil {
				return err
			}
			statuses = append(statuses, &status)
		}
		return nil
	})
	return statuses, err
}

func (s *BoltStore) DeleteTaskStatusesByAllocation(allocationID string) error {
	prefix := []byte(allocationID + "\x00")
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskStatus)
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Job template operations

func (s *BoltStore) UpsertTemplate(tmpl *types.JobTemplate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(tmpl)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTemplates).Put([]byte(tmpl.ID), data)
	})
}

func (s *BoltStore) GetTemplate(id string) (*types.JobTemplate, error) {
	var tmpl types.JobTemplate
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &tmpl)
	})
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (s *BoltStore) ListTemplates() ([]*types.JobTemplate, error) {
	var tmpls []*types.JobTemplate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(k, v []byte) error {
			var tmpl types.JobTemplate
			if err := json.Unmarshal(v, &tmpl); err != nil {
				return err
			}
			tmpls = append(tmpls, &tmpl)
			return nil
		})
	})
	return tmpls, err
}

func (s *BoltStore) DeleteTemplate(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).Delete([]byte(id))
	})
}
