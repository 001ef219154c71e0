// Package planner implements the stateless evaluation function that diffs a
// job's desired task groups against its existing allocations and a node
// resource snapshot, producing a plan of allocations to create and delete.
//
// The planner never touches the store: it is a pure function over its
// inputs so that conservation and no-over-booking properties can be tested
// without any I/O.
package planner

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"

	"github.com/basinlabs/warden/pkg/types"
	"github.com/google/uuid"
)

// Plan is the output of one evaluation: allocations to create and
// allocation ids to delete. Applied atomically, deletes before creates.
type Plan struct {
	Creates []types.Allocation
	Deletes []string
	Success bool
}

// nodeState is the planner's local, mutable view of a node's remaining
// capacity during one evaluation. Subtracting from it as groups are placed
// is what prevents two groups in the same evaluation from over-booking a
// node.
type nodeState struct {
	node      types.Node
	remaining types.Resources
}

// Evaluate runs the planning algorithm for newJob.
//
// existingJob is the job's previously stored spec (nil for a first
// submission); existingAllocs are its current allocations; nodes is the
// healthy-node snapshot captured when the evaluation was created.
func Evaluate(newJob types.Job, existingJob *types.Job, existingAllocs []types.Allocation, nodes []types.Node) Plan {
	snapshot := make(map[string]*nodeState, len(nodes))
	for _, n := range nodes {
		snapshot[n.ID] = &nodeState{node: n, remaining: n.Resources.Available()}
	}

	// Pre-subtract allocations that are kept implicitly by groups we have
	// not yet visited is handled inline below; here we only need the
	// initial remaining capacity.

	if len(newJob.TaskGroups) > 0 && !anyHealthy(nodes) {
		return Plan{Success: false}
	}

	allocByGroup := make(map[string]types.Allocation, len(existingAllocs))
	for _, a := range existingAllocs {
		allocByGroup[a.TaskGroup] = a
	}

	var creates []types.Allocation
	var deletes []string
	covered := make(map[string]bool, len(newJob.TaskGroups))
	allCovered := true

	for _, g := range newJob.TaskGroups {
		kept := false

		if existingJob != nil {
			if existingAlloc, ok := allocByGroup[g.Name]; ok {
				prevGroup, hadPrev := existingJob.TaskGroupByName(g.Name)
				unchanged := hadPrev && !tasksChanged(prevGroup.Tasks, g.Tasks)

				if unchanged {
					if ns, ok := snapshot[existingAlloc.NodeID]; ok && nodeSatisfies(ns, g, newJob.Constraints) {
						ns.remaining.CPU -= g.TotalResources().CPU
						ns.remaining.Memory -= g.TotalResources().Memory
						covered[g.Name] = true
						kept = true
					}
				}

				if !kept {
					deletes = append(deletes, existingAlloc.ID)
				}
			}
		}

		if kept {
			continue
		}

		chosen := selectNode(snapshot, g, newJob.Constraints)
		if chosen == nil {
			allCovered = false
			continue
		}

		alloc := types.Allocation{
			ID:        uuid.NewString(),
			JobID:     newJob.ID,
			NodeID:    chosen.node.ID,
			TaskGroup: g.Name,
			Status:    types.AllocPending,
		}
		creates = append(creates, alloc)
		covered[g.Name] = true

		demand := g.TotalResources()
		chosen.remaining.CPU -= demand.CPU
		chosen.remaining.Memory -= demand.Memory
	}

	// Dropped groups: existing allocations whose task group no longer
	// appears in the new spec.
	for _, a := range existingAllocs {
		if _, stillPresent := newJob.TaskGroupByName(a.TaskGroup); !stillPresent {
			deletes = append(deletes, a.ID)
		}
	}

	return Plan{Creates: creates, Deletes: deletes, Success: allCovered}
}

func anyHealthy(nodes []types.Node) bool {
	for _, n := range nodes {
		if n.Healthy {
			return true
		}
	}
	return false
}

// nodeSatisfies reports whether node n (as reflected in its current
// remaining-capacity snapshot) can still host group g given job-level and
// group-level constraints.
func nodeSatisfies(ns *nodeState, g types.TaskGroup, jobConstraints []types.Constraint) bool {
	if !ns.node.Healthy {
		return false
	}
	for _, c := range jobConstraints {
		if !evaluateConstraint(ns.node, c) {
			return false
		}
	}
	for _, c := range g.Constraints {
		if !evaluateConstraint(ns.node, c) {
			return false
		}
	}
	demand := g.TotalResources()
	return ns.remaining.CPU >= demand.CPU && ns.remaining.Memory >= demand.Memory
}

// selectNode ranks feasible nodes by (remaining_cpu, remaining_memory)
// descending and returns the first, or nil if none are feasible.
func selectNode(snapshot map[string]*nodeState, g types.TaskGroup, jobConstraints []types.Constraint) *nodeState {
	var feasible []*nodeState
	for _, ns := range snapshot {
		if nodeSatisfies(ns, g, jobConstraints) {
			feasible = append(feasible, ns)
		}
	}
	if len(feasible) == 0 {
		return nil
	}

	sort.SliceStable(feasible, func(i, j int) bool {
		if feasible[i].remaining.CPU != feasible[j].remaining.CPU {
			return feasible[i].remaining.CPU > feasible[j].remaining.CPU
		}
		return feasible[i].remaining.Memory > feasible[j].remaining.Memory
	})
	return feasible[0]
}

// tasksChanged reports whether the task list of a group changed between
// revisions: different length, different name set, or any same-named task
// differing in resources or config.
func tasksChanged(oldTasks, newTasks []types.Task) bool {
	if len(oldTasks) != len(newTasks) {
		return true
	}

	byName := make(map[string]types.Task, len(oldTasks))
	for _, t := range oldTasks {
		byName[t.Name] = t
	}

	for _, nt := range newTasks {
		ot, ok := byName[nt.Name]
		if !ok {
			return true
		}
		if ot.Resources != nt.Resources {
			return true
		}
		if !reflect.DeepEqual(ot.Config, nt.Config) {
			return true
		}
	}
	return false
}

// evaluateConstraint applies a single constraint against a node's
// attributes. "ip_address" is available as a built-in attribute alongside
// whatever is in Node.Attributes. A missing attribute always fails the
// constraint.
func evaluateConstraint(node types.Node, c types.Constraint) bool {
	value, ok := nodeAttribute(node, c.Attribute)
	if !ok {
		return false
	}

	switch c.Operator {
	case types.ConstraintEqual:
		return value == c.Value
	case types.ConstraintNotEqual:
		return value != c.Value
	case types.ConstraintGreater, types.ConstraintLess:
		left, lerr := strconv.ParseFloat(value, 64)
		right, rerr := strconv.ParseFloat(c.Value, 64)
		if lerr != nil || rerr != nil {
			return false
		}
		if c.Operator == types.ConstraintGreater {
			return left > right
		}
		return left < right
	case types.ConstraintRegex:
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return false
	}
}

func nodeAttribute(node types.Node, attribute string) (string, bool) {
	switch attribute {
	case "ip_address":
		return node.IPAddress, true
	case "node_id":
		return node.ID, true
	}
	if node.Attributes == nil {
		return "", false
	}
	v, ok := node.Attributes[attribute]
	return v, ok
}

// Describe renders a human-readable summary of a plan for logging.
func Describe(p Plan) string {
	return fmt.Sprintf("creates=%d deletes=%d success=%t", len(p.Creates), len(p.Deletes), p.Success)
}
