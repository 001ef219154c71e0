// Package scheduler runs the evaluation queue: one buffered channel of job
// ids and a single worker that, for each id, gathers the job's current
// state and hands it to the planner, then forwards the resulting plan to
// the executor over a channel of immutable values.
package scheduler

import (
	"context"
	"sync"

	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/metrics"
	"github.com/basinlabs/warden/pkg/nodemanager"
	"github.com/basinlabs/warden/pkg/planner"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/rs/zerolog"
)

// queueDepth bounds how many pending evaluations the scheduler will hold
// before CreateEvaluation starts blocking its caller.
const queueDepth = 256

// JobPlan pairs a plan with the job it was computed for. The executor only
// needs the job id to log and to attribute metrics; every allocation it
// must create or delete is already present inside Plan.
type JobPlan struct {
	JobID string
	Plan  planner.Plan
}

// evaluationRequest is one entry in the evaluation queue. PreviousJob is
// the job's spec exactly as it stood before the upsert that triggered this
// evaluation (nil for a first submission) — it must be captured by the
// caller before the upsert, since by the time the worker runs, the store
// only holds the new spec.
type evaluationRequest struct {
	JobID       string
	PreviousJob *types.Job
}

// Scheduler owns the evaluation queue. It is not safe to call Open twice
// without an intervening Close.
type Scheduler struct {
	nodeManager *nodemanager.NodeManager
	planOut     chan<- JobPlan

	evalQueue chan evaluationRequest
	stopCh    chan struct{}
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// New builds a scheduler that publishes plans onto planOut.
func New(nm *nodemanager.NodeManager, planOut chan<- JobPlan) *Scheduler {
	return &Scheduler{
		nodeManager: nm,
		planOut:     planOut,
		evalQueue:   make(chan evaluationRequest, queueDepth),
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("scheduler"),
	}
}

// Open starts the single evaluation worker. Call Close to stop it.
func (s *Scheduler) Open() {
	s.wg.Add(1)
	go s.run()
}

// Close stops the worker and waits for it to drain its current evaluation.
func (s *Scheduler) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// CreateEvaluation enqueues jobID for evaluation. previousJob is the job's
// spec as it stood before the store write that triggered this evaluation
// (nil for a first submission); the caller must capture it before that
// write, since the stored row holds only the new spec by the time the
// evaluation runs. CreateEvaluation blocks if the queue is full, which is
// deliberate backpressure rather than an unbounded buffer.
func (s *Scheduler) CreateEvaluation(jobID string, previousJob *types.Job) {
	req := evaluationRequest{JobID: jobID, PreviousJob: previousJob}
	select {
	case s.evalQueue <- req:
	case <-s.stopCh:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.evalQueue:
			s.evaluate(req)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) evaluate(req evaluationRequest) {
	ctx := context.Background()
	jobID := req.JobID
	timer := metrics.NewTimer()

	job, err := s.nodeManager.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("evaluation skipped, job not found")
		return
	}

	existingAllocs, err := s.nodeManager.GetJobAllocations(ctx, jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to load allocations for evaluation")
		return
	}

	nodes, err := s.nodeManager.ListHealthyNodes(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to load nodes for evaluation")
		return
	}

	// Diff against the spec captured before this job's upsert, not the
	// freshly stored one, so a task group whose tasks actually changed is
	// detected as changed instead of comparing the new row to itself.
	plan := planner.Evaluate(job, req.PreviousJob, existingAllocs, nodes)

	timer.ObserveDuration(metrics.SchedulingLatency)
	if plan.Success {
		metrics.EvaluationsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.EvaluationsTotal.WithLabelValues("partial").Inc()
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("creates", len(plan.Creates)).
		Int("deletes", len(plan.Deletes)).
		Bool("success", plan.Success).
		Msg(planner.Describe(plan))

	select {
	case s.planOut <- JobPlan{JobID: jobID, Plan: plan}:
	case <-s.stopCh:
	}
}
