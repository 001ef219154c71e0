// Package metrics exposes the Prometheus collectors the control plane and
// agent update as they run, plus the /metrics HTTP handler that serves
// them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_nodes_total",
			Help: "Total number of registered nodes by health status",
		},
		[]string{"status"},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	AllocationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_allocations_total",
			Help: "Total number of allocations by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_requests_total",
			Help: "Total number of API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Scheduler/executor metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_scheduling_latency_seconds",
			Help:    "Time taken to evaluate a job and produce a plan",
			Buckets: prometheus.DefBuckets,
		},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_evaluations_total",
			Help: "Total number of evaluations processed, by outcome",
		},
		[]string{"outcome"},
	)

	PlanApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_plan_apply_duration_seconds",
			Help:    "Time taken to apply a plan's creates and deletes",
			Buckets: prometheus.DefBuckets,
		},
	)

	AllocationsPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_allocations_placed_total",
			Help: "Total number of allocations delivered to and accepted by an agent",
		},
	)

	AllocationsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_allocations_failed_total",
			Help: "Total number of allocations marked failed because delivery to their agent failed",
		},
	)

	// Resource manager / health sweeper metrics
	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_heartbeats_received_total",
			Help: "Total number of node heartbeats ingested",
		},
	)

	NodeHealthSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_node_health_sweep_duration_seconds",
			Help:    "Time taken for one node health sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodesMarkedUnhealthy = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_nodes_marked_unhealthy_total",
			Help: "Total number of times a node was marked unhealthy by the sweeper",
		},
	)

	// Agent metrics
	TaskStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_task_start_duration_seconds",
			Help:    "Time taken for a task driver to start a task, by driver",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver"},
	)

	TasksRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_tasks_running",
			Help: "Number of tasks currently running on this agent, by driver",
		},
		[]string{"driver"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(AllocationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(PlanApplyDuration)
	prometheus.MustRegister(AllocationsPlaced)
	prometheus.MustRegister(AllocationsFailed)
	prometheus.MustRegister(HeartbeatsReceived)
	prometheus.MustRegister(NodeHealthSweepDuration)
	prometheus.MustRegister(NodesMarkedUnhealthy)
	prometheus.MustRegister(TaskStartDuration)
	prometheus.MustRegister(TasksRunning)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
