// Package api implements the control plane's JSON/HTTP surface: node
// registration and heartbeats, job and template CRUD, node listing, and a
// gated test-only reset endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/basinlabs/warden/pkg/executor"
	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/metrics"
	"github.com/basinlabs/warden/pkg/nodemanager"
	"github.com/basinlabs/warden/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the control plane's HTTP API. It holds no state of its own: it
// translates HTTP requests into NodeManager/Scheduler/Executor calls and
// NodeManager's return values into JSON responses.
type Server struct {
	nodeManager *nodemanager.NodeManager
	scheduler   *scheduler.Scheduler
	executor    *executor.Executor
	testAPIKey  string
	logger      zerolog.Logger
}

// New builds a Server. testAPIKey gates /test/clear-all; an empty key
// disables that endpoint entirely, matching the requirement that it never
// be reachable by accident in production.
func New(nm *nodemanager.NodeManager, sched *scheduler.Scheduler, exec *executor.Executor, testAPIKey string) *Server {
	return &Server{
		nodeManager: nm,
		scheduler:   sched,
		executor:    exec,
		testAPIKey:  testAPIKey,
		logger:      log.WithComponent("api"),
	}
}

// Handler builds the full route table wrapped in request logging and
// metrics instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)

	mux.HandleFunc("POST /jobs", s.handleSubmitJob)
	mux.HandleFunc("PUT /jobs/{id}", s.handleUpdateJob)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleStopJob)
	mux.HandleFunc("POST /jobs/{id}/delete", s.handleDeleteJob)
	mux.HandleFunc("POST /jobs/{id}/restart", s.handleRestartJob)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)

	mux.HandleFunc("GET /nodes", s.handleListNodes)

	mux.HandleFunc("POST /templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /templates", s.handleListTemplates)
	mux.HandleFunc("GET /templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("PUT /templates/{id}", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /templates/{id}", s.handleDeleteTemplate)

	mux.HandleFunc("POST /test/clear-all", s.handleClearAll)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	return s.withLogging(mux)
}

// withLogging wraps every request with structured logging and the
// Prometheus request counters/histogram, matching the teacher's
// per-RPC metrics instrumentation translated to plain net/http
// middleware instead of a gRPC interceptor.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		status := rec.status

		metrics.APIRequestsTotal.WithLabelValues(r.Method, r.URL.Path, statusClass(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())

		ev := s.logger.Info()
		if status >= 500 {
			ev = s.logger.Error()
		} else if status >= 400 {
			ev = s.logger.Warn()
		}
		ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Dur("duration", duration).Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
