// Package agent implements the per-node agent: it registers with the
// control plane, heartbeats its resources and allocation statuses, and
// runs a TaskSupervisor that places, monitors, and stops tasks on
// directives delivered over its own HTTP surface.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/runtime"
	"github.com/basinlabs/warden/pkg/transport"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/rs/zerolog"
)

// Config carries everything an Agent needs to register and run.
type Config struct {
	DataDir           string
	ControlPlaneURL   string
	Endpoint          string // this agent's own inbound address, reachable by the control plane
	Resources         types.NodeResources
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 5 * time.Second
	}
	return c
}

// Agent is one node's control-plane-facing process.
type Agent struct {
	cfg        Config
	nodeID     string
	ipAddress  string
	supervisor *TaskSupervisor
	httpClient *http.Client

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New loads or creates this host's persistent node id and builds an Agent.
// rt may be nil on a host that never runs container tasks.
func New(cfg Config, rt *runtime.ContainerdRuntime) (*Agent, error) {
	cfg = cfg.withDefaults()
	nodeID, err := loadOrCreateNodeID(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load node id: %w", err)
	}
	return &Agent{
		cfg:        cfg,
		nodeID:     nodeID,
		ipAddress:  discoverLocalIP(),
		supervisor: NewTaskSupervisor(rt),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("agent").With().Str("node_id", nodeID).Logger(),
	}, nil
}

// NodeID returns this agent's persistent identity.
func (a *Agent) NodeID() string { return a.nodeID }

// Start registers with the control plane and begins the heartbeat and
// status-monitor loops. A failed registration is fatal, per the startup
// sequence: the caller should exit rather than retry indefinitely.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("register with control plane: %w", err)
	}

	a.wg.Add(2)
	go a.heartbeatLoop()
	go a.monitorLoop()
	return nil
}

// Close stops the background loops. It does not stop any running task;
// tasks keep running after Close, but an agent started afterwards begins
// with an empty supervisor and neither tracks nor reports them.
func (a *Agent) Close() {
	close(a.stopCh)
	a.wg.Wait()
}

// Handler returns the agent's directive-listener HTTP surface.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /allocations", a.handlePlace)
	mux.HandleFunc("GET /allocations/{id}", a.handleStatus)
	mux.HandleFunc("DELETE /allocations/{id}", a.handleStop)
	return mux
}

func (a *Agent) register(ctx context.Context) error {
	node := types.Node{
		ID:        a.nodeID,
		IPAddress: a.ipAddress,
		Endpoint:  a.cfg.Endpoint,
		Resources: a.cfg.Resources,
		Healthy:   true,
	}
	return a.postJSON(ctx, a.cfg.ControlPlaneURL+"/register", node)
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.sendHeartbeat(); err != nil {
				a.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) sendHeartbeat() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hb := types.Heartbeat{
		NodeID:      a.nodeID,
		Resources:   a.cfg.Resources,
		Healthy:     true,
		Timestamp:   time.Now(),
		Allocations: a.supervisor.SnapshotAll(),
	}
	return a.postJSON(ctx, a.cfg.ControlPlaneURL+"/heartbeat", hb)
}

func (a *Agent) monitorLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.MonitorInterval)
			a.supervisor.ObserveAll(ctx)
			cancel()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) handlePlace(w http.ResponseWriter, r *http.Request) {
	var body transport.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.supervisor.Place(r.Context(), body.Allocation, body.TaskGroup)
	w.WriteHeader(http.StatusCreated)
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := a.supervisor.Snapshot(id)
	if !ok {
		http.Error(w, "allocation not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (a *Agent) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.supervisor.Stop(r.Context(), id) {
		http.Error(w, "allocation not found", http.StatusNotFound)
		return
	}
	a.supervisor.Remove(id)
	w.WriteHeader(http.StatusOK)
}

func (a *Agent) postJSON(ctx context.Context, url string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return nil
}
