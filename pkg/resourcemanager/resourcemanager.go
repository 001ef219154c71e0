// Package resourcemanager runs the background sweep that turns missed
// heartbeats into node-unhealthy and allocation-lost transitions. Heartbeat
// ingestion itself lives in nodemanager, since every store write runs
// through that package; resourcemanager only owns the sweep's timing.
package resourcemanager

import (
	"context"
	"sync"
	"time"

	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/metrics"
	"github.com/basinlabs/warden/pkg/nodemanager"
	"github.com/rs/zerolog"
)

// Config exposes the sweep's timing as constructor options rather than
// hardcoded constants, so tests can drive it at a fast interval without
// sleeping real wall-clock seconds.
type Config struct {
	// Interval is how often the sweep runs. Defaults to 5s.
	Interval time.Duration
	// Timeout is how long a node may go without a heartbeat before it is
	// marked unhealthy. Defaults to 15s.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// ResourceManager owns the node-health sweeper goroutine.
type ResourceManager struct {
	nodeManager *nodemanager.NodeManager
	cfg         Config

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New builds a resource manager over nm. cfg's zero values fall back to the
// documented defaults.
func New(nm *nodemanager.NodeManager, cfg Config) *ResourceManager {
	return &ResourceManager{
		nodeManager: nm,
		cfg:         cfg.withDefaults(),
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("resourcemanager"),
	}
}

// Open starts the sweeper loop. Call Close to stop it.
func (rm *ResourceManager) Open() {
	rm.wg.Add(1)
	go rm.run()
}

// Close stops the sweeper and waits for any in-flight sweep to finish.
func (rm *ResourceManager) Close() {
	close(rm.stopCh)
	rm.wg.Wait()
}

func (rm *ResourceManager) run() {
	defer rm.wg.Done()
	ticker := time.NewTicker(rm.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.sweep()
		case <-rm.stopCh:
			return
		}
	}
}

func (rm *ResourceManager) sweep() {
	ctx := context.Background()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.NodeHealthSweepDuration)

	unhealthy, err := rm.nodeManager.SweepUnhealthyNodes(ctx, rm.cfg.Timeout)
	if err != nil {
		rm.logger.Error().Err(err).Msg("health sweep failed")
		return
	}
	if len(unhealthy) > 0 {
		metrics.NodesMarkedUnhealthy.Add(float64(len(unhealthy)))
		rm.logger.Warn().Strs("node_ids", unhealthy).Msg("nodes marked unhealthy by sweep")
	}
}
