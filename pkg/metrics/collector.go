package metrics

import (
	"context"
	"time"

	"github.com/basinlabs/warden/pkg/nodemanager"
)

// Collector periodically samples the node manager's store and publishes the
// resulting gauges. It never mutates anything it reads.
type Collector struct {
	nodeManager *nodemanager.NodeManager
	stopCh      chan struct{}
}

// NewCollector creates a metrics collector over nm.
func NewCollector(nm *nodemanager.NodeManager) *Collector {
	return &Collector{
		nodeManager: nm,
		stopCh:      make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx := context.Background()
	c.collectNodeMetrics(ctx)
	c.collectJobAndAllocationMetrics(ctx)
}

func (c *Collector) collectNodeMetrics(ctx context.Context) {
	nodes, err := c.nodeManager.GetAllNodes(ctx)
	if err != nil {
		return
	}

	counts := map[string]int{"healthy": 0, "unhealthy": 0}
	for _, n := range nodes {
		if n.Healthy {
			counts["healthy"]++
		} else {
			counts["unhealthy"]++
		}
	}
	for status, count := range counts {
		NodesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectJobAndAllocationMetrics(ctx context.Context) {
	jobs, err := c.nodeManager.GetAllJobs(ctx)
	if err != nil {
		return
	}

	jobCounts := make(map[string]int)
	allocCounts := make(map[string]int)
	for _, info := range jobs {
		jobCounts[string(info.Job.Status)]++
		for _, a := range info.AllocationInfos {
			allocCounts[string(a.Allocation.Status)]++
		}
	}
	for status, count := range jobCounts {
		JobsTotal.WithLabelValues(status).Set(float64(count))
	}
	for status, count := range allocCounts {
		AllocationsTotal.WithLabelValues(status).Set(float64(count))
	}
}
