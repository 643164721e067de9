package manager

import (
	"time"

	"github.com/fleetgraph/fleetgraph/pkg/metrics"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// MetricsCollector polls the Manager's ManagerState on an interval
// and updates the Prometheus gauges that describe cluster shape
// (worker count, node counts by lifecycle state).
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector bound to mgr.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, after an
// immediate first collection.
func (c *MetricsCollector) Start() {
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

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	var workerCount int
	fsmCounts := make(map[types.FSM]int)

	c.manager.state.View(func(s *types.ManagerState) {
		workerCount = len(s.Workers)
		for _, ws := range s.Workers {
			for _, ns := range ws.Nodes {
				fsmCounts[ns.FSM]++
			}
		}
	})

	metrics.WorkersTotal.Set(float64(workerCount))
	for _, fsm := range []types.FSM{
		types.FSMNull, types.FSMInit, types.FSMConnected, types.FSMReady,
		types.FSMPreviewing, types.FSMRecording, types.FSMStopped,
		types.FSMSaved, types.FSMShutdown,
	} {
		metrics.NodesByFSM.WithLabelValues(string(fsm)).Set(float64(fsmCounts[fsm]))
	}
}
