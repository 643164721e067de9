package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/health"
)

// NodeLivenessMonitor polls the PID of every subprocess-hosted Node
// and marks a Node failed once its process check stays unhealthy
// across health.Config.Retries consecutive polls, per spec.md §4.5's
// Node-supervision requirement.
type NodeLivenessMonitor struct {
	handler *NodeHandler
	log     zerolog.Logger
	cfg     health.Config

	statuses map[string]*health.Status

	stopCh chan struct{}
}

// NewNodeLivenessMonitor builds a monitor for handler's hosted Nodes.
// bus is unused directly; failures are published through handler so
// NodeHandler's state stays the single source of truth for FSM.
func NewNodeLivenessMonitor(handler *NodeHandler, bus *events.Bus, log zerolog.Logger) *NodeLivenessMonitor {
	return &NodeLivenessMonitor{
		handler:  handler,
		log:      log,
		cfg:      health.DefaultConfig(),
		statuses: make(map[string]*health.Status),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop.
func (m *NodeLivenessMonitor) Start() { go m.loop() }

// Stop ends the polling loop.
func (m *NodeLivenessMonitor) Stop() { close(m.stopCh) }

func (m *NodeLivenessMonitor) loop() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopCh:
			return
		}
	}
}

func (m *NodeLivenessMonitor) check() {
	pids := m.handler.PIDs()

	for nodeID := range m.statuses {
		if _, ok := pids[nodeID]; !ok {
			delete(m.statuses, nodeID)
		}
	}

	for nodeID, pid := range pids {
		status, ok := m.statuses[nodeID]
		if !ok {
			status = health.NewStatus()
			m.statuses[nodeID] = status
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
		result := health.NewProcessChecker(pid).Check(ctx)
		cancel()

		wasHealthy := status.Healthy
		status.Update(result, m.cfg)

		if wasHealthy && !status.Healthy {
			m.log.Warn().Str("node_id", nodeID).Int("pid", pid).Str("reason", result.Message).Msg("node process liveness check failed")
			m.handler.markFailed(nodeID, result.Message)
		}
	}
}
