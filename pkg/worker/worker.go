package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/config"
	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/node"
)

// Config holds a Worker's construction-time settings.
type Config struct {
	ID   string
	Name string
	IP   string
	Port int // south-bound HTTP port; 0 picks an OS-assigned port

	ManagerAddr string // http://host:port of the Manager's north-bound API
	LogDir      string
	JoinToken   string // optional, from --token; validated only if the Manager requires one

	HeartbeatInterval time.Duration
}

// Worker registers with the Manager, exposes the south-bound HTTP
// API of spec.md §6.1, and hosts every Node assigned to it
// through a NodeHandler.
type Worker struct {
	cfg Config
	log zerolog.Logger

	Nodes *NodeHandler
	bus   *events.Bus

	mgr *managerClient

	liveness *NodeLivenessMonitor

	engine *gin.Engine

	stopCh chan struct{}
}

// New builds a Worker. registry resolves NodeConfig.Kind to a
// concrete UserNode; pass node.Default in production.
func New(cfg Config, registry *node.Registry, appCfg *config.Config, log zerolog.Logger) (*Worker, error) {
	workerLog := log.With().Str("component", "worker").Str("worker_id", cfg.ID).Logger()

	bus := events.NewBus()
	handler, err := NewNodeHandler(bus, registry, workerLog)
	if err != nil {
		return nil, fmt.Errorf("worker: build node handler: %w", err)
	}

	w := &Worker{
		cfg:    cfg,
		log:    workerLog,
		Nodes:  handler,
		bus:    bus,
		mgr:    newManagerClient(cfg.ManagerAddr, appCfg.ManagerTimeoutLifecycle),
		stopCh: make(chan struct{}),
	}
	w.liveness = NewNodeLivenessMonitor(handler, bus, workerLog)
	w.engine = w.buildEngine()
	w.bus.Start()
	return w, nil
}

// Engine returns the south-bound gin.Engine for this Worker, e.g. to
// run it with http.Server for graceful shutdown.
func (w *Worker) Engine() *gin.Engine { return w.engine }

// Register registers this Worker with its Manager. Registration is
// idempotent keyed by Worker id, per spec.md §4.6.
func (w *Worker) Register(ctx context.Context) error {
	return w.mgr.register(ctx, w.cfg.ID, w.cfg.Name, w.cfg.IP, w.cfg.Port, w.cfg.JoinToken)
}

// RunHeartbeat loops sending this Worker's Node states to the Manager
// until ctx is canceled, at the interval cfg.HeartbeatInterval (30s
// if unset).
func (w *Worker) RunHeartbeat(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.mgr.heartbeat(ctx, w.cfg.ID, w.Nodes.Snapshot()); err != nil {
				w.log.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}

// StartLiveness begins polling every subprocess-hosted Node's PID,
// per spec.md §4.5's Node-supervision requirement.
func (w *Worker) StartLiveness() { w.liveness.Start() }

// Deregister removes this Worker from cluster membership, for a CLI
// that was started with --delete to call on graceful shutdown.
func (w *Worker) Deregister(ctx context.Context) error {
	return w.mgr.deregister(ctx, w.cfg.ID)
}

// Shutdown tears down every hosted Node and stops background loops.
func (w *Worker) Shutdown() {
	close(w.stopCh)
	w.liveness.Stop()
	w.Nodes.Shutdown()
	w.bus.Stop()
}
