/*
Package manager implements the cluster authority: the Manager that
owns the authoritative ManagerState and event bus, and the
WorkerHandler that orchestrates every Worker through commit, start,
record, stop, collect, reset, and registered-method dispatch.
*/
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// Config holds a Manager's construction-time settings, following the
// plain Config-struct pattern used throughout this module.
type Config struct {
	ID     string
	IP     string
	Port   int
	LogDir string

	CommitTimeout    time.Duration
	LifecycleTimeout time.Duration
}

// Manager owns the cluster's authoritative ManagerState, its event
// bus, and the WorkerHandler that drives every Worker through the
// pipeline lifecycle.
type Manager struct {
	cfg Config
	log zerolog.Logger

	bus   *events.Bus
	state *events.EventedState

	tokens  *TokenManager
	Workers *WorkerHandler

	shutdownOnce chan struct{}
}

// New builds a Manager from cfg, wiring its event bus and
// WorkerHandler. client is the WorkerClient used to reach every
// registered Worker; pass NewHTTPWorkerClient in production.
func New(cfg Config, client WorkerClient, log zerolog.Logger) *Manager {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	bus := events.NewBus()
	state := events.NewEventedState(types.NewManagerState(cfg.ID), bus)
	state.Mutate(func(s *types.ManagerState) {
		s.IP = cfg.IP
		s.Port = cfg.Port
		s.LogDir = cfg.LogDir
	})

	mgrLog := log.With().Str("component", "manager").Str("manager_id", cfg.ID).Logger()

	m := &Manager{
		cfg:          cfg,
		log:          mgrLog,
		bus:          bus,
		state:        state,
		tokens:       NewTokenManager(),
		shutdownOnce: make(chan struct{}),
	}
	m.Workers = NewWorkerHandler(m, client)
	return m
}

// Start launches the Manager's event bus.
func (m *Manager) Start() {
	m.bus.Start()
	m.bus.Publish(events.EventAfterServerStartup, types.NodeServerData{Host: m.cfg.IP, Port: m.cfg.Port})
}

// Bus returns the Manager's event bus, for subscribers (the north-
// bound WS hub, metrics collectors) to register observers on.
func (m *Manager) Bus() *events.Bus { return m.bus }

// State returns the Manager's evented ManagerState wrapper.
func (m *Manager) State() *events.EventedState { return m.state }

// Tokens returns the Manager's join-token issuer/validator.
func (m *Manager) Tokens() *TokenManager { return m.tokens }

// RegisterWorker admits a new Worker into the cluster, keyed by the
// WorkerState's own ID. Registration is idempotent: re-registering
// an existing Worker id replaces its record.
func (m *Manager) RegisterWorker(ws *types.WorkerState) {
	m.state.Mutate(func(s *types.ManagerState) {
		s.Workers[ws.ID] = ws
	})
	m.bus.Publish(events.EventWorkerRegistered, ws.ID)
	m.log.Info().Str("worker_id", ws.ID).Str("worker_name", ws.Name).Msg("worker registered")
}

// DeregisterWorker removes a Worker from cluster membership.
func (m *Manager) DeregisterWorker(workerID string) {
	m.state.Mutate(func(s *types.ManagerState) {
		delete(s.Workers, workerID)
	})
	m.bus.Publish(events.EventWorkerDeregistered, workerID)
	m.log.Info().Str("worker_id", workerID).Msg("worker deregistered")
}

// WorkerAddr returns the host:port a registered Worker's south-bound
// HTTP server listens on.
func (m *Manager) WorkerAddr(workerID string) (string, error) {
	var addr string
	var ok bool
	m.state.View(func(s *types.ManagerState) {
		ws, exists := s.Workers[workerID]
		if !exists {
			return
		}
		ok = true
		addr = fmt.Sprintf("http://%s:%d", ws.IP, ws.Port)
	})
	if !ok {
		return "", fmt.Errorf("manager: unknown worker %q", workerID)
	}
	return addr, nil
}

// Shutdown stops the Manager's event bus. It is safe to call more
// than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	select {
	case <-m.shutdownOnce:
		return nil
	default:
		close(m.shutdownOnce)
	}
	m.bus.Stop()
	return nil
}
