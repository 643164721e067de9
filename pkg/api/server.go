package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/config"
	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/manager"
	"github.com/fleetgraph/fleetgraph/pkg/metrics"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the Manager's north-bound HTTP+WS API, spec.md §4.8/§6.3:
// worker registration, graph commit, lifecycle commands, registered-
// method proxy, discovery enable/disable, and a WS stream of
// NODE_STATUS_UPDATE/NETWORK_STATUS_UPDATE frames.
type Server struct {
	mgr *manager.Manager
	cfg *config.Config
	hub *Hub
	log zerolog.Logger

	discoveryEnabled atomic.Bool
	engine           *gin.Engine
}

// NewServer builds a Server bound to mgr, subscribing to the
// Manager's event bus so every ManagerState mutation and node status
// change reaches WS subscribers.
func NewServer(mgr *manager.Manager, cfg *config.Config, log zerolog.Logger) *Server {
	s := &Server{
		mgr: mgr,
		cfg: cfg,
		hub: NewHub(cfg.WSMaxBackpressureFrame, cfg.WSMaxBackpressureFrame, log),
		log: log.With().Str("component", "api").Logger(),
	}

	mgr.Bus().Subscribe(events.TypedObserver{
		EventType: events.EventManagerStateChanged,
		Mode:      events.HandleDrop,
		Handler: func(ev events.Event) {
			state, ok := ev.Data.(*types.ManagerState)
			if !ok {
				return
			}
			s.hub.Broadcast(WSMessage{Kind: WSKindNetworkStatusUpdate, Data: state})
		},
	})
	mgr.Bus().Subscribe(events.TypedObserver{
		EventType: events.EventNodeStatusChanged,
		Mode:      events.HandlePass,
		Handler: func(ev events.Event) {
			nodeID, ok := ev.Data.(string)
			if !ok {
				return
			}
			s.hub.Broadcast(WSMessage{Kind: WSKindNodeStatusUpdate, Data: gin.H{"node_id": nodeID}})
		},
	})

	s.engine = s.buildEngine()
	return s
}

// Engine returns the underlying gin.Engine, e.g. to run it with
// http.Server for graceful shutdown.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", s.handleWS)
	r.GET("/state", s.handleState)

	r.POST("/workers/token", s.handleMintJoinToken)
	r.POST("/workers/register", s.handleRegisterWorker)
	r.POST("/workers/:id/deregister", s.handleDeregisterWorker)
	r.POST("/workers/:id/heartbeat", s.handleHeartbeat)
	r.POST("/workers/:id/archive", s.handleWorkerArchive)

	r.POST("/graph/commit", s.handleCommitGraph)

	r.POST("/lifecycle/start", s.handleStart)
	r.POST("/lifecycle/record", s.handleRecord)
	r.POST("/lifecycle/stop", s.handleStop)
	r.POST("/lifecycle/collect", s.handleCollect)
	r.POST("/lifecycle/reset", s.handleReset)

	r.POST("/methods/request", s.handleRequestMethod)

	r.POST("/discovery/enable", s.handleDiscoveryEnable)
	r.POST("/discovery/disable", s.handleDiscoveryDisable)

	r.POST("/shutdown", s.handleShutdown)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, http.StatusText(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "ws_clients": s.hub.ClientCount()})
}

func (s *Server) handleState(c *gin.Context) {
	var snapshot types.ManagerState
	s.mgr.State().View(func(st *types.ManagerState) {
		snapshot = *st
	})
	writeData(c, http.StatusOK, snapshot)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	s.hub.Register(conn)
}

// handleMintJoinToken issues a single-use Worker join token an
// operator hands to a Worker out of band (e.g. its --token flag), so
// /workers/register can optionally require one. Minting is itself
// unauthenticated: spec.md has no Manager-admin auth surface, so this
// gates Worker join without claiming to gate the Manager API itself.
func (s *Server) handleMintJoinToken(c *gin.Context) {
	var req struct {
		TTLSeconds int `json:"ttl_seconds"`
	}
	_ = c.ShouldBindJSON(&req)
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	jt, err := s.mgr.Tokens().GenerateToken(ttl)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err, nil)
		return
	}
	writeData(c, http.StatusOK, jt)
}

func (s *Server) handleRegisterWorker(c *gin.Context) {
	var req struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		IP    string `json:"ip"`
		Port  int    `json:"port"`
		Token string `json:"token,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/workers/register", err)
		return
	}
	// A token is only checked when the Worker presents one: spec.md
	// has no mandatory cluster-join auth, so an unminted deployment
	// stays exactly as open as the rest of the north-bound API, while
	// one that does mint tokens (handleMintJoinToken) gets them
	// enforced here, single-use.
	if req.Token != "" {
		if err := s.mgr.Tokens().ValidateToken(req.Token); err != nil {
			writeError(c, http.StatusUnauthorized, &types.ConfigError{Key: "token", Detail: err.Error()}, nil)
			return
		}
		s.mgr.Tokens().RevokeToken(req.Token)
	}
	ws := types.NewWorkerState(req.ID, req.Name)
	ws.IP = req.IP
	ws.Port = req.Port
	s.mgr.RegisterWorker(ws)
	writeSuccess(c, http.StatusOK)
}

func (s *Server) handleDeregisterWorker(c *gin.Context) {
	s.mgr.DeregisterWorker(c.Param("id"))
	writeSuccess(c, http.StatusOK)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	workerID := c.Param("id")
	var req struct {
		Nodes map[string]types.NodeState `json:"nodes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/workers/:id/heartbeat", err)
		return
	}

	var changed []string
	s.mgr.State().Mutate(func(st *types.ManagerState) {
		ws, ok := st.Workers[workerID]
		if !ok {
			return
		}
		// Reconcile, don't merge: the incoming snapshot is the
		// Worker's complete Node set, so any id the heartbeat no
		// longer reports (destroyed, reset) must be dropped here
		// too, or a stale NodeState lingers forever.
		fresh := make(map[string]*types.NodeState, len(req.Nodes))
		for nodeID, ns := range req.Nodes {
			snapshot := ns
			fresh[nodeID] = &snapshot
			changed = append(changed, nodeID)
		}
		for nodeID := range ws.Nodes {
			if _, ok := fresh[nodeID]; !ok {
				changed = append(changed, nodeID)
			}
		}
		ws.Nodes = fresh
	})
	for _, nodeID := range changed {
		s.mgr.Bus().Publish(events.EventNodeStatusChanged, nodeID)
	}
	writeSuccess(c, http.StatusOK)
}

// handleWorkerArchive records that a Worker finished writing a
// session's recorded streams to disk, per spec.md §4.6's send_archive
// step. The archive itself lives in the flat per-run directory
// (spec.md §6.6); only its location is reported here.
func (s *Server) handleWorkerArchive(c *gin.Context) {
	workerID := c.Param("id")
	var req struct {
		Session string `json:"session"`
		Dir     string `json:"dir"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/workers/:id/archive", err)
		return
	}
	s.log.Info().Str("worker_id", workerID).Str("session", req.Session).Str("dir", req.Dir).Msg("worker archive ready")
	writeSuccess(c, http.StatusOK)
}

func (s *Server) handleCommitGraph(c *gin.Context) {
	var req struct {
		Graph   types.Graph   `json:"graph"`
		Mapping types.Mapping `json:"mapping"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/graph/commit", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ManagerTimeoutCommit)
	defer cancel()

	timer := metrics.NewTimer()
	result, err := s.mgr.Workers.CommitGraph(ctx, req.Graph, req.Mapping)
	timer.ObserveDuration(metrics.CommitDuration)
	if err != nil {
		writeError(c, http.StatusConflict, err, result)
		return
	}
	writeData(c, http.StatusOK, result)
}

func (s *Server) lifecycleCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.ManagerTimeoutLifecycle)
}

func (s *Server) handleStart(c *gin.Context) {
	var req struct {
		Record bool `json:"record"`
	}
	_ = c.ShouldBindJSON(&req)
	ctx, cancel := s.lifecycleCtx(c)
	defer cancel()
	writeData(c, http.StatusOK, s.mgr.Workers.Start(ctx, req.Record))
}

func (s *Server) handleRecord(c *gin.Context) {
	ctx, cancel := s.lifecycleCtx(c)
	defer cancel()
	writeData(c, http.StatusOK, s.mgr.Workers.Record(ctx))
}

func (s *Server) handleStop(c *gin.Context) {
	ctx, cancel := s.lifecycleCtx(c)
	defer cancel()
	writeData(c, http.StatusOK, s.mgr.Workers.Stop(ctx))
}

func (s *Server) handleCollect(c *gin.Context) {
	ctx, cancel := s.lifecycleCtx(c)
	defer cancel()
	writeData(c, http.StatusOK, s.mgr.Workers.Collect(ctx))
}

func (s *Server) handleReset(c *gin.Context) {
	var req struct {
		KeepWorkers bool `json:"keep_workers"`
	}
	_ = c.ShouldBindJSON(&req)
	ctx, cancel := s.lifecycleCtx(c)
	defer cancel()
	writeData(c, http.StatusOK, s.mgr.Workers.Reset(ctx, req.KeepWorkers))
}

func (s *Server) handleRequestMethod(c *gin.Context) {
	var req struct {
		NodeID  string          `json:"node_id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Timeout time.Duration   `json:"timeout"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/methods/request", err)
		return
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.ManagerTimeoutLifecycle
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	timer := metrics.NewTimer()
	result, err := s.mgr.Workers.RequestRegisteredMethod(ctx, req.NodeID, req.Method, req.Params)
	timer.ObserveDurationVec(metrics.RegisteredMethodDuration, "proxied")
	if err != nil {
		writeError(c, http.StatusBadGateway, err, nil)
		return
	}
	writeData(c, http.StatusOK, result)
}

func (s *Server) handleDiscoveryEnable(c *gin.Context) {
	s.discoveryEnabled.Store(true)
	writeSuccess(c, http.StatusOK)
}

func (s *Server) handleDiscoveryDisable(c *gin.Context) {
	s.discoveryEnabled.Store(false)
	writeSuccess(c, http.StatusOK)
}

func (s *Server) handleShutdown(c *gin.Context) {
	writeSuccess(c, http.StatusOK)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ManagerTimeoutLifecycle)
		defer cancel()
		s.mgr.Workers.Shutdown(ctx)
		_ = s.mgr.Shutdown(ctx)
	}()
}
