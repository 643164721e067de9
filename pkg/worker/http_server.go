package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetgraph/fleetgraph/pkg/metrics"
	"github.com/fleetgraph/fleetgraph/pkg/session"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

func (w *Worker) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), w.requestLogger())

	r.GET("/health", w.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/nodes/create", w.handleCreateNode)
	r.POST("/nodes/destroy", w.handleDestroyNode)
	r.GET("/nodes/server_data", w.handleGetServerData)
	r.POST("/nodes/server_data", w.handleSetServerData)

	r.POST("/nodes/start", w.handleStart)
	r.POST("/nodes/record", w.handleRecord)
	r.POST("/nodes/step", w.handleStep)
	r.POST("/nodes/stop", w.handleStop)
	r.GET("/nodes/gather", w.handleGather)
	r.POST("/nodes/collect", w.handleCollect)
	r.POST("/nodes/reset", w.handleReset)
	r.GET("/nodes/registered_methods", w.handleRegisteredMethods)

	r.POST("/methods/request", w.handleRequestMethod)

	r.POST("/packages/load", w.handlePackageLoad)

	r.POST("/shutdown", w.handleShutdown)

	return r
}

func (w *Worker) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, http.StatusText(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func (w *Worker) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "worker_id": w.cfg.ID})
}

func (w *Worker) handleCreateNode(c *gin.Context) {
	var req struct {
		NodeID string           `json:"node_id"`
		Config types.NodeConfig `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/nodes/create", err)
		return
	}

	data, err := w.Nodes.CreateNode(c.Request.Context(), req.NodeID, req.Config)
	if err != nil {
		writeError(c, http.StatusInternalServerError, asLifecycleError(req.NodeID, err), nil)
		return
	}
	writeData(c, http.StatusOK, data)
}

func (w *Worker) handleDestroyNode(c *gin.Context) {
	var req struct {
		NodeID string `json:"node_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/nodes/destroy", err)
		return
	}
	if err := w.Nodes.DestroyNode(req.NodeID); err != nil {
		writeError(c, http.StatusNotFound, asLifecycleError(req.NodeID, err), nil)
		return
	}
	writeSuccess(c, http.StatusOK)
}

func (w *Worker) handleGetServerData(c *gin.Context) {
	writeData(c, http.StatusOK, w.Nodes.LocalServerData())
}

func (w *Worker) handleSetServerData(c *gin.Context) {
	var req struct {
		Table types.ServerDataTable `json:"table"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/nodes/server_data", err)
		return
	}
	if err := w.Nodes.ApplyServerData(req.Table); err != nil {
		writeError(c, http.StatusInternalServerError, &types.TransportError{Op: "wire peers", Cause: err}, nil)
		return
	}
	// Once wired, every Node runs its Setup hook and reports READY,
	// the state the Manager's commit_graph waits for.
	if err := w.Nodes.SetupAll(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, asLifecycleError("", err), nil)
		return
	}
	writeSuccess(c, http.StatusOK)
}

func (w *Worker) handleStart(c *gin.Context) {
	var req struct {
		Record bool `json:"record"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := w.Nodes.StartAll(c.Request.Context(), req.Record); err != nil {
		writeError(c, http.StatusInternalServerError, asLifecycleError("", err), nil)
		return
	}
	writeSuccess(c, http.StatusOK)
}

func (w *Worker) handleRecord(c *gin.Context) {
	if err := w.Nodes.RecordAll(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, asLifecycleError("", err), nil)
		return
	}
	writeSuccess(c, http.StatusOK)
}

// handleStep is a documented no-op: once a Node has been told to
// start, it steps continuously on its own goroutine rather than one
// step per call, so there is nothing for this route to drive.
func (w *Worker) handleStep(c *gin.Context) {
	writeSuccess(c, http.StatusOK)
}

func (w *Worker) handleStop(c *gin.Context) {
	if err := w.Nodes.StopAll(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, asLifecycleError("", err), nil)
		return
	}
	writeSuccess(c, http.StatusOK)
}

func (w *Worker) handleGather(c *gin.Context) {
	writeData(c, http.StatusOK, w.Nodes.Gather())
}

func (w *Worker) handleCollect(c *gin.Context) {
	var req struct {
		Session string `json:"session"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := w.Nodes.CollectAll(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, asLifecycleError("", err), nil)
		return
	}

	if req.Session == "" {
		writeSuccess(c, http.StatusOK)
		return
	}

	archive, err := session.Create(w.cfg.LogDir, req.Session)
	if err != nil {
		writeError(c, http.StatusInternalServerError, &types.TransportError{Op: "create archive", Cause: err}, nil)
		return
	}
	if err := archive.Finalize(); err != nil {
		writeError(c, http.StatusInternalServerError, &types.TransportError{Op: "finalize archive", Cause: err}, nil)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.mgr.reportArchive(ctx, w.cfg.ID, req.Session, archive.Dir()); err != nil {
			w.log.Warn().Err(err).Str("session", req.Session).Msg("report archive failed")
		}
	}()

	writeData(c, http.StatusOK, gin.H{"dir": archive.Dir()})
}

func (w *Worker) handleReset(c *gin.Context) {
	if err := w.Nodes.ResetAll(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, asLifecycleError("", err), nil)
		return
	}
	writeSuccess(c, http.StatusOK)
}

func (w *Worker) handleRegisteredMethods(c *gin.Context) {
	writeData(c, http.StatusOK, w.Nodes.RegisteredMethods())
}

func (w *Worker) handleRequestMethod(c *gin.Context) {
	var req struct {
		NodeID string          `json:"node_id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProtocolError(c, "/methods/request", err)
		return
	}

	timer := metrics.NewTimer()
	result, err := w.Nodes.RequestMethod(c.Request.Context(), req.NodeID, req.Method, req.Params)
	timer.ObserveDurationVec(metrics.RegisteredMethodDuration, "direct")
	if err != nil {
		writeError(c, http.StatusBadGateway, asLifecycleError(req.NodeID, err), nil)
		return
	}
	writeData(c, http.StatusOK, json.RawMessage(result))
}

// handlePackageLoad acknowledges a package-load request. No code ever
// crosses the wire in this implementation: a NodeConfig.Kind selects
// an already-registered factory, so there is nothing to fetch or
// install here.
func (w *Worker) handlePackageLoad(c *gin.Context) {
	writeSuccess(c, http.StatusOK)
}

func (w *Worker) handleShutdown(c *gin.Context) {
	writeSuccess(c, http.StatusOK)
	go w.Shutdown()
}

func asLifecycleError(nodeID string, err error) error {
	if _, ok := err.(types.Kinded); ok {
		return err
	}
	return &types.LifecycleError{NodeID: nodeID, Cause: err}
}
