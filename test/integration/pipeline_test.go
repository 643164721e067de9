// Package integration exercises a full Manager + Worker + Node
// pipeline wired together over real HTTP, mirroring the seed
// scenarios of spec.md §8 end to end rather than unit-testing any one
// package in isolation.
package integration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/api"
	"github.com/fleetgraph/fleetgraph/pkg/client"
	"github.com/fleetgraph/fleetgraph/pkg/config"
	"github.com/fleetgraph/fleetgraph/pkg/manager"
	"github.com/fleetgraph/fleetgraph/pkg/node"
	"github.com/fleetgraph/fleetgraph/pkg/types"
	"github.com/fleetgraph/fleetgraph/pkg/worker"
)

// camNode is a trivial UserNode standing in for a real capture
// device: it steps on a timer and exposes one registered method.
type camNode struct{}

func (camNode) Setup(context.Context) error    { return nil }
func (camNode) Step(context.Context) error     { time.Sleep(time.Millisecond); return nil }
func (camNode) Teardown(context.Context) error { return nil }

func (camNode) RegisteredMethods() map[string]types.RegisteredMethod {
	return map[string]types.RegisteredMethod{"ping": {Name: "ping", Style: "blocking"}}
}

func (camNode) HandleMethod(ctx context.Context, name string, params json.RawMessage) (any, error) {
	return map[string]string{"echo": name}, nil
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

// TestFullPipelineCommitStartRecordStopCollectReset drives a single
// lightweight Node through every lifecycle stage a CLI session would:
// register a Worker, commit a one-Node graph, start previewing,
// promote to recording, stop, collect, then reset.
func TestFullPipelineCommitStartRecordStopCollectReset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	appCfg := config.Default()
	log := zerolog.Nop()

	mgr := manager.New(manager.Config{
		ID:               "m1",
		CommitTimeout:    5 * time.Second,
		LifecycleTimeout: 5 * time.Second,
	}, manager.NewHTTPWorkerClient(2*time.Second), log)
	mgr.Start()
	defer func() { _ = mgr.Shutdown(context.Background()) }()

	apiSrv := api.NewServer(mgr, appCfg, log)
	managerSrv := httptest.NewServer(apiSrv.Engine())
	defer managerSrv.Close()

	registry := node.NewRegistry()
	registry.Register("camera", func(cfg types.NodeConfig) (node.UserNode, error) {
		return camNode{}, nil
	})

	w, err := worker.New(worker.Config{
		ID:                "w1",
		Name:              "edge-box",
		ManagerAddr:       managerSrv.URL,
		HeartbeatInterval: 20 * time.Millisecond,
	}, registry, appCfg, log)
	require.NoError(t, err)
	defer w.Shutdown()

	workerSrv := httptest.NewServer(w.Engine())
	defer workerSrv.Close()
	workerIP, workerPort := hostPort(t, workerSrv.URL)

	c := client.New(managerSrv.URL, 2*time.Second, 0, 0)

	require.NoError(t, c.RegisterWorker(context.Background(), "w1", "edge-box", workerIP, workerPort, ""))

	hbCtx, cancelHB := context.WithCancel(context.Background())
	defer cancelHB()
	go w.RunHeartbeat(hbCtx)

	graph := types.Graph{Nodes: map[string]types.NodeConfig{
		"n1": {Kind: "camera", Name: "cam", Lightweight: true},
	}}
	mapping := types.Mapping{"n1": "w1"}

	_, err = c.CommitGraph(context.Background(), graph, mapping)
	require.NoError(t, err)

	state, err := c.State(context.Background())
	require.NoError(t, err)
	require.Contains(t, state.Workers, "w1")
	assert.Equal(t, types.FSMReady, state.Workers["w1"].Nodes["n1"].FSM)

	_, err = c.Start(context.Background(), false)
	require.NoError(t, err)
	state, err = c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FSMPreviewing, state.Workers["w1"].Nodes["n1"].FSM)

	_, err = c.Record(context.Background())
	require.NoError(t, err)
	state, err = c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FSMRecording, state.Workers["w1"].Nodes["n1"].FSM)

	_, err = c.Stop(context.Background())
	require.NoError(t, err)
	state, err = c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FSMStopped, state.Workers["w1"].Nodes["n1"].FSM)

	_, err = c.Collect(context.Background())
	require.NoError(t, err)
	state, err = c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FSMSaved, state.Workers["w1"].Nodes["n1"].FSM)

	result, err := c.RequestMethod(context.Background(), "n1", "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"ping"}`, string(result))

	_, err = c.Reset(context.Background(), true)
	require.NoError(t, err)
}
