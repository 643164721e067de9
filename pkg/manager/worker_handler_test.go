package manager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// fakeWorkerClient is an in-memory WorkerClient stub: every Start/
// Record/Stop/Collect call immediately advances the fake
// cluster's own ManagerState as if the Worker had reported back over
// heartbeat, so WorkerHandler's AwaitFSM convergence waits resolve
// without a real network round trip.
type fakeWorkerClient struct {
	mu      sync.Mutex
	mgr     *Manager
	failing map[string]bool // node ids that should fail CreateNode

	methodResult json.RawMessage
	methodErr    error
	methodCalls  int
}

func (f *fakeWorkerClient) setNodeFSM(nodeID string, fsm types.FSM) {
	f.mgr.state.Mutate(func(s *types.ManagerState) {
		for _, ws := range s.Workers {
			if ns, ok := ws.Nodes[nodeID]; ok {
				ns.FSM = fsm
			}
		}
	})
}

func (f *fakeWorkerClient) CreateNode(ctx context.Context, addr, nodeID string, cfg types.NodeConfig) (types.NodeServerData, error) {
	if f.failing[nodeID] {
		return types.NodeServerData{}, assert.AnError
	}
	return types.NodeServerData{Host: "127.0.0.1", Port: 9000}, nil
}

func (f *fakeWorkerClient) DestroyNode(ctx context.Context, addr, nodeID string) error { return nil }

func (f *fakeWorkerClient) ServerData(ctx context.Context, addr string, table types.ServerDataTable) error {
	return nil
}

func (f *fakeWorkerClient) Gather(ctx context.Context, addr string) (map[string]string, error) {
	return nil, nil
}

func (f *fakeWorkerClient) Step(ctx context.Context, addr string) error { return nil }

func (f *fakeWorkerClient) Start(ctx context.Context, addr string, record bool) error {
	target := types.FSMPreviewing
	if record {
		target = types.FSMRecording
	}
	f.advanceAll(target)
	return nil
}

func (f *fakeWorkerClient) Record(ctx context.Context, addr string) error {
	f.advanceAll(types.FSMRecording)
	return nil
}

func (f *fakeWorkerClient) Stop(ctx context.Context, addr string) error {
	f.advanceAll(types.FSMStopped)
	return nil
}

func (f *fakeWorkerClient) Collect(ctx context.Context, addr string) error {
	f.advanceAll(types.FSMSaved)
	return nil
}

func (f *fakeWorkerClient) RegisteredMethods(ctx context.Context, addr string) (map[string]types.RegisteredMethod, error) {
	return nil, nil
}

func (f *fakeWorkerClient) RequestMethod(ctx context.Context, addr, nodeID, method string, params json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.methodCalls++
	f.mu.Unlock()
	return f.methodResult, f.methodErr
}

func (f *fakeWorkerClient) Reset(ctx context.Context, addr string) error { return nil }

func (f *fakeWorkerClient) Shutdown(ctx context.Context, addr string) error { return nil }

func (f *fakeWorkerClient) advanceAll(fsm types.FSM) {
	f.mgr.state.Mutate(func(s *types.ManagerState) {
		for _, ws := range s.Workers {
			for _, ns := range ws.Nodes {
				ns.FSM = fsm
			}
		}
	})
}

func newTestManager(t *testing.T, client WorkerClient) *Manager {
	t.Helper()
	mgr := New(Config{
		ID:               "m1",
		CommitTimeout:    time.Second,
		LifecycleTimeout: time.Second,
	}, client, zerolog.Nop())
	mgr.Start()
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	return mgr
}

func testGraph() (types.Graph, types.Mapping) {
	graph := types.Graph{
		Nodes: map[string]types.NodeConfig{
			"n1": {Kind: "camera", Name: "cam"},
			"n2": {Kind: "sink", Name: "sink"},
		},
	}
	mapping := types.Mapping{"n1": "w1", "n2": "w1"}
	return graph, mapping
}

func TestCommitGraphRejectsUnmappedNode(t *testing.T) {
	client := &fakeWorkerClient{}
	mgr := newTestManager(t, client)
	client.mgr = mgr

	graph := types.Graph{Nodes: map[string]types.NodeConfig{"n1": {Kind: "camera"}}}
	_, err := mgr.Workers.CommitGraph(context.Background(), graph, types.Mapping{})
	require.Error(t, err)
	_, ok := err.(*types.CommitError)
	assert.True(t, ok)
}

func TestCommitGraphConvergesToReady(t *testing.T) {
	client := &fakeWorkerClient{}
	mgr := newTestManager(t, client)
	client.mgr = mgr
	mgr.RegisterWorker(types.NewWorkerState("w1", "edge-box"))

	graph, mapping := testGraph()
	result, err := mgr.Workers.CommitGraph(context.Background(), graph, mapping)
	require.NoError(t, err)
	assert.True(t, result.Ok())

	mgr.state.View(func(s *types.ManagerState) {
		assert.Equal(t, types.FSMReady, s.Workers["w1"].Nodes["n1"].FSM)
		assert.Equal(t, types.FSMReady, s.Workers["w1"].Nodes["n2"].FSM)
	})
}

func TestCommitGraphReportsPartialFailureOnCreateNode(t *testing.T) {
	client := &fakeWorkerClient{failing: map[string]bool{"n1": true}}
	mgr := newTestManager(t, client)
	client.mgr = mgr
	mgr.RegisterWorker(types.NewWorkerState("w1", "edge-box"))

	graph, mapping := testGraph()
	result, err := mgr.Workers.CommitGraph(context.Background(), graph, mapping)
	require.Error(t, err)
	assert.False(t, result.Ok())
	assert.Contains(t, result.Failed, "w1")
}

func TestStartRecordStopCollectLifecycle(t *testing.T) {
	client := &fakeWorkerClient{}
	mgr := newTestManager(t, client)
	client.mgr = mgr
	mgr.RegisterWorker(types.NewWorkerState("w1", "edge-box"))

	graph, mapping := testGraph()
	_, err := mgr.Workers.CommitGraph(context.Background(), graph, mapping)
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, mgr.Workers.Start(ctx, false).Ok())
	assert.True(t, mgr.Workers.Record(ctx).Ok())
	assert.True(t, mgr.Workers.Stop(ctx).Ok())
	assert.True(t, mgr.Workers.Collect(ctx).Ok())

	mgr.state.View(func(s *types.ManagerState) {
		assert.Equal(t, types.FSMSaved, s.Workers["w1"].Nodes["n1"].FSM)
	})
}

func TestResetKeepWorkersLeavesRegistration(t *testing.T) {
	client := &fakeWorkerClient{}
	mgr := newTestManager(t, client)
	client.mgr = mgr
	mgr.RegisterWorker(types.NewWorkerState("w1", "edge-box"))

	graph, mapping := testGraph()
	_, err := mgr.Workers.CommitGraph(context.Background(), graph, mapping)
	require.NoError(t, err)
	mgr.state.View(func(s *types.ManagerState) {
		assert.NotEmpty(t, s.Workers["w1"].Nodes)
	})

	mgr.Workers.Reset(context.Background(), true)

	mgr.state.View(func(s *types.ManagerState) {
		assert.Contains(t, s.Workers, "w1")
		assert.Empty(t, s.Workers["w1"].Nodes)
	})
}

func TestResetWithoutKeepWorkersDeregistersEveryWorker(t *testing.T) {
	client := &fakeWorkerClient{}
	mgr := newTestManager(t, client)
	client.mgr = mgr
	mgr.RegisterWorker(types.NewWorkerState("w1", "edge-box"))

	mgr.Workers.Reset(context.Background(), false)

	mgr.state.View(func(s *types.ManagerState) {
		assert.NotContains(t, s.Workers, "w1")
	})
}

func TestRequestRegisteredMethodRejectsUncommittedNode(t *testing.T) {
	client := &fakeWorkerClient{}
	mgr := newTestManager(t, client)
	client.mgr = mgr

	_, err := mgr.Workers.RequestRegisteredMethod(context.Background(), "no-such-node", "ping", nil)
	assert.Error(t, err)
}

func TestRequestRegisteredMethodDispatchesToMappedWorker(t *testing.T) {
	client := &fakeWorkerClient{methodResult: json.RawMessage(`{"ok":true}`)}
	mgr := newTestManager(t, client)
	client.mgr = mgr
	mgr.RegisterWorker(types.NewWorkerState("w1", "edge-box"))

	graph, mapping := testGraph()
	_, err := mgr.Workers.CommitGraph(context.Background(), graph, mapping)
	require.NoError(t, err)

	result, err := mgr.Workers.RequestRegisteredMethod(context.Background(), "n1", "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, 1, client.methodCalls)
}

func TestShutdownDeregistersEveryWorker(t *testing.T) {
	client := &fakeWorkerClient{}
	mgr := newTestManager(t, client)
	client.mgr = mgr
	mgr.RegisterWorker(types.NewWorkerState("w1", "edge-box"))
	mgr.RegisterWorker(types.NewWorkerState("w2", "edge-box-2"))

	mgr.Workers.Shutdown(context.Background())

	mgr.state.View(func(s *types.ManagerState) {
		assert.Empty(t, s.Workers)
	})
}
