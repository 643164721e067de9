package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/scheduler"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// WorkerHandler orchestrates every registered Worker through the
// commit/start/record/stop/collect/reset lifecycle and dispatches
// registered-method calls. Every fan-out operation iterates Workers
// in id-sorted order so broadcasts are deterministic across runs.
type WorkerHandler struct {
	mgr    *Manager
	client WorkerClient
	poller *scheduler.Poller

	sf singleflight.Group

	graph   types.Graph
	mapping types.Mapping
}

// NewWorkerHandler builds a WorkerHandler bound to mgr and client.
// Convergence waits (AwaitFSM) read ManagerState as kept current by
// each Worker's heartbeat (spec.md §4.6), so no extra network call is
// needed per poll tick.
func NewWorkerHandler(mgr *Manager, client WorkerClient) *WorkerHandler {
	h := &WorkerHandler{mgr: mgr, client: client}
	h.poller = scheduler.NewPoller(h.nodeFSM, mgr.bus, scheduler.DefaultInterval)
	return h
}

// nodeFSM looks up a Node's last-reported FSM from live ManagerState,
// satisfying scheduler.FSMSource.
func (h *WorkerHandler) nodeFSM(nodeID string) (types.FSM, bool) {
	var fsm types.FSM
	var ok bool
	h.mgr.state.View(func(s *types.ManagerState) {
		for _, ws := range s.Workers {
			if ns, exists := ws.Nodes[nodeID]; exists {
				fsm, ok = ns.FSM, true
				return
			}
		}
	})
	return fsm, ok
}

// allMappedNodeIDs returns every Node id in the committed Mapping, in
// id-sorted order.
func (h *WorkerHandler) allMappedNodeIDs() []string {
	ids := make([]string, 0, len(h.mapping))
	for id := range h.mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *WorkerHandler) sortedWorkerIDs() []string {
	var ids []string
	h.mgr.state.View(func(s *types.ManagerState) {
		ids = make([]string, 0, len(s.Workers))
		for id := range s.Workers {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

func (h *WorkerHandler) nodesForWorker(workerID string) []string {
	var nodeIDs []string
	for nodeID, mappedWorker := range h.mapping {
		if mappedWorker == workerID {
			nodeIDs = append(nodeIDs, nodeID)
		}
	}
	sort.Strings(nodeIDs)
	return nodeIDs
}

// broadcast runs fn against every registered Worker's address
// concurrently, collecting a PartialCompletion rather than aborting
// on the first failure.
func (h *WorkerHandler) broadcast(ctx context.Context, fn func(ctx context.Context, workerID, addr string) error) *types.PartialCompletion {
	result := types.NewPartialCompletion()
	ids := h.sortedWorkerIDs()

	var mu sortSafeMutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			addr, err := h.mgr.WorkerAddr(id)
			if err != nil {
				mu.fail(result, id, err.Error())
				return nil
			}
			if err := fn(gctx, id, addr); err != nil {
				mu.fail(result, id, err.Error())
				return nil
			}
			mu.succeed(result, id)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// CommitGraph instantiates every Node in graph on its mapped Worker,
// then broadcasts the resulting peer table so every Node can wire
// its Subscriber to every upstream Node it depends on.
func (h *WorkerHandler) CommitGraph(ctx context.Context, graph types.Graph, mapping types.Mapping) (*types.PartialCompletion, error) {
	for nodeID := range graph.Nodes {
		if _, ok := mapping[nodeID]; !ok {
			return nil, &types.CommitError{Reason: fmt.Sprintf("node %q has no worker mapping", nodeID)}
		}
	}

	h.graph = graph
	h.mapping = mapping

	serverData := make(types.ServerDataTable)
	var sdMu sortSafeMutex

	result := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		for _, nodeID := range h.nodesForWorker(workerID) {
			cfg := graph.Nodes[nodeID]
			data, err := h.client.CreateNode(ctx, addr, nodeID, cfg)
			if err != nil {
				return fmt.Errorf("create node %q: %w", nodeID, err)
			}
			sdMu.setServerData(serverData, nodeID, data)

			h.mgr.state.Mutate(func(s *types.ManagerState) {
				ws, ok := s.Workers[workerID]
				if !ok {
					return
				}
				ws.Nodes[nodeID] = types.NewNodeState(nodeID, cfg.Name)
				ws.Nodes[nodeID].FSM = types.FSMConnected
			})
			h.mgr.bus.Publish(events.EventNodeCreated, nodeID)
		}
		return nil
	})
	if !result.Ok() {
		return result, &types.CommitError{Reason: "one or more nodes failed to create"}
	}

	propagated := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		return h.client.ServerData(ctx, addr, serverData)
	})
	if !propagated.Ok() {
		return propagated, &types.CommitError{Reason: "failed to propagate peer table to one or more workers"}
	}

	converged, err := h.poller.AwaitFSM(ctx, h.allMappedNodeIDs(), types.FSMReady, h.mgr.cfg.CommitTimeout)
	if err != nil {
		return converged, &types.CommitError{Reason: "one or more nodes never reached READY", Cause: err}
	}

	return converged, nil
}

// Start asks every Worker to transition its Nodes to PREVIEWING (or
// RECORDING if record is true) and begin stepping, then waits for
// every targeted Node to report the resulting state.
func (h *WorkerHandler) Start(ctx context.Context, record bool) *types.PartialCompletion {
	result := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		return h.client.Start(ctx, addr, record)
	})
	if !result.Ok() {
		return result
	}
	target := types.FSMPreviewing
	if record {
		target = types.FSMRecording
	}
	converged, _ := h.poller.AwaitFSM(ctx, h.allMappedNodeIDs(), target, h.mgr.cfg.LifecycleTimeout)
	return converged
}

// Record transitions every already-previewing Node to RECORDING.
func (h *WorkerHandler) Record(ctx context.Context) *types.PartialCompletion {
	result := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		return h.client.Record(ctx, addr)
	})
	if !result.Ok() {
		return result
	}
	converged, _ := h.poller.AwaitFSM(ctx, h.allMappedNodeIDs(), types.FSMRecording, h.mgr.cfg.LifecycleTimeout)
	return converged
}

// Stop halts stepping on every Node, moving it to STOPPED.
func (h *WorkerHandler) Stop(ctx context.Context) *types.PartialCompletion {
	result := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		return h.client.Stop(ctx, addr)
	})
	if !result.Ok() {
		return result
	}
	converged, _ := h.poller.AwaitFSM(ctx, h.allMappedNodeIDs(), types.FSMStopped, h.mgr.cfg.LifecycleTimeout)
	return converged
}

// Collect tears every Node down, flushing its record queues, moving
// it to SAVED.
func (h *WorkerHandler) Collect(ctx context.Context) *types.PartialCompletion {
	result := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		return h.client.Collect(ctx, addr)
	})
	if !result.Ok() {
		return result
	}
	converged, _ := h.poller.AwaitFSM(ctx, h.allMappedNodeIDs(), types.FSMSaved, h.mgr.cfg.LifecycleTimeout)
	return converged
}

// Reset asks every Worker to reset its Nodes back to READY. When
// keepWorkers is true Worker registration itself is left untouched;
// when false every Worker is also deregistered after resetting.
func (h *WorkerHandler) Reset(ctx context.Context, keepWorkers bool) *types.PartialCompletion {
	result := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		return h.client.Reset(ctx, addr)
	})
	if keepWorkers {
		h.mgr.state.Mutate(func(s *types.ManagerState) {
			for _, ws := range s.Workers {
				ws.Nodes = make(map[string]*types.NodeState)
			}
		})
	} else {
		for _, id := range h.sortedWorkerIDs() {
			h.mgr.DeregisterWorker(id)
		}
	}
	h.mapping = nil
	return result
}

// RequestRegisteredMethod invokes a registered method on nodeID,
// collapsing concurrent calls to the same (node, method) pair into
// one in-flight request via singleflight, matching the "blocking"
// dispatch style's requirement that only one invocation of a given
// method run at a time.
func (h *WorkerHandler) RequestRegisteredMethod(ctx context.Context, nodeID, method string, params json.RawMessage) (json.RawMessage, error) {
	workerID, ok := h.mapping[nodeID]
	if !ok {
		return nil, fmt.Errorf("manager: node %q is not committed to any worker", nodeID)
	}
	addr, err := h.mgr.WorkerAddr(workerID)
	if err != nil {
		return nil, err
	}

	key := nodeID + "/" + method
	v, err, _ := h.sf.Do(key, func() (interface{}, error) {
		return h.client.RequestMethod(ctx, addr, nodeID, method, params)
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// Shutdown asks every Worker to shut down and then clears cluster
// membership.
func (h *WorkerHandler) Shutdown(ctx context.Context) *types.PartialCompletion {
	result := h.broadcast(ctx, func(ctx context.Context, workerID, addr string) error {
		return h.client.Shutdown(ctx, addr)
	})
	for _, id := range h.sortedWorkerIDs() {
		h.mgr.DeregisterWorker(id)
	}
	return result
}
