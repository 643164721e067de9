package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/node"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

const nodeHandshakeTimeout = 10 * time.Second

// NodeHandler owns every Node running under one Worker, whichever way
// each is hosted, and is the thing a Worker's south-bound HTTP routes
// call into. It also runs the control-channel listener subprocess
// Nodes dial back into to hand shake before any command is sent.
type NodeHandler struct {
	log      zerolog.Logger
	bus      *events.Bus
	registry *node.Registry

	binary string
	ln     net.Listener

	mu         sync.Mutex
	procs      map[string]nodeProcess
	states     map[string]*types.NodeState
	serverData map[string]types.NodeServerData
	pending    map[string]chan *controlConn
	closing    bool
}

// NewNodeHandler starts the control-channel listener and returns a
// handler ready to create Nodes. registry resolves a NodeConfig's
// Kind to a concrete UserNode for the in-process (lightweight) path.
func NewNodeHandler(bus *events.Bus, registry *node.Registry, log zerolog.Logger) (*NodeHandler, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("worker: listen control channel: %w", err)
	}
	binary, err := os.Executable()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("worker: resolve self executable: %w", err)
	}

	h := &NodeHandler{
		log:      log,
		bus:      bus,
		registry: registry,
		binary:   binary,
		ln:       ln,
		procs:      make(map[string]nodeProcess),
		states:     make(map[string]*types.NodeState),
		serverData: make(map[string]types.NodeServerData),
		pending:    make(map[string]chan *controlConn),
	}
	go h.acceptLoop()
	return h, nil
}

func (h *NodeHandler) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			h.mu.Lock()
			closing := h.closing
			h.mu.Unlock()
			if closing {
				return
			}
			h.log.Error().Err(err).Msg("control channel accept failed")
			continue
		}
		go h.handshake(conn)
	}
}

func (h *NodeHandler) handshake(conn net.Conn) {
	cc := newControlConn(conn)
	cmd, err := cc.recvCommand()
	if err != nil || cmd.Cmd != "handshake" {
		conn.Close()
		return
	}

	h.mu.Lock()
	wait, ok := h.pending[cmd.NodeID]
	h.mu.Unlock()
	if !ok {
		conn.Close()
		return
	}
	wait <- cc
}

// CreateNode builds and connects a new Node identified by nodeID,
// hosting it in-process when cfg.Lightweight is set and in a
// subordinate OS process otherwise.
func (h *NodeHandler) CreateNode(ctx context.Context, nodeID string, cfg types.NodeConfig) (types.NodeServerData, error) {
	h.mu.Lock()
	if _, exists := h.procs[nodeID]; exists {
		h.mu.Unlock()
		return types.NodeServerData{}, fmt.Errorf("node %q already exists", nodeID)
	}
	h.mu.Unlock()

	var proc nodeProcess
	var methods map[string]types.RegisteredMethod
	if cfg.Lightweight {
		user, err := h.registry.Build(cfg)
		if err != nil {
			return types.NodeServerData{}, err
		}
		proc = newInProcessNode(nodeID, cfg.Name, user, h.log)
		if mh, ok := user.(node.MethodHandler); ok {
			methods = mh.RegisteredMethods()
		}
	} else {
		wait := make(chan *controlConn, 1)
		h.mu.Lock()
		h.pending[nodeID] = wait
		h.mu.Unlock()
		defer func() {
			h.mu.Lock()
			delete(h.pending, nodeID)
			h.mu.Unlock()
		}()

		cmd, err := spawnNodeProcess(h.binary, h.ln.Addr().String(), nodeID, cfg)
		if err != nil {
			return types.NodeServerData{}, err
		}

		select {
		case conn := <-wait:
			proc = newSubprocessNode(cmd, conn)
		case <-time.After(nodeHandshakeTimeout):
			_ = cmd.Process.Kill()
			return types.NodeServerData{}, &types.TimeoutError{Operation: "node " + nodeID + " handshake", Timeout: nodeHandshakeTimeout.String()}
		}
	}

	data, err := proc.Connect("0.0.0.0", 0)
	if err != nil {
		proc.Kill()
		return types.NodeServerData{}, err
	}

	h.mu.Lock()
	h.procs[nodeID] = proc
	h.states[nodeID] = types.NewNodeState(nodeID, cfg.Name)
	h.states[nodeID].FSM = types.FSMConnected
	for name, rm := range methods {
		h.states[nodeID].RegisteredMethods[name] = rm
	}
	h.serverData[nodeID] = data
	h.mu.Unlock()

	go h.watch(nodeID, proc)
	return data, nil
}

// watch drains a Node's events for as long as it lives, keeping
// NodeHandler's local state in sync and publishing lifecycle events
// onto the bus so the Worker's heartbeat loop can report them
// upstream.
func (h *NodeHandler) watch(nodeID string, proc nodeProcess) {
	for ev := range proc.Events() {
		switch ev.Event {
		case "state":
			h.mu.Lock()
			if ns, ok := h.states[nodeID]; ok {
				ns.FSM = ev.FSM
			}
			h.mu.Unlock()
			h.bus.Publish(events.EventNodeStatusChanged, nodeID)
		case "failure":
			h.log.Warn().Str("node_id", nodeID).Str("reason", ev.Reason).Msg("node reported failure")
			h.bus.Publish(events.EventNodeFailed, types.NodeFailed{NodeID: nodeID, Reason: ev.Reason})
		case "gather":
			h.mu.Lock()
			if ns, ok := h.states[nodeID]; ok {
				ns.LastGather = ev.Gather
			}
			h.mu.Unlock()
		}
	}
}

func (h *NodeHandler) proc(nodeID string) (nodeProcess, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.procs[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %q not found", nodeID)
	}
	return p, nil
}

// DestroyNode kills a Node's process/goroutine and forgets it.
func (h *NodeHandler) DestroyNode(nodeID string) error {
	p, err := h.proc(nodeID)
	if err != nil {
		return err
	}
	p.Kill()
	h.mu.Lock()
	delete(h.procs, nodeID)
	delete(h.states, nodeID)
	delete(h.serverData, nodeID)
	h.mu.Unlock()
	return nil
}

// LocalServerData returns the {host, port} fragment this Worker's own
// Nodes publish on, the piece of the global ServerDataTable the
// Manager asks every Worker for during commit_graph (spec.md §6.1
// GET /nodes/server_data).
func (h *NodeHandler) LocalServerData() types.ServerDataTable {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(types.ServerDataTable, len(h.serverData))
	for id, data := range h.serverData {
		out[id] = data
	}
	return out
}

// Snapshot returns a copy of every hosted Node's current NodeState,
// the payload a Worker's heartbeat loop reports to the Manager.
func (h *NodeHandler) Snapshot() map[string]types.NodeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]types.NodeState, len(h.states))
	for id, ns := range h.states {
		out[id] = *ns
	}
	return out
}

// ApplyServerData wires every Node this Worker hosts to every peer in
// table it isn't itself.
func (h *NodeHandler) ApplyServerData(table types.ServerDataTable) error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.procs))
	for id := range h.procs {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, ownID := range ids {
		p, err := h.proc(ownID)
		if err != nil {
			continue
		}
		for peerID, data := range table {
			if peerID == ownID {
				continue
			}
			if err := p.WireUpstream(peerID, data); err != nil {
				return fmt.Errorf("wire %q -> %q: %w", ownID, peerID, err)
			}
		}
	}
	return nil
}

// SetupAll runs Setup on every hosted Node.
func (h *NodeHandler) SetupAll(ctx context.Context) error {
	return h.forEach(func(id string, p nodeProcess) error { return p.Setup(ctx) })
}

// StartAll begins stepping on every hosted Node.
func (h *NodeHandler) StartAll(ctx context.Context, record bool) error {
	return h.forEach(func(id string, p nodeProcess) error { return p.Start(ctx, record) })
}

// RecordAll promotes every already-previewing Node to RECORDING. In
// this implementation stepping is continuous once started, so
// promoting to recording re-issues the same start command with the
// record flag set rather than beginning a new stepping loop.
func (h *NodeHandler) RecordAll(ctx context.Context) error {
	return h.forEach(func(id string, p nodeProcess) error { return p.Start(ctx, true) })
}

// StopAll halts stepping on every hosted Node.
func (h *NodeHandler) StopAll(ctx context.Context) error {
	return h.forEach(func(id string, p nodeProcess) error { return p.Stop(ctx) })
}

// CollectAll tears down every hosted Node, flushing record queues.
func (h *NodeHandler) CollectAll(ctx context.Context) error {
	return h.forEach(func(id string, p nodeProcess) error { return p.Collect(ctx) })
}

func (h *NodeHandler) forEach(fn func(id string, p nodeProcess) error) error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.procs))
	procs := make(map[string]nodeProcess, len(h.procs))
	for id, p := range h.procs {
		ids = append(ids, id)
		procs[id] = p
	}
	h.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := fn(id, procs[id]); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("node %q: %w", id, err)
		}
	}
	return firstErr
}

// PIDs returns the OS process id of every subprocess-hosted Node,
// keyed by node id. In-process Nodes are omitted.
func (h *NodeHandler) PIDs() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.procs))
	for id, p := range h.procs {
		if pid, ok := p.PID(); ok {
			out[id] = pid
		}
	}
	return out
}

// markFailed records nodeID as SHUTDOWN and publishes EventNodeFailed,
// for use by the liveness monitor when a subprocess-hosted Node's PID
// disappears without going through a normal control-channel teardown.
func (h *NodeHandler) markFailed(nodeID, reason string) {
	h.mu.Lock()
	if ns, ok := h.states[nodeID]; ok {
		ns.FSM = types.FSMShutdown
	}
	h.mu.Unlock()
	h.bus.Publish(events.EventNodeFailed, types.NodeFailed{NodeID: nodeID, Reason: reason})
}

// Gather returns the last advisory gather value reported by every
// hosted Node.
func (h *NodeHandler) Gather() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.states))
	for id, ns := range h.states {
		out[id] = ns.LastGather
	}
	return out
}

// RegisteredMethods returns every hosted Node's registered methods,
// keyed by "<node id>/<method name>". Only in-process (Lightweight)
// Nodes have their methods listed; a subprocess-hosted Node lists none.
func (h *NodeHandler) RegisteredMethods() map[string]types.RegisteredMethod {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]types.RegisteredMethod)
	for id, ns := range h.states {
		for name, rm := range ns.RegisteredMethods {
			out[id+"/"+name] = rm
		}
	}
	return out
}

// RequestMethod dispatches a registered method call to nodeID.
func (h *NodeHandler) RequestMethod(ctx context.Context, nodeID, method string, params json.RawMessage) (json.RawMessage, error) {
	p, err := h.proc(nodeID)
	if err != nil {
		return nil, err
	}
	return p.Method(ctx, method, params)
}

// ResetAll resets every hosted Node back to READY without tearing
// down the Worker's registration.
func (h *NodeHandler) ResetAll(ctx context.Context) error {
	if err := h.StopAll(ctx); err != nil {
		h.log.Warn().Err(err).Msg("reset: stop before teardown failed")
	}
	return h.forEach(func(id string, p nodeProcess) error {
		if err := p.Collect(ctx); err != nil {
			return err
		}
		return p.Setup(ctx)
	})
}

// Shutdown kills every hosted Node and closes the control listener.
func (h *NodeHandler) Shutdown() {
	h.mu.Lock()
	h.closing = true
	procs := make([]nodeProcess, 0, len(h.procs))
	for _, p := range h.procs {
		procs = append(procs, p)
	}
	h.procs = make(map[string]nodeProcess)
	h.states = make(map[string]*types.NodeState)
	h.mu.Unlock()

	for _, p := range procs {
		p.Kill()
	}
	h.ln.Close()
}
