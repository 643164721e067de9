package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/node"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// nodeProcess is the NodeHandler's view of one running Node,
// whatever is hosting it (an in-process goroutine or a subordinate
// OS process talking over a control-channel socket).
type nodeProcess interface {
	Connect(host string, port int) (types.NodeServerData, error)
	WireUpstream(nodeID string, data types.NodeServerData) error
	Setup(ctx context.Context) error
	Start(ctx context.Context, record bool) error
	Stop(ctx context.Context) error
	Collect(ctx context.Context) error
	Method(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	Kill()
	Events() <-chan controlEvent

	// PID returns the OS process id backing this Node, if any.
	// inProcessNode has none and returns false.
	PID() (int, bool)
}

// inProcessNode hosts a UserNode directly inside the Worker process
// via node.Runtime, the "thread for lightweight cases" path.
type inProcessNode struct {
	rt      *node.Runtime
	ch      *node.InProcessChannel
	out     chan controlEvent
	handler node.MethodHandler
}

func newInProcessNode(id, name string, user node.UserNode, log zerolog.Logger) *inProcessNode {
	ch := node.NewInProcessChannel()
	rt := node.NewRuntime(id, name, user, ch, log)
	p := &inProcessNode{rt: rt, ch: ch, out: make(chan controlEvent, 32)}
	if h, ok := user.(node.MethodHandler); ok {
		p.handler = h
	}
	go p.pump()
	return p
}

func (p *inProcessNode) pump() {
	for {
		select {
		case fsm, ok := <-p.ch.State:
			if !ok {
				return
			}
			p.out <- controlEvent{Event: "state", FSM: fsm}
		case reason, ok := <-p.ch.Failures:
			if !ok {
				return
			}
			p.out <- controlEvent{Event: "failure", Reason: reason}
		case gather, ok := <-p.ch.Gathers:
			if !ok {
				return
			}
			p.out <- controlEvent{Event: "gather", Gather: gather}
		}
	}
}

func (p *inProcessNode) Events() <-chan controlEvent { return p.out }

func (p *inProcessNode) Connect(host string, port int) (types.NodeServerData, error) {
	p.rt.Initialize()
	return p.rt.Connect(host, port, 64)
}

func (p *inProcessNode) WireUpstream(nodeID string, data types.NodeServerData) error {
	return p.rt.WireUpstream(nodeID, data)
}

func (p *inProcessNode) Setup(ctx context.Context) error {
	return p.rt.Setup(ctx)
}

func (p *inProcessNode) Start(ctx context.Context, rec bool) error {
	p.rt.StartStepping(ctx, rec)
	return nil
}

func (p *inProcessNode) Stop(ctx context.Context) error {
	return p.rt.StopStepping(10 * time.Second)
}

func (p *inProcessNode) Collect(ctx context.Context) error {
	return p.rt.Teardown(ctx)
}

func (p *inProcessNode) Method(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if p.handler == nil {
		return nil, fmt.Errorf("node does not expose registered methods")
	}
	return dispatchMethod(ctx, p.rt, p.handler, method, params)
}

// dispatchMethod invokes method on handler, branching on its
// RegisteredMethods Style per spec.md §4.11: concurrent runs inline
// alongside Step, blocking quiesces the step loop for the duration of
// the call and resumes it afterward, and reset does the same but
// additionally forces rt back to READY once the call returns. Shared
// by both the in-process path (inProcessNode) and the subprocess
// control-loop path (RunSubprocessNode), since both host the same
// node.Runtime shape.
func dispatchMethod(ctx context.Context, rt *node.Runtime, handler node.MethodHandler, method string, params json.RawMessage) (json.RawMessage, error) {
	style := types.MethodStyleConcurrent
	if rm, ok := handler.RegisteredMethods()[method]; ok {
		style = rm.Style
	}

	if style != types.MethodStyleBlocking && style != types.MethodStyleReset {
		result, err := handler.HandleMethod(ctx, method, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}

	fsm := rt.FSM()
	if style == types.MethodStyleReset && fsm != types.FSMReady && fsm != types.FSMPreviewing {
		return nil, fmt.Errorf("node: reset-style method %q requires READY or PREVIEWING, got %s", method, fsm)
	}

	wasStepping := fsm == types.FSMPreviewing || fsm == types.FSMRecording
	recording := fsm == types.FSMRecording
	if wasStepping {
		if err := rt.StopStepping(10 * time.Second); err != nil {
			return nil, err
		}
	}

	result, callErr := handler.HandleMethod(ctx, method, params)

	if style == types.MethodStyleReset {
		if err := rt.Reset(ctx); err != nil && callErr == nil {
			callErr = err
		}
	} else if wasStepping {
		rt.StartStepping(ctx, recording)
	}

	if callErr != nil {
		return nil, callErr
	}
	return json.Marshal(result)
}

func (p *inProcessNode) Kill() {
	p.rt.Shutdown()
}

func (p *inProcessNode) PID() (int, bool) { return 0, false }

// subprocessNode hosts a Node in a subordinate OS process, wired to
// the NodeHandler through a control-channel TCP socket, the
// "process preferred" path from spec.md §9.
type subprocessNode struct {
	cmd  *exec.Cmd
	conn *controlConn
	out  chan controlEvent
	done chan struct{}

	mu      sync.Mutex
	waiting chan controlEvent // non-nil while a synchronous call is in flight
}

// spawnNodeProcess forks the subordinate OS process for cfg. The
// caller is responsible for accepting the resulting control-channel
// connection (the child dials back and hands shakes with its node
// id) and passing it to newSubprocessNode.
func spawnNodeProcess(binary, controlAddr, nodeID string, cfg types.NodeConfig) (*exec.Cmd, error) {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(binary, "internal-run-node")
	cmd.Env = append(os.Environ(),
		"FLEETGRAPH_NODE_CONFIG="+string(cfgBytes),
		"FLEETGRAPH_CONTROL_ADDR="+controlAddr,
		"FLEETGRAPH_NODE_ID="+nodeID,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker: spawn node process: %w", err)
	}
	return cmd, nil
}

// newSubprocessNode wraps an already-handshaken control connection
// for a running child process.
func newSubprocessNode(cmd *exec.Cmd, conn *controlConn) *subprocessNode {
	p := &subprocessNode{cmd: cmd, conn: conn, out: make(chan controlEvent, 32), done: make(chan struct{})}
	go p.pump()
	return p
}

// pump reads every event the child sends and either routes it to a
// pending synchronous call (await) or forwards it to Events() for
// the NodeHandler's background loop to consume.
func (p *subprocessNode) pump() {
	defer close(p.done)
	for {
		ev, err := p.conn.recvEvent()
		if err != nil {
			return
		}

		p.mu.Lock()
		waiter := p.waiting
		p.mu.Unlock()

		if waiter != nil && (ev.Event == "server_data" || ev.Event == "method_result" || ev.Event == "failure") {
			waiter <- ev
			continue
		}
		p.out <- ev
	}
}

// await registers a one-shot waiter for the next matching reply
// event, sends cmd, and blocks for the reply.
func (p *subprocessNode) await(cmd controlCommand) (controlEvent, error) {
	reply := make(chan controlEvent, 1)
	p.mu.Lock()
	p.waiting = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.waiting = nil
		p.mu.Unlock()
	}()

	if err := p.conn.sendCommand(cmd); err != nil {
		return controlEvent{}, err
	}

	select {
	case ev := <-reply:
		return ev, nil
	case <-p.done:
		return controlEvent{}, fmt.Errorf("node process exited before replying to %q", cmd.Cmd)
	}
}

func (p *subprocessNode) Events() <-chan controlEvent { return p.out }

func (p *subprocessNode) Connect(host string, port int) (types.NodeServerData, error) {
	ev, err := p.await(controlCommand{Cmd: "connect", Host: host, Port: port})
	if err != nil {
		return types.NodeServerData{}, err
	}
	if ev.Event == "failure" {
		return types.NodeServerData{}, fmt.Errorf("node connect failed: %s", ev.Reason)
	}
	if ev.ServerData == nil {
		return types.NodeServerData{}, fmt.Errorf("node connect reply missing server data")
	}
	return *ev.ServerData, nil
}

func (p *subprocessNode) WireUpstream(nodeID string, data types.NodeServerData) error {
	return p.conn.sendCommand(controlCommand{Cmd: "wire_upstream", NodeID: nodeID, Host: data.Host, Port: data.Port})
}

func (p *subprocessNode) Setup(ctx context.Context) error {
	return p.conn.sendCommand(controlCommand{Cmd: "setup"})
}

func (p *subprocessNode) Start(ctx context.Context, rec bool) error {
	return p.conn.sendCommand(controlCommand{Cmd: "start", Record: rec})
}

func (p *subprocessNode) Stop(ctx context.Context) error {
	return p.conn.sendCommand(controlCommand{Cmd: "stop"})
}

func (p *subprocessNode) Collect(ctx context.Context) error {
	return p.conn.sendCommand(controlCommand{Cmd: "collect"})
}

func (p *subprocessNode) Method(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	ev, err := p.await(controlCommand{Cmd: "method", Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if ev.Error != "" {
		return nil, fmt.Errorf("%s", ev.Error)
	}
	return ev.Result, nil
}

func (p *subprocessNode) Kill() {
	p.conn.sendCommand(controlCommand{Cmd: "shutdown"})
	p.conn.Close()
	_ = p.cmd.Process.Kill()
}

func (p *subprocessNode) PID() (int, bool) {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0, false
	}
	return p.cmd.Process.Pid, true
}
