package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/network"
	"github.com/fleetgraph/fleetgraph/pkg/record"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// ControlChannel is the narrow interface a Runtime uses to report
// its FSM transitions and failures back to the hosting NodeHandler,
// whether that handler lives in the same process (InProcessChannel)
// or across a subordinate process's control-channel socket.
type ControlChannel interface {
	ReportState(fsm types.FSM)
	ReportFailure(reason string)
	ReportGather(value string)
}

// InProcessChannel is a ControlChannel backed by Go channels,
// used for lightweight Nodes and tests that run in the same process
// as their NodeHandler instead of a forked subprocess.
type InProcessChannel struct {
	State    chan types.FSM
	Failures chan string
	Gathers  chan string
}

// NewInProcessChannel creates an InProcessChannel with reasonably
// buffered channels so ReportState/ReportFailure never block the
// Node's own goroutine.
func NewInProcessChannel() *InProcessChannel {
	return &InProcessChannel{
		State:    make(chan types.FSM, 16),
		Failures: make(chan string, 4),
		Gathers:  make(chan string, 4),
	}
}

func (c *InProcessChannel) ReportState(fsm types.FSM) {
	select {
	case c.State <- fsm:
	default:
	}
}

func (c *InProcessChannel) ReportFailure(reason string) {
	select {
	case c.Failures <- reason:
	default:
	}
}

func (c *InProcessChannel) ReportGather(value string) {
	select {
	case c.Gathers <- value:
	default:
	}
}

// Runtime hosts one UserNode instance through its full FSM,
// owning the Node's Publisher, Subscriber, and record queue and
// gating record enqueue on FSM state (only RECORDING accepts new
// RecordEntry values).
type Runtime struct {
	id   string
	name string
	user UserNode

	log     zerolog.Logger
	control ControlChannel

	pub *network.Publisher
	sub *network.Subscriber

	queues map[string]*record.Queue

	mu      sync.RWMutex
	fsm     types.FSM
	stepErr error

	stopStep chan struct{}
	stepDone chan struct{}
}

// NewRuntime wraps user under a Runtime reporting through control.
func NewRuntime(id, name string, user UserNode, control ControlChannel, log zerolog.Logger) *Runtime {
	return &Runtime{
		id:      id,
		name:    name,
		user:    user,
		control: control,
		log:     log.With().Str("node_id", id).Str("node_name", name).Logger(),
		queues:  make(map[string]*record.Queue),
		fsm:     types.FSMNull,
	}
}

func (r *Runtime) setFSM(fsm types.FSM) {
	r.mu.Lock()
	r.fsm = fsm
	r.mu.Unlock()
	r.control.ReportState(fsm)
}

// FSM returns the Runtime's current lifecycle state.
func (r *Runtime) FSM() types.FSM {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fsm
}

// Initialize marks the Runtime INITIALIZED, the first transition
// after process/goroutine spawn, before any networking is set up.
func (r *Runtime) Initialize() {
	r.setFSM(types.FSMInit)
}

// Connect binds the Node's Publisher socket and marks CONNECTED.
// host is the interface to bind; port 0 picks an OS-assigned port.
func (r *Runtime) Connect(host string, port int, queueDepth int) (types.NodeServerData, error) {
	pub, err := network.NewPublisher(host, port, queueDepth, r.log)
	if err != nil {
		return types.NodeServerData{}, err
	}
	r.pub = pub
	r.sub = network.NewSubscriber(queueDepth, r.log)
	r.setFSM(types.FSMConnected)

	boundHost, boundPort := pub.Addr()
	return types.NodeServerData{Host: boundHost, Port: boundPort}, nil
}

// WireUpstream connects this Node's Subscriber to an upstream Node's
// published address, per the peer table the Manager broadcasts.
func (r *Runtime) WireUpstream(nodeID string, data types.NodeServerData) error {
	return r.sub.Connect(nodeID, data.Host, data.Port)
}

// Setup runs the UserNode's Setup hook and marks READY on success.
func (r *Runtime) Setup(ctx context.Context) error {
	if err := r.user.Setup(ctx); err != nil {
		r.control.ReportFailure(fmt.Sprintf("setup: %v", err))
		return err
	}
	r.setFSM(types.FSMReady)
	return nil
}

// StartStepping begins calling the UserNode's Step hook on its own
// goroutine, transitioning to recording if record is true or
// previewing otherwise. If the step loop is already running, only the
// FSM changes; no second loop is started.
func (r *Runtime) StartStepping(ctx context.Context, recording bool) {
	running := false
	if r.stepDone != nil {
		select {
		case <-r.stepDone:
		default:
			running = true
		}
	}
	if !running {
		r.stopStep = make(chan struct{})
		r.stepDone = make(chan struct{})
	}

	if recording {
		r.setFSM(types.FSMRecording)
	} else {
		r.setFSM(types.FSMPreviewing)
	}

	if !running {
		go r.stepLoop(ctx)
	}
}

// maxConsecutiveStepFailures is the spec.md §7 threshold: three
// consecutive step errors while RECORDING demote the Node to STOPPED
// and raise NodeFailed. A single transient error never halts the Node.
const maxConsecutiveStepFailures = 3

func (r *Runtime) stepLoop(ctx context.Context) {
	defer close(r.stepDone)
	var consecutiveFailures int
	for {
		select {
		case <-r.stopStep:
			return
		case <-ctx.Done():
			return
		default:
		}
		err := r.user.Step(ctx)
		if err == nil {
			consecutiveFailures = 0
			continue
		}

		consecutiveFailures++
		r.log.Warn().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("step failed")
		if consecutiveFailures < maxConsecutiveStepFailures || r.FSM() != types.FSMRecording {
			continue
		}

		r.mu.Lock()
		r.stepErr = err
		r.mu.Unlock()
		r.control.ReportFailure(fmt.Sprintf("step: %v", err))
		r.setFSM(types.FSMStopped)
		return
	}
}

// StopStepping halts the step loop and waits for it to exit, then
// marks STOPPED.
func (r *Runtime) StopStepping(timeout time.Duration) error {
	if r.stopStep == nil {
		r.setFSM(types.FSMStopped)
		return nil
	}
	close(r.stopStep)
	select {
	case <-r.stepDone:
	case <-time.After(timeout):
		return &types.TimeoutError{Operation: "stop node " + r.id, Timeout: timeout.String()}
	}
	r.setFSM(types.FSMStopped)

	r.mu.RLock()
	err := r.stepErr
	r.mu.RUnlock()
	return err
}

// Teardown runs the UserNode's Teardown hook, closes every record
// queue, and marks SAVED.
func (r *Runtime) Teardown(ctx context.Context) error {
	var firstErr error
	for stream, q := range r.queues {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("record queue %q: %w", stream, err)
		}
	}
	if err := r.user.Teardown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	r.setFSM(types.FSMSaved)
	return firstErr
}

// Shutdown closes the Node's networking and marks SHUTDOWN, the
// terminal state.
func (r *Runtime) Shutdown() {
	if r.pub != nil {
		r.pub.Close()
	}
	if r.sub != nil {
		r.sub.Close()
	}
	r.setFSM(types.FSMShutdown)
}

// RegisterStream attaches a record.Writer under stream; subsequent
// Enqueue calls for that stream while RECORDING are delivered to it.
func (r *Runtime) RegisterStream(stream string, writer record.Writer, depth int) {
	r.queues[stream] = record.NewQueue(writer, depth)
}

// Enqueue hands entry to its stream's record queue, but only while
// the Runtime is RECORDING; entries submitted in any other state are
// silently dropped, since a Node is only ever asked to record
// between a start(record=true) and the matching stop.
func (r *Runtime) Enqueue(stream string, entry types.RecordEntry) {
	if r.FSM() != types.FSMRecording {
		return
	}
	q, ok := r.queues[stream]
	if !ok {
		r.log.Warn().Str("stream", stream).Msg("enqueue to unregistered stream")
		return
	}
	q.Enqueue(entry)
}

// Publish sends chunk to every connected Subscriber.
func (r *Runtime) Publish(chunk *types.DataChunk) {
	if r.pub != nil {
		r.pub.Send(chunk)
	}
}

// Receive waits up to timeout for the next chunk from any upstream
// Node this Runtime subscribes to.
func (r *Runtime) Receive(timeout time.Duration) (*types.DataChunk, bool) {
	if r.sub == nil {
		return nil, false
	}
	return r.sub.Receive(timeout)
}

// Gather reports a non-authoritative diagnostic value through the
// control channel. Per spec.md's Design Notes, gather values are
// advisory only and no operation blocks on them.
func (r *Runtime) Gather(value string) {
	r.control.ReportGather(value)
}

// Reset tears the Runtime back down to READY: stops stepping if
// running, tears down and re-runs setup, without a full shutdown.
func (r *Runtime) Reset(ctx context.Context) error {
	if r.FSM() == types.FSMPreviewing || r.FSM() == types.FSMRecording {
		if err := r.StopStepping(10 * time.Second); err != nil {
			return err
		}
	}
	if err := r.Teardown(ctx); err != nil {
		return err
	}
	return r.Setup(ctx)
}
