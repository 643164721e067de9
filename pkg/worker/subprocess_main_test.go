package worker

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/node"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

type stepCountingNode struct {
	methods map[string]types.RegisteredMethod
}

func (stepCountingNode) Setup(context.Context) error    { return nil }
func (stepCountingNode) Step(context.Context) error     { time.Sleep(time.Millisecond); return nil }
func (stepCountingNode) Teardown(context.Context) error { return nil }

func (s stepCountingNode) RegisteredMethods() map[string]types.RegisteredMethod { return s.methods }
func (s stepCountingNode) HandleMethod(ctx context.Context, name string, params json.RawMessage) (any, error) {
	return map[string]string{"echo": name}, nil
}

func TestRunSubprocessNodeDrivesFullLifecycleOverControlConn(t *testing.T) {
	registry := node.NewRegistry()
	registry.Register("stub", func(cfg types.NodeConfig) (node.UserNode, error) {
		return stepCountingNode{methods: map[string]types.RegisteredMethod{"ping": {Name: "ping"}}}, nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfgJSON, err := json.Marshal(types.NodeConfig{Kind: "stub", Name: "cam"})
	require.NoError(t, err)

	t.Setenv("FLEETGRAPH_CONTROL_ADDR", ln.Addr().String())
	t.Setenv("FLEETGRAPH_NODE_ID", "n1")
	t.Setenv("FLEETGRAPH_NODE_CONFIG", string(cfgJSON))

	runErr := make(chan error, 1)
	go func() { runErr <- RunSubprocessNode(registry, zerolog.Nop()) }()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	cc := newControlConn(conn)

	handshake, err := cc.recvCommand()
	require.NoError(t, err)
	assert.Equal(t, "handshake", handshake.Cmd)
	assert.Equal(t, "n1", handshake.NodeID)

	// rt.Connect also drives FSM transitions that relayRuntimeEvents
	// reports as "state" events on the same connection; skip those to
	// find the reply this command actually produced.
	awaitEvent := func(want string) controlEvent {
		t.Helper()
		for {
			ev, err := cc.recvEvent()
			require.NoError(t, err)
			if ev.Event == want {
				return ev
			}
		}
	}

	require.NoError(t, cc.sendCommand(controlCommand{Cmd: "connect", Host: "0.0.0.0", Port: 0}))
	ev := awaitEvent("server_data")
	require.NotNil(t, ev.ServerData)

	require.NoError(t, cc.sendCommand(controlCommand{Cmd: "setup"}))
	require.NoError(t, cc.sendCommand(controlCommand{Cmd: "start", Record: false}))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cc.sendCommand(controlCommand{Cmd: "stop"}))

	require.NoError(t, cc.sendCommand(controlCommand{Cmd: "method", Method: "ping"}))
	ev = awaitEvent("method_result")
	assert.JSONEq(t, `{"echo":"ping"}`, string(ev.Result))

	require.NoError(t, cc.sendCommand(controlCommand{Cmd: "collect"}))
	require.NoError(t, cc.sendCommand(controlCommand{Cmd: "shutdown"}))

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunSubprocessNode did not return after shutdown")
	}
}

func TestRunSubprocessNodeErrorsWhenEnvMissing(t *testing.T) {
	t.Setenv("FLEETGRAPH_CONTROL_ADDR", "")
	t.Setenv("FLEETGRAPH_NODE_ID", "")
	t.Setenv("FLEETGRAPH_NODE_CONFIG", "")

	err := RunSubprocessNode(node.NewRegistry(), zerolog.Nop())
	assert.Error(t, err)
}
