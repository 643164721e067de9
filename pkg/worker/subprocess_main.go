package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/node"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// RunSubprocessNode is the entry point a Worker binary's
// internal-run-node subcommand calls after spawnNodeProcess execs it.
// It dials FLEETGRAPH_CONTROL_ADDR, hands shakes with
// FLEETGRAPH_NODE_ID, builds the UserNode described by
// FLEETGRAPH_NODE_CONFIG from registry, and drives it through a
// node.Runtime until the parent closes the control connection or
// sends "shutdown".
func RunSubprocessNode(registry *node.Registry, log zerolog.Logger) error {
	addr := os.Getenv("FLEETGRAPH_CONTROL_ADDR")
	nodeID := os.Getenv("FLEETGRAPH_NODE_ID")
	cfgJSON := os.Getenv("FLEETGRAPH_NODE_CONFIG")
	if addr == "" || nodeID == "" || cfgJSON == "" {
		return fmt.Errorf("worker: internal-run-node requires FLEETGRAPH_CONTROL_ADDR, FLEETGRAPH_NODE_ID and FLEETGRAPH_NODE_CONFIG")
	}

	var cfg types.NodeConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return fmt.Errorf("worker: decode node config: %w", err)
	}

	user, err := registry.Build(cfg)
	if err != nil {
		return fmt.Errorf("worker: build node kind %q: %w", cfg.Kind, err)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("worker: dial control channel %s: %w", addr, err)
	}
	cc := newControlConn(conn)
	defer cc.Close()

	if err := cc.sendCommand(controlCommand{Cmd: "handshake", NodeID: nodeID}); err != nil {
		return fmt.Errorf("worker: send handshake: %w", err)
	}

	ch := node.NewInProcessChannel()
	rt := node.NewRuntime(nodeID, cfg.Name, user, ch, log)
	rt.Initialize()

	var handler node.MethodHandler
	if h, ok := user.(node.MethodHandler); ok {
		handler = h
	}

	go relayRuntimeEvents(ch, cc)

	ctx := context.Background()
	for {
		cmd, err := cc.recvCommand()
		if err != nil {
			rt.Shutdown()
			return nil
		}

		switch cmd.Cmd {
		case "connect":
			data, err := rt.Connect(cmd.Host, cmd.Port, 64)
			if err != nil {
				_ = cc.sendEvent(controlEvent{Event: "failure", Reason: err.Error()})
				continue
			}
			_ = cc.sendEvent(controlEvent{Event: "server_data", ServerData: &data})

		case "wire_upstream":
			if err := rt.WireUpstream(cmd.NodeID, types.NodeServerData{Host: cmd.Host, Port: cmd.Port}); err != nil {
				log.Warn().Err(err).Str("upstream", cmd.NodeID).Msg("wire upstream failed")
			}

		case "setup":
			if err := rt.Setup(ctx); err != nil {
				log.Warn().Err(err).Msg("node setup failed")
			}

		case "start":
			rt.StartStepping(ctx, cmd.Record)

		case "stop":
			if err := rt.StopStepping(10 * time.Second); err != nil {
				log.Warn().Err(err).Msg("node stop failed")
			}

		case "collect":
			if err := rt.Teardown(ctx); err != nil {
				log.Warn().Err(err).Msg("node teardown failed")
			}

		case "method":
			if handler == nil {
				_ = cc.sendEvent(controlEvent{Event: "method_result", Error: "node does not expose registered methods"})
				continue
			}
			payload, err := dispatchMethod(ctx, rt, handler, cmd.Method, cmd.Params)
			if err != nil {
				_ = cc.sendEvent(controlEvent{Event: "method_result", Error: err.Error()})
				continue
			}
			_ = cc.sendEvent(controlEvent{Event: "method_result", Result: payload})

		case "shutdown":
			rt.Shutdown()
			return nil
		}
	}
}

// relayRuntimeEvents forwards every state/failure/gather report a
// Runtime produces to the parent Worker over the control connection,
// until its channels close on Shutdown.
func relayRuntimeEvents(ch *node.InProcessChannel, cc *controlConn) {
	for {
		select {
		case fsm, ok := <-ch.State:
			if !ok {
				return
			}
			_ = cc.sendEvent(controlEvent{Event: "state", FSM: fsm})
		case reason, ok := <-ch.Failures:
			if !ok {
				return
			}
			_ = cc.sendEvent(controlEvent{Event: "failure", Reason: reason})
		case gather, ok := <-ch.Gathers:
			if !ok {
				return
			}
			_ = cc.sendEvent(controlEvent{Event: "gather", Gather: gather})
		}
	}
}
