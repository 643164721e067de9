package worker

import (
	"encoding/json"
	"net"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// controlCommand is sent from a NodeHandler across the control-channel
// socket to a Node's runner in a subordinate OS process; in-process
// Nodes are driven by direct calls instead. A subprocess runner dials the
// address in FLEETGRAPH_CONTROL_ADDR and must send a handshake
// command carrying its FLEETGRAPH_NODE_ID before anything else, so
// the NodeHandler's accept loop can match the connection to the
// pending CreateNode call that spawned it.
type controlCommand struct {
	Cmd    string          `json:"cmd"`
	Host   string          `json:"host,omitempty"`
	Port   int             `json:"port,omitempty"`
	NodeID string          `json:"node_id,omitempty"`
	Record bool            `json:"record,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// controlEvent is sent from a Node's runner back to its NodeHandler.
type controlEvent struct {
	Event      string          `json:"event"`
	FSM        types.FSM       `json:"fsm,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Gather     string          `json:"gather,omitempty"`
	ServerData *types.NodeServerData `json:"server_data,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// controlConn wraps a net.Conn with JSON framing for controlCommand
// and controlEvent values, the protocol an out-of-process Node
// runner speaks to its NodeHandler over the control-channel socket
// described in spec.md §9.
type controlConn struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func newControlConn(conn net.Conn) *controlConn {
	return &controlConn{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

func (c *controlConn) sendCommand(cmd controlCommand) error {
	return c.enc.Encode(cmd)
}

func (c *controlConn) recvCommand() (controlCommand, error) {
	var cmd controlCommand
	err := c.dec.Decode(&cmd)
	return cmd, err
}

func (c *controlConn) sendEvent(ev controlEvent) error {
	return c.enc.Encode(ev)
}

func (c *controlConn) recvEvent() (controlEvent, error) {
	var ev controlEvent
	err := c.dec.Decode(&ev)
	return ev, err
}

func (c *controlConn) Close() error {
	return c.conn.Close()
}
