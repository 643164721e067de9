package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// Client is a Go client library for the Manager's north-bound
// HTTP+WebSocket API (spec.md §4.8/§6.3): worker registration, graph
// commit, lifecycle commands, registered-method dispatch, and a
// persistent WS subscription to status broadcasts with automatic
// reconnect.
type Client struct {
	addr string
	hc   *http.Client

	reconnectBase time.Duration
	reconnectCap  time.Duration
}

// New builds a Client against a Manager listening at addr (e.g.
// "http://10.0.0.5:8080"). reconnectBase/reconnectCap bound the
// exponential backoff Watch applies between reconnect attempts.
func New(addr string, timeout, reconnectBase, reconnectCap time.Duration) *Client {
	return &Client{
		addr:          addr,
		hc:            &http.Client{Timeout: timeout},
		reconnectBase: reconnectBase,
		reconnectCap:  reconnectCap,
	}
}

type errPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, reader)
	if err != nil {
		return &types.TransportError{Op: path, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return &types.TransportError{Op: path, Cause: err}
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Error   *errPayload     `json:"error,omitempty"`
		Data    json.RawMessage `json:"data,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &types.ProtocolError{Detail: fmt.Sprintf("malformed manager response from %s: %v", path, err)}
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Kind, envelope.Error.Message)
		}
		return fmt.Errorf("manager call to %s failed", path)
	}
	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// RegisterWorker registers a Worker with the Manager, idempotent
// keyed by id. token is the join token minted by MintJoinToken; pass
// "" when the Manager was not configured to require one.
func (c *Client) RegisterWorker(ctx context.Context, id, name, ip string, port int, token string) error {
	return c.call(ctx, http.MethodPost, "/workers/register", map[string]any{
		"id": id, "name": name, "ip": ip, "port": port, "token": token,
	}, nil)
}

// MintJoinToken asks the Manager for a single-use Worker join token
// valid for ttl, to hand to a Worker's --token flag out of band.
func (c *Client) MintJoinToken(ctx context.Context, ttl time.Duration) (string, error) {
	var jt struct {
		Token string `json:"Token"`
	}
	err := c.call(ctx, http.MethodPost, "/workers/token", map[string]any{
		"ttl_seconds": int(ttl.Seconds()),
	}, &jt)
	return jt.Token, err
}

// DeregisterWorker removes a Worker from cluster membership.
func (c *Client) DeregisterWorker(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/workers/"+id+"/deregister", nil, nil)
}

// Heartbeat reports a Worker's current Node states to the Manager.
func (c *Client) Heartbeat(ctx context.Context, id string, nodes map[string]types.NodeState) error {
	return c.call(ctx, http.MethodPost, "/workers/"+id+"/heartbeat", map[string]any{"nodes": nodes}, nil)
}

// ReportArchive notifies the Manager that a Worker finished writing a
// session's recorded streams, the send_archive step of spec.md §4.6.
func (c *Client) ReportArchive(ctx context.Context, id, session, dir string) error {
	return c.call(ctx, http.MethodPost, "/workers/"+id+"/archive", map[string]any{
		"session": session, "dir": dir,
	}, nil)
}

// CommitGraph instantiates graph across the mapped Workers.
func (c *Client) CommitGraph(ctx context.Context, graph types.Graph, mapping types.Mapping) (*types.PartialCompletion, error) {
	var result types.PartialCompletion
	err := c.call(ctx, http.MethodPost, "/graph/commit", map[string]any{"graph": graph, "mapping": mapping}, &result)
	return &result, err
}

// Start asks every Worker to begin stepping, recording immediately
// when record is true.
func (c *Client) Start(ctx context.Context, record bool) (*types.PartialCompletion, error) {
	var result types.PartialCompletion
	err := c.call(ctx, http.MethodPost, "/lifecycle/start", map[string]bool{"record": record}, &result)
	return &result, err
}

// Record transitions every previewing Node to RECORDING.
func (c *Client) Record(ctx context.Context) (*types.PartialCompletion, error) {
	var result types.PartialCompletion
	err := c.call(ctx, http.MethodPost, "/lifecycle/record", nil, &result)
	return &result, err
}

// Stop halts stepping on every Node.
func (c *Client) Stop(ctx context.Context) (*types.PartialCompletion, error) {
	var result types.PartialCompletion
	err := c.call(ctx, http.MethodPost, "/lifecycle/stop", nil, &result)
	return &result, err
}

// Collect tears every Node down, flushing record queues.
func (c *Client) Collect(ctx context.Context) (*types.PartialCompletion, error) {
	var result types.PartialCompletion
	err := c.call(ctx, http.MethodPost, "/lifecycle/collect", nil, &result)
	return &result, err
}

// Reset resets every Node back to READY, deregistering Workers too
// unless keepWorkers is set.
func (c *Client) Reset(ctx context.Context, keepWorkers bool) (*types.PartialCompletion, error) {
	var result types.PartialCompletion
	err := c.call(ctx, http.MethodPost, "/lifecycle/reset", map[string]bool{"keep_workers": keepWorkers}, &result)
	return &result, err
}

// RequestMethod invokes a registered method on nodeID via the
// Manager's proxy.
func (c *Client) RequestMethod(ctx context.Context, nodeID, method string, params json.RawMessage) (json.RawMessage, error) {
	var data json.RawMessage
	body := map[string]any{"node_id": nodeID, "method": method, "params": params}
	err := c.call(ctx, http.MethodPost, "/methods/request", body, &data)
	return data, err
}

// State returns the full cluster ManagerState snapshot.
func (c *Client) State(ctx context.Context) (*types.ManagerState, error) {
	var state types.ManagerState
	err := c.call(ctx, http.MethodGet, "/state", nil, &state)
	return &state, err
}

// Shutdown asks the Manager to shut down every Worker and itself.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/shutdown", nil, nil)
}

// WSMessage mirrors the frames the Manager's Hub broadcasts:
// NODE_STATUS_UPDATE and NETWORK_STATUS_UPDATE.
type WSMessage struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Watch opens a persistent WebSocket subscription to the Manager's
// status stream and returns a channel of WSMessage. On a dropped
// connection it reconnects automatically with exponential backoff
// bounded by [reconnectBase, reconnectCap], per spec.md §4.4's Client
// primitive. The channel closes when ctx is canceled.
func (c *Client) Watch(ctx context.Context) (<-chan WSMessage, error) {
	out := make(chan WSMessage, 32)
	go c.watchLoop(ctx, out)
	return out, nil
}

func (c *Client) watchLoop(ctx context.Context, out chan WSMessage) {
	defer close(out)

	backoff := c.reconnectBase
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	ceiling := c.reconnectCap
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(c.addr), nil)
		if err != nil {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = nextBackoff(backoff, ceiling)
			continue
		}
		backoff = c.reconnectBase
		if backoff <= 0 {
			backoff = 250 * time.Millisecond
		}

		c.drain(ctx, conn, out)
		conn.Close()
	}
}

func (c *Client) drain(ctx context.Context, conn *websocket.Conn, out chan WSMessage) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		conn.Close()
	}()
	defer <-done

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next > ceiling {
		next = ceiling
	}
	return next
}

func wsURL(addr string) string {
	switch {
	case len(addr) >= 5 && addr[:5] == "http:":
		return "ws:" + addr[5:] + "/ws"
	case len(addr) >= 6 && addr[:6] == "https:":
		return "wss:" + addr[6:] + "/ws"
	default:
		return addr + "/ws"
	}
}
