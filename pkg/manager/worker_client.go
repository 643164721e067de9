package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// WorkerClient is the WorkerHandler's view of a remote Worker's
// south-bound HTTP surface (spec.md §6.1/§6.2). It is an interface
// so tests can substitute an in-memory fake instead of a real HTTP
// round trip.
type WorkerClient interface {
	CreateNode(ctx context.Context, addr, nodeID string, cfg types.NodeConfig) (types.NodeServerData, error)
	DestroyNode(ctx context.Context, addr, nodeID string) error
	ServerData(ctx context.Context, addr string, table types.ServerDataTable) error
	Gather(ctx context.Context, addr string) (map[string]string, error)
	Step(ctx context.Context, addr string) error
	Start(ctx context.Context, addr string, record bool) error
	Record(ctx context.Context, addr string) error
	Stop(ctx context.Context, addr string) error
	Collect(ctx context.Context, addr string) error
	RegisteredMethods(ctx context.Context, addr string) (map[string]types.RegisteredMethod, error)
	RequestMethod(ctx context.Context, addr, nodeID, method string, params json.RawMessage) (json.RawMessage, error)
	Reset(ctx context.Context, addr string) error
	Shutdown(ctx context.Context, addr string) error
}

// HTTPWorkerClient calls a Worker's routes over plain HTTP, the
// transport spec.md requires in place of the teacher's gRPC client.
type HTTPWorkerClient struct {
	hc *http.Client
}

// NewHTTPWorkerClient creates a client using timeout as its HTTP
// client's default deadline.
func NewHTTPWorkerClient(timeout time.Duration) *HTTPWorkerClient {
	return &HTTPWorkerClient{hc: &http.Client{Timeout: timeout}}
}

func (c *HTTPWorkerClient) call(ctx context.Context, method, url string, body any, out any) error {
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

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &types.TransportError{Op: url, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return &types.TransportError{Op: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &types.TransportError{Op: url, Cause: fmt.Errorf("worker returned %d", resp.StatusCode)}
	}

	var envelope struct {
		Success bool            `json:"success"`
		Error   *errEnvelope    `json:"error,omitempty"`
		Data    json.RawMessage `json:"data,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &types.ProtocolError{Detail: fmt.Sprintf("malformed worker response from %s: %v", url, err)}
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Kind, envelope.Error.Message)
		}
		return fmt.Errorf("worker call to %s failed", url)
	}
	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

type errEnvelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (c *HTTPWorkerClient) CreateNode(ctx context.Context, addr, nodeID string, cfg types.NodeConfig) (types.NodeServerData, error) {
	var data types.NodeServerData
	body := map[string]any{"node_id": nodeID, "config": cfg}
	err := c.call(ctx, http.MethodPost, addr+"/nodes/create", body, &data)
	return data, err
}

func (c *HTTPWorkerClient) DestroyNode(ctx context.Context, addr, nodeID string) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/destroy", map[string]string{"node_id": nodeID}, nil)
}

func (c *HTTPWorkerClient) ServerData(ctx context.Context, addr string, table types.ServerDataTable) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/server_data", table, nil)
}

func (c *HTTPWorkerClient) Gather(ctx context.Context, addr string) (map[string]string, error) {
	var data map[string]string
	err := c.call(ctx, http.MethodGet, addr+"/nodes/gather", nil, &data)
	return data, err
}

func (c *HTTPWorkerClient) Step(ctx context.Context, addr string) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/step", nil, nil)
}

func (c *HTTPWorkerClient) Start(ctx context.Context, addr string, record bool) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/start", map[string]bool{"record": record}, nil)
}

func (c *HTTPWorkerClient) Record(ctx context.Context, addr string) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/record", nil, nil)
}

func (c *HTTPWorkerClient) Stop(ctx context.Context, addr string) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/stop", nil, nil)
}

func (c *HTTPWorkerClient) Collect(ctx context.Context, addr string) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/collect", nil, nil)
}

func (c *HTTPWorkerClient) RegisteredMethods(ctx context.Context, addr string) (map[string]types.RegisteredMethod, error) {
	var data map[string]types.RegisteredMethod
	err := c.call(ctx, http.MethodGet, addr+"/nodes/registered_methods", nil, &data)
	return data, err
}

func (c *HTTPWorkerClient) RequestMethod(ctx context.Context, addr, nodeID, method string, params json.RawMessage) (json.RawMessage, error) {
	var data json.RawMessage
	body := map[string]any{"node_id": nodeID, "method": method, "params": params}
	err := c.call(ctx, http.MethodPost, addr+"/methods/request", body, &data)
	return data, err
}

func (c *HTTPWorkerClient) Reset(ctx context.Context, addr string) error {
	return c.call(ctx, http.MethodPost, addr+"/nodes/reset", nil, nil)
}

func (c *HTTPWorkerClient) Shutdown(ctx context.Context, addr string) error {
	return c.call(ctx, http.MethodPost, addr+"/shutdown", nil, nil)
}
