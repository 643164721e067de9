package worker

import (
	"context"
	"time"

	"github.com/fleetgraph/fleetgraph/pkg/client"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// managerClient is the thin adapter between a Worker and pkg/client's
// Manager API client, covering the HttpClientService calls spec.md
// §4.6 requires: register, heartbeat, archive-ready notification.
type managerClient struct {
	c *client.Client
}

func newManagerClient(addr string, timeout time.Duration) *managerClient {
	return &managerClient{c: client.New(addr, timeout, 0, 0)}
}

func (m *managerClient) register(ctx context.Context, id, name, ip string, port int, token string) error {
	return m.c.RegisterWorker(ctx, id, name, ip, port, token)
}

func (m *managerClient) heartbeat(ctx context.Context, id string, nodes map[string]types.NodeState) error {
	return m.c.Heartbeat(ctx, id, nodes)
}

func (m *managerClient) reportArchive(ctx context.Context, id, session, dir string) error {
	return m.c.ReportArchive(ctx, id, session, dir)
}

func (m *managerClient) deregister(ctx context.Context, id string) error {
	return m.c.DeregisterWorker(ctx, id)
}
