package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// Subscriber connects to one or more Publisher sockets (one per
// upstream Node) and merges their DataChunk streams into a single
// channel, matching a Node's fan-in from every Node it consumes
// from.
type Subscriber struct {
	log zerolog.Logger

	mu      sync.Mutex
	conns   map[string]net.Conn
	cancels map[string]context.CancelFunc

	out chan *types.DataChunk
}

// NewSubscriber creates a Subscriber with an internal buffer of
// depth chunks.
func NewSubscriber(depth int, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		log:     log.With().Str("component", "subscriber").Logger(),
		conns:   make(map[string]net.Conn),
		cancels: make(map[string]context.CancelFunc),
		out:     make(chan *types.DataChunk, depth),
	}
}

// Connect dials the Publisher at host:port identified by nodeID and
// starts forwarding its chunks into the Subscriber's merged stream.
func (s *Subscriber) Connect(nodeID, host string, port int) error {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, portString(port)))
	if err != nil {
		return &types.TransportError{Op: "subscriber dial " + nodeID, Cause: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conns[nodeID] = conn
	s.cancels[nodeID] = cancel
	s.mu.Unlock()

	go s.readLoop(ctx, nodeID, conn)
	return nil
}

func (s *Subscriber) readLoop(ctx context.Context, nodeID string, conn net.Conn) {
	defer s.disconnect(nodeID)
	for {
		chunk, err := ReadDataChunk(conn)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug().Err(err).Str("node_id", nodeID).Msg("subscriber read failed")
			}
			return
		}
		select {
		case s.out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) disconnect(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[nodeID]; ok {
		conn.Close()
		delete(s.conns, nodeID)
	}
	delete(s.cancels, nodeID)
}

// Receive waits up to timeout for the next chunk from any connected
// publisher. A zero timeout waits forever.
func (s *Subscriber) Receive(timeout time.Duration) (*types.DataChunk, bool) {
	if timeout <= 0 {
		chunk := <-s.out
		return chunk, chunk != nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case chunk := <-s.out:
		return chunk, chunk != nil
	case <-t.C:
		return nil, false
	}
}

// Disconnect tears down the connection to a single upstream node.
func (s *Subscriber) Disconnect(nodeID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[nodeID]
	conn := s.conns[nodeID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// Close tears down every upstream connection.
func (s *Subscriber) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Disconnect(id)
	}
}
