package api

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSKind tags a message's purpose in the Manager's north-bound
// WebSocket stream, per spec.md §6.3.
type WSKind string

const (
	WSKindNodeStatusUpdate   WSKind = "NODE_STATUS_UPDATE"
	WSKindNetworkStatusUpdate WSKind = "NETWORK_STATUS_UPDATE"
)

// WSMessage is the envelope every frame on the Manager's WS stream
// carries.
type WSMessage struct {
	Kind WSKind `json:"kind"`
	Data any    `json:"data"`
}

// hubClient is one subscribed WS connection with its own bounded send
// queue, so one slow UI consumer never stalls delivery to the rest.
type hubClient struct {
	conn  *websocket.Conn
	send  chan []byte
	drops int
}

// Hub fans every published WSMessage out to its subscribed clients.
// A client that falls behind accumulates dropped frames; once it
// exceeds maxDrops it is disconnected, per spec.md §4.8's
// slowest-consumer backpressure policy.
type Hub struct {
	log zerolog.Logger

	maxQueue int
	maxDrops int

	mu      sync.RWMutex
	clients map[*hubClient]bool
}

// NewHub creates a Hub whose per-client queue holds maxQueue frames
// before frames start dropping, disconnecting a client once it has
// more than maxDrops consecutive drops.
func NewHub(maxQueue, maxDrops int, log zerolog.Logger) *Hub {
	return &Hub{
		log:      log,
		maxQueue: maxQueue,
		maxDrops: maxDrops,
		clients:  make(map[*hubClient]bool),
	}
}

// Register adds conn as a subscriber and starts its write pump.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &hubClient{conn: conn, send: make(chan []byte, h.maxQueue)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	go h.writePump(c)
}

func (h *Hub) writePump(c *hubClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.conn.Close()
	}()
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// Broadcast fans msg out to every subscribed client. A client whose
// queue is full has the frame dropped and its drop count incremented;
// once that count exceeds maxDrops its send channel is closed,
// unregistering it.
func (h *Hub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("marshal ws message failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			c.drops = 0
		default:
			c.drops++
			if c.drops > h.maxDrops {
				delete(h.clients, c)
				close(c.send)
			}
		}
	}
}

// ClientCount reports how many clients are currently subscribed,
// mainly for tests and the /health readiness check.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
