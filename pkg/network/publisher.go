package network

import (
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// Publisher is a Node's data-plane push socket: it accepts many
// Subscriber connections and fans every DataChunk out to all of
// them. A chunk is dropped for any Subscriber whose queue is full
// rather than slowing down the Node, per spec.md's "drop on overflow"
// policy; the Subscriber itself stays connected.
type Publisher struct {
	log zerolog.Logger

	ln net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]chan *types.DataChunk
	closing bool

	queueDepth int
}

// NewPublisher binds a listener on host:port (port 0 picks an OS
// port) and returns a Publisher ready to Send.
func NewPublisher(host string, port int, queueDepth int, log zerolog.Logger) (*Publisher, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(ResolveHost(host), portString(port)))
	if err != nil {
		return nil, &types.TransportError{Op: "publisher listen", Cause: err}
	}
	p := &Publisher{
		log:        log.With().Str("component", "publisher").Logger(),
		ln:         ln,
		conns:      make(map[net.Conn]chan *types.DataChunk),
		queueDepth: queueDepth,
	}
	go p.acceptLoop()
	return p, nil
}

// Addr returns the bound host and port.
func (p *Publisher) Addr() (string, int) {
	addr := p.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (p *Publisher) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.addSubscriber(conn)
	}
}

func (p *Publisher) addSubscriber(conn net.Conn) {
	ch := make(chan *types.DataChunk, p.queueDepth)
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.conns[conn] = ch
	p.mu.Unlock()

	go p.writeLoop(conn, ch)
}

func (p *Publisher) writeLoop(conn net.Conn, ch chan *types.DataChunk) {
	defer func() {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
		conn.Close()
	}()
	for chunk := range ch {
		if err := WriteDataChunk(conn, chunk); err != nil {
			p.log.Debug().Err(err).Msg("subscriber write failed, dropping")
			return
		}
	}
}

// Send fans chunk out to every connected Subscriber, dropping it for
// any Subscriber whose queue is already full.
func (p *Publisher) Send(chunk *types.DataChunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for conn, ch := range p.conns {
		select {
		case ch <- chunk:
		default:
			p.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("subscriber queue full, dropping chunk")
		}
	}
}

// Close stops accepting new subscribers and closes every existing
// connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closing = true
	for conn, ch := range p.conns {
		close(ch)
		delete(p.conns, conn)
	}
	p.mu.Unlock()
	return p.ln.Close()
}
