package events

import (
	"sync"
	"time"
)

// EventType names a kind of event flowing through a Bus.
type EventType string

const (
	EventAfterServerStartup EventType = "after_server_startup"
	EventWorkerRegistered    EventType = "worker.registered"
	EventWorkerDeregistered  EventType = "worker.deregistered"
	EventNodeCreated         EventType = "node.created"
	EventNodeStatusChanged   EventType = "node.status_changed"
	EventNodeFailed          EventType = "node.failed"
	EventManagerStateChanged EventType = "ManagerState_changed"
)

// Event is one message published on a Bus. Data carries whatever
// payload the EventType implies; handlers type-assert it themselves.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// HandleMode controls how a handler receives queued events when it
// falls behind the publish rate.
type HandleMode int

const (
	// HandleDrop discards events the handler hasn't consumed yet,
	// keeping only the most recent.
	HandleDrop HandleMode = iota
	// HandleUnpack delivers events one at a time through a one-slot
	// buffer; an event published while that slot is still full is
	// dropped.
	HandleUnpack
	// HandlePass enqueues events in a 64-slot buffer; an event
	// published while the buffer is full is dropped, so Publish never
	// blocks.
	HandlePass
)

// TypedObserver binds an EventType to a handler function and a
// HandleMode. Handlers run asynchronously, one at a time per
// observer, preserving publish order for that observer.
type TypedObserver struct {
	EventType EventType
	Handler   func(Event)
	Mode      HandleMode

	ch   chan Event
	once sync.Once
}

func newObserver(o TypedObserver) *TypedObserver {
	depth := 1
	if o.Mode == HandlePass {
		depth = 64
	}
	o.ch = make(chan Event, depth)
	return &o
}

func (o *TypedObserver) run(stop <-chan struct{}) {
	for {
		select {
		case ev := <-o.ch:
			o.Handler(ev)
		case <-stop:
			return
		}
	}
}

func (o *TypedObserver) deliver(ev Event) {
	switch o.Mode {
	case HandleDrop:
		select {
		case o.ch <- ev:
		default:
			select {
			case <-o.ch:
			default:
			}
			select {
			case o.ch <- ev:
			default:
			}
		}
	default:
		select {
		case o.ch <- ev:
		default:
		}
	}
}

// Bus is a process-local asynchronous publish/subscribe dispatcher.
// Each subscribed TypedObserver gets its own goroutine so one slow
// handler never stalls another, but within a single observer events
// are delivered strictly in publish order (single-threaded
// cooperative dispatch per observer).
type Bus struct {
	mu        sync.RWMutex
	observers map[EventType][]*TypedObserver
	stopCh    chan struct{}
	started   bool
}

// NewBus creates an unstarted Bus.
func NewBus() *Bus {
	return &Bus{
		observers: make(map[EventType][]*TypedObserver),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe registers an observer and starts its dispatch goroutine.
// It is safe to call before or after Start.
func (b *Bus) Subscribe(o TypedObserver) *TypedObserver {
	obs := newObserver(o)
	b.mu.Lock()
	b.observers[o.EventType] = append(b.observers[o.EventType], obs)
	started := b.started
	b.mu.Unlock()
	if started {
		go obs.run(b.stopCh)
	}
	return obs
}

// Unsubscribe removes an observer so it no longer receives events.
func (b *Bus) Unsubscribe(o *TypedObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.observers[o.EventType]
	for i, cand := range list {
		if cand == o {
			b.observers[o.EventType] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Start launches the dispatch goroutine for every observer
// registered so far. Observers subscribed after Start get their
// goroutine immediately.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	for _, list := range b.observers {
		for _, obs := range list {
			go obs.run(b.stopCh)
		}
	}
}

// Stop halts all dispatch goroutines. A stopped Bus cannot be
// restarted.
func (b *Bus) Stop() {
	close(b.stopCh)
}

// Publish delivers an event to every observer of its type. Publish
// never blocks on a slow handler: delivery to each observer's queue
// is best-effort per the observer's HandleMode.
func (b *Bus) Publish(evType EventType, data any) {
	ev := Event{Type: evType, Timestamp: time.Now(), Data: data}
	b.mu.RLock()
	list := b.observers[evType]
	b.mu.RUnlock()
	for _, obs := range list {
		obs.deliver(ev)
	}
}

// ObserverCount reports how many observers are subscribed to an
// EventType, mainly for tests.
func (b *Bus) ObserverCount(evType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers[evType])
}
