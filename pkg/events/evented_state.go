package events

import (
	"sync"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// EventedState wraps a *types.ManagerState so every mutation made
// through Mutate publishes an EventManagerStateChanged event
// carrying a snapshot, the Go analogue of the @evented dataclass
// decorator the state uses in its original form.
type EventedState struct {
	mu    sync.RWMutex
	state *types.ManagerState
	bus   *Bus
}

// NewEventedState wraps state and binds it to bus.
func NewEventedState(state *types.ManagerState, bus *Bus) *EventedState {
	return &EventedState{state: state, bus: bus}
}

// Snapshot returns a copy of the current state for reading without
// holding the lock across the caller's own logic. The copy has its own
// Workers map, so Workers added or removed later do not show in it;
// the *WorkerState values it points to are shared with the live state.
func (e *EventedState) Snapshot() types.ManagerState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyState(e.state)
}

func copyState(s *types.ManagerState) types.ManagerState {
	out := *s
	out.Workers = make(map[string]*types.WorkerState, len(s.Workers))
	for id, ws := range s.Workers {
		out.Workers[id] = ws
	}
	return out
}

// Mutate runs fn with exclusive access to the underlying state, then
// publishes EventManagerStateChanged with a fresh snapshot.
func (e *EventedState) Mutate(fn func(*types.ManagerState)) {
	e.mu.Lock()
	fn(e.state)
	snapshot := copyState(e.state)
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(EventManagerStateChanged, &snapshot)
	}
}

// View runs fn with a read lock held, for read-only inspection that
// needs more than Snapshot's copy (e.g. reaching into a WorkerState,
// which Snapshot shares with the live state).
func (e *EventedState) View(fn func(*types.ManagerState)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.state)
}
