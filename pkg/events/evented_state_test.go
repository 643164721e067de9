package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

func TestEventedStateMutatePublishesChange(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	state := NewEventedState(types.NewManagerState("m1"), bus)

	changed := make(chan *types.ManagerState, 1)
	bus.Subscribe(TypedObserver{
		EventType: EventManagerStateChanged,
		Mode:      HandlePass,
		Handler: func(ev Event) {
			changed <- ev.Data.(*types.ManagerState)
		},
	})

	state.Mutate(func(s *types.ManagerState) {
		s.Workers["w1"] = types.NewWorkerState("w1", "edge")
	})

	select {
	case s := <-changed:
		require.Contains(t, s.Workers, "w1")
	case <-time.After(time.Second):
		t.Fatal("expected ManagerState_changed event after Mutate")
	}
}

func TestEventedStateViewDoesNotPublish(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	state := NewEventedState(types.NewManagerState("m1"), bus)

	var count int
	bus.Subscribe(TypedObserver{
		EventType: EventManagerStateChanged,
		Mode:      HandlePass,
		Handler:   func(Event) { count++ },
	})

	var id string
	state.View(func(s *types.ManagerState) { id = s.ID })

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "m1", id)
	assert.Equal(t, 0, count)
}

func TestEventedStateSnapshot(t *testing.T) {
	bus := NewBus()
	state := NewEventedState(types.NewManagerState("m1"), bus)

	state.Mutate(func(s *types.ManagerState) {
		s.Workers["w1"] = types.NewWorkerState("w1", "edge")
	})

	snap := state.Snapshot()
	require.Contains(t, snap.Workers, "w1")

	state.Mutate(func(s *types.ManagerState) {
		delete(s.Workers, "w1")
	})
	assert.Contains(t, snap.Workers, "w1", "snapshot should not reflect later mutations")
}
