package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

func stubSource(fsm map[string]types.FSM) FSMSource {
	return func(nodeID string) (types.FSM, bool) {
		f, ok := fsm[nodeID]
		return f, ok
	}
}

func TestPollerAwaitFSM_AlreadyConverged(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	source := stubSource(map[string]types.FSM{
		"n1": types.FSMReady,
		"n2": types.FSMReady,
	})
	p := NewPoller(source, bus, time.Millisecond)

	result, err := p.AwaitFSM(context.Background(), []string{"n1", "n2"}, types.FSMReady, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ok())
	assert.ElementsMatch(t, []string{"n1", "n2"}, result.Succeeded)
}

func TestPollerAwaitFSM_ConvergesAfterDelay(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	fsm := map[string]types.FSM{"n1": types.FSMConnected}
	source := stubSource(fsm)
	p := NewPoller(source, bus, 5*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fsm["n1"] = types.FSMReady
	}()

	result, err := p.AwaitFSM(context.Background(), []string{"n1"}, types.FSMReady, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ok())
}

func TestPollerAwaitFSM_TimesOut(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	failed := make(chan *types.NodeFailed, 1)
	bus.Subscribe(events.TypedObserver{
		EventType: events.EventNodeFailed,
		Mode:      events.HandleUnpack,
		Handler: func(ev events.Event) {
			if nf, ok := ev.Data.(*types.NodeFailed); ok {
				failed <- nf
			}
		},
	})

	source := stubSource(map[string]types.FSM{"n1": types.FSMConnected})
	p := NewPoller(source, bus, 5*time.Millisecond)

	result, err := p.AwaitFSM(context.Background(), []string{"n1"}, types.FSMReady, 30*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *types.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.False(t, result.Ok())
	assert.Contains(t, result.Failed, "n1")

	select {
	case nf := <-failed:
		assert.Equal(t, "n1", nf.NodeID)
	case <-time.After(time.Second):
		t.Fatal("expected NodeFailed event to be published on timeout")
	}
}

func TestPollerAwaitFSM_UnknownNodeFails(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	source := stubSource(map[string]types.FSM{})
	p := NewPoller(source, bus, 5*time.Millisecond)

	result, err := p.AwaitFSM(context.Background(), []string{"ghost"}, types.FSMReady, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, "node not found", result.Failed["ghost"])
}

func TestPollerAwaitFSM_ShutdownNodeFailsEarly(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	source := stubSource(map[string]types.FSM{"n1": types.FSMShutdown})
	p := NewPoller(source, bus, 5*time.Millisecond)

	result, err := p.AwaitFSM(context.Background(), []string{"n1"}, types.FSMReady, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, "node shut down before converging", result.Failed["n1"])
}

func TestPollerCheck_PointInTime(t *testing.T) {
	bus := events.NewBus()
	source := stubSource(map[string]types.FSM{"n1": types.FSMReady, "n2": types.FSMConnected})
	p := NewPoller(source, bus, time.Millisecond)

	result := p.Check([]string{"n1", "n2"}, types.FSMReady)
	assert.ElementsMatch(t, []string{"n1"}, result.Succeeded)
	assert.Contains(t, result.Failed, "n2")
}

var _ error = &types.TimeoutError{}
