package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

type countingNode struct {
	mu sync.Mutex

	steps   int
	stepErr error

	// failFirstN, if set, makes Step fail for the first N calls and
	// succeed thereafter, so tests can exercise transient-failure
	// tolerance instead of a permanent one.
	failFirstN int
}

func (c *countingNode) Setup(context.Context) error    { return nil }
func (c *countingNode) Teardown(context.Context) error { return nil }
func (c *countingNode) Step(context.Context) error {
	c.mu.Lock()
	c.steps++
	n := c.steps
	c.mu.Unlock()

	if c.failFirstN > 0 && n <= c.failFirstN {
		return c.stepErr
	}
	if c.failFirstN == 0 && c.stepErr != nil {
		return c.stepErr
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (c *countingNode) stepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps
}

func TestRuntimeLifecycleReachesReadyThenSaved(t *testing.T) {
	user := &countingNode{}
	ch := NewInProcessChannel()
	rt := NewRuntime("n1", "cam", user, ch, zerolog.Nop())

	rt.Initialize()
	assert.Equal(t, types.FSMInit, rt.FSM())

	data, err := rt.Connect("127.0.0.1", 0, 4)
	require.NoError(t, err)
	assert.NotZero(t, data.Port)
	assert.Equal(t, types.FSMConnected, rt.FSM())

	require.NoError(t, rt.Setup(context.Background()))
	assert.Equal(t, types.FSMReady, rt.FSM())

	rt.StartStepping(context.Background(), false)
	assert.Eventually(t, func() bool { return user.steps > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, types.FSMPreviewing, rt.FSM())

	require.NoError(t, rt.StopStepping(time.Second))
	assert.Equal(t, types.FSMStopped, rt.FSM())

	require.NoError(t, rt.Teardown(context.Background()))
	assert.Equal(t, types.FSMSaved, rt.FSM())

	rt.Shutdown()
	assert.Equal(t, types.FSMShutdown, rt.FSM())
}

func TestRuntimeStartSteppingRecordingMarksRecordingState(t *testing.T) {
	user := &countingNode{}
	ch := NewInProcessChannel()
	rt := NewRuntime("n1", "cam", user, ch, zerolog.Nop())
	rt.Initialize()
	_, err := rt.Connect("127.0.0.1", 0, 4)
	require.NoError(t, err)
	require.NoError(t, rt.Setup(context.Background()))

	rt.StartStepping(context.Background(), true)
	assert.Equal(t, types.FSMRecording, rt.FSM())
	require.NoError(t, rt.StopStepping(time.Second))
}

func TestRuntimeStepLoopDemotesAfterThreeConsecutiveFailuresWhileRecording(t *testing.T) {
	wantErr := errors.New("camera disconnected")
	user := &countingNode{stepErr: wantErr}
	ch := NewInProcessChannel()
	rt := NewRuntime("n1", "cam", user, ch, zerolog.Nop())
	rt.Initialize()
	_, err := rt.Connect("127.0.0.1", 0, 4)
	require.NoError(t, err)
	require.NoError(t, rt.Setup(context.Background()))

	rt.StartStepping(context.Background(), true)

	var failure string
	select {
	case failure = <-ch.Failures:
	case <-time.After(time.Second):
		t.Fatal("expected a failure report after three consecutive Step errors")
	}
	assert.Contains(t, failure, wantErr.Error())
	assert.Eventually(t, func() bool { return rt.FSM() == types.FSMStopped }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, user.stepCount(), maxConsecutiveStepFailures)

	err = rt.StopStepping(time.Second)
	assert.ErrorIs(t, err, wantErr)
}

func TestRuntimeStepLoopToleratesTransientFailuresWhileRecording(t *testing.T) {
	wantErr := errors.New("transient read error")
	user := &countingNode{stepErr: wantErr, failFirstN: 2}
	ch := NewInProcessChannel()
	rt := NewRuntime("n1", "cam", user, ch, zerolog.Nop())
	rt.Initialize()
	_, err := rt.Connect("127.0.0.1", 0, 4)
	require.NoError(t, err)
	require.NoError(t, rt.Setup(context.Background()))

	rt.StartStepping(context.Background(), true)

	// Fewer than three consecutive failures must never halt the Node
	// or report a failure: it keeps stepping and recovers once Step
	// starts succeeding again.
	assert.Eventually(t, func() bool { return user.stepCount() > 2 }, time.Second, time.Millisecond)
	assert.Equal(t, types.FSMRecording, rt.FSM())
	select {
	case failure := <-ch.Failures:
		t.Fatalf("unexpected failure report for transient errors: %s", failure)
	default:
	}

	require.NoError(t, rt.StopStepping(time.Second))
}

func TestRuntimeEnqueueDropsOutsideRecording(t *testing.T) {
	user := &countingNode{}
	ch := NewInProcessChannel()
	rt := NewRuntime("n1", "cam", user, ch, zerolog.Nop())
	rt.Initialize()

	// Not recording yet (still INITIALIZED): Enqueue must be a no-op,
	// not a panic, even against an unregistered stream.
	rt.Enqueue("frames", types.RecordEntry{NodeID: "n1", Stream: "frames"})
}
