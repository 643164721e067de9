package events

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	received := make(chan Event, 1)
	bus.Subscribe(TypedObserver{
		EventType: EventNodeCreated,
		Mode:      HandlePass,
		Handler:   func(ev Event) { received <- ev },
	})

	bus.Publish(EventNodeCreated, "node-1")

	select {
	case ev := <-received:
		assert.Equal(t, EventNodeCreated, ev.Type)
		assert.Equal(t, "node-1", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestBusOnlyDeliversMatchingEventType(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	var count int32
	bus.Subscribe(TypedObserver{
		EventType: EventNodeFailed,
		Mode:      HandlePass,
		Handler:   func(Event) { atomic.AddInt32(&count, 1) },
	})

	bus.Publish(EventNodeCreated, "node-1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestBusHandlePassDeliversEveryEvent(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	var received []int
	done := make(chan struct{})
	bus.Subscribe(TypedObserver{
		EventType: EventNodeStatusChanged,
		Mode:      HandlePass,
		Handler: func(ev Event) {
			received = append(received, ev.Data.(int))
			if len(received) == 5 {
				close(done)
			}
		},
	})

	for i := 0; i < 5; i++ {
		bus.Publish(EventNodeStatusChanged, i)
	}

	select {
	case <-done:
		assert.Equal(t, []int{0, 1, 2, 3, 4}, received)
	case <-time.After(time.Second):
		t.Fatal("expected all 5 events to be delivered in order")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	var count int32
	obs := bus.Subscribe(TypedObserver{
		EventType: EventWorkerRegistered,
		Mode:      HandlePass,
		Handler:   func(Event) { atomic.AddInt32(&count, 1) },
	})

	bus.Publish(EventWorkerRegistered, "w1")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&count))

	bus.Unsubscribe(obs)
	bus.Publish(EventWorkerRegistered, "w2")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestBusObserverCount(t *testing.T) {
	bus := NewBus()
	assert.Equal(t, 0, bus.ObserverCount(EventNodeCreated))

	bus.Subscribe(TypedObserver{EventType: EventNodeCreated, Handler: func(Event) {}})
	bus.Subscribe(TypedObserver{EventType: EventNodeCreated, Handler: func(Event) {}})
	assert.Equal(t, 2, bus.ObserverCount(EventNodeCreated))
}

func TestBusSubscribeBeforeStart(t *testing.T) {
	bus := NewBus()

	received := make(chan Event, 1)
	bus.Subscribe(TypedObserver{
		EventType: EventAfterServerStartup,
		Mode:      HandlePass,
		Handler:   func(ev Event) { received <- ev },
	})

	bus.Start()
	defer bus.Stop()

	bus.Publish(EventAfterServerStartup, nil)
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected event delivered to an observer subscribed before Start")
	}
}
