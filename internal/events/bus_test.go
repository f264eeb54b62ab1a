package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)

	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(SyncStarted{RunID: "r1", TotalItems: 3})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			started, ok := e.(SyncStarted)
			require.True(t, ok)
			assert.Equal(t, "r1", started.RunID)
			assert.Equal(t, 3, started.TotalItems)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_PublishDoesNotBlockOnFullBuffer(t *testing.T) {
	bus := NewBus(nil)

	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish(SyncPaused{RunID: "r1"})
		bus.Publish(SyncResumed{RunID: "r1"})
		bus.Publish(SyncCancelled{RunID: "r1"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)

	ch, cancel := bus.Subscribe(4)
	cancel()

	// Channel is closed on unsubscribe.
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(SyncStarted{RunID: "r2"})
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	bus := NewBus(nil)

	_, cancel := bus.Subscribe(1)
	cancel()
	cancel()
}

func TestBus_EventNames(t *testing.T) {
	cases := []struct {
		e    Event
		want string
	}{
		{ConnectionChanged{}, "connectionChanged"},
		{ReconnectAttempt{}, "reconnectAttempt"},
		{ConnectionDegraded{}, "connectionDegraded"},
		{ServerMessage{}, "serverMessage"},
		{SyncStarted{}, "syncStarted"},
		{SyncProgress{}, "syncProgress"},
		{SyncItemProcessed{}, "syncItemProcessed"},
		{ConflictDetected{}, "conflictDetected"},
		{ConflictResolved{}, "conflictResolved"},
		{SyncCompleted{}, "syncCompleted"},
		{SyncError{}, "syncError"},
		{SyncPaused{}, "syncPaused"},
		{SyncResumed{}, "syncResumed"},
		{SyncCancelled{}, "syncCancelled"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, c.e.Name())
	}
}
