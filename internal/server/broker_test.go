package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/types"
)

func recvEvent(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return types.Event{}
	}
}

func TestBroker_PublishToSessionSubscriber(t *testing.T) {
	b := NewBroker(zap.NewNop())

	events, cancel := b.Subscribe("sess-1")
	defer cancel()

	b.Publish(types.Event{Type: types.EventTurnCreated, SessionID: "sess-1"})
	b.Publish(types.Event{Type: types.EventTurnCreated, SessionID: "sess-2"})

	ev := recvEvent(t, events)
	assert.Equal(t, "sess-1", ev.SessionID)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for session %s", ev.SessionID)
	default:
	}
}

func TestBroker_WildcardSubscriberSeesAllSessions(t *testing.T) {
	b := NewBroker(zap.NewNop())

	events, cancel := b.Subscribe("")
	defer cancel()

	b.Publish(types.Event{Type: types.EventTurnCreated, SessionID: "sess-1"})
	b.Publish(types.Event{Type: types.EventTurnCreated, SessionID: "sess-2"})

	assert.Equal(t, "sess-1", recvEvent(t, events).SessionID)
	assert.Equal(t, "sess-2", recvEvent(t, events).SessionID)
}

func TestBroker_SinkForwardsToSubscribers(t *testing.T) {
	b := NewBroker(zap.NewNop())

	events, cancel := b.Subscribe("sess-1")
	defer cancel()

	sink := b.Sink()
	sink(types.Event{Type: types.EventPartialResult, SessionID: "sess-1", Delta: "chunk"})

	ev := recvEvent(t, events)
	assert.Equal(t, types.EventPartialResult, ev.Type)
	assert.Equal(t, "chunk", ev.Delta)
}

func TestBroker_CancelDetachesSubscriber(t *testing.T) {
	b := NewBroker(zap.NewNop())

	events, cancel := b.Subscribe("sess-1")
	require.Equal(t, 1, b.SubscriberCount())

	cancel()
	assert.Equal(t, 0, b.SubscriberCount())

	// The channel is closed, and publishing afterwards must not panic.
	_, open := <-events
	assert.False(t, open)
	assert.NotPanics(t, func() {
		b.Publish(types.Event{SessionID: "sess-1"})
	})

	// Double cancel is a no-op.
	assert.NotPanics(t, cancel)
}

func TestBroker_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker(zap.NewNop())

	events, cancel := b.Subscribe("sess-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish(types.Event{SessionID: "sess-1", Delta: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, events, subscriberBuffer)
}

func TestBroker_CloseShutsDownSubscribers(t *testing.T) {
	b := NewBroker(zap.NewNop())

	events, cancel := b.Subscribe("sess-1")
	defer cancel()

	b.Close()

	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	// Publish and Subscribe after Close are inert.
	assert.NotPanics(t, func() { b.Publish(types.Event{SessionID: "sess-1"}) })
	late, lateCancel := b.Subscribe("sess-1")
	defer lateCancel()
	_, open = <-late
	assert.False(t, open)
}
