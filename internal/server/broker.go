package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/types"
)

// subscriberBuffer bounds each subscriber's backlog. A subscriber that
// falls this far behind starts losing events instead of blocking the
// engine's emit path.
const subscriberBuffer = 256

type subscriber struct {
	sessionID string
	ch        chan types.Event
}

// Broker fans engine events out to session-keyed subscribers.
type Broker struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBroker builds an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		logger: logger.With(zap.String("component", "broker")),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Sink adapts the broker to the engine's event sink contract.
func (b *Broker) Sink() types.EventSink {
	return b.Publish
}

// Publish delivers ev to every subscriber of its session. Delivery is
// best-effort; a full subscriber buffer drops the event.
func (b *Broker) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != ev.SessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				zap.String("session_id", ev.SessionID),
				zap.String("type", string(ev.Type)),
			)
		}
	}
}

// Subscribe registers a listener for one session's events. An empty
// sessionID receives every session. The returned cancel func must be
// called when the listener goes away; it closes the channel.
func (b *Broker) Subscribe(sessionID string) (<-chan types.Event, func()) {
	sub := &subscriber{
		sessionID: sessionID,
		ch:        make(chan types.Event, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, present := b.subs[sub]
			delete(b.subs, sub)
			closed := b.closed
			b.mu.Unlock()
			// Close already closed the channel for detached subscribers.
			if present && !closed {
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches and closes every subscriber. Publish becomes a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscriber]struct{})
}
