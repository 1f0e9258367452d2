// Package livereload tells browsers to reload when assets or templates
// change. Changes are broadcast to subscribers over a server-sent event
// stream, optionally relayed between processes through Redis.
package livereload

import (
	"context"
	"sync"

	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/rs/zerolog/log"
)

// QueueSize is how many pending change events a subscriber may hold before
// it is dropped
const QueueSize = 5

// Notifier sends a change notification
type Notifier interface {
	Ping(ctx context.Context) error
	Close() error
}

// Subscription is one connected client
type Subscription struct {
	ch     chan struct{}
	closed bool
	mu     sync.Mutex
}

// C receives a value per change. It is closed when the subscription is
// dropped or the broker shuts down.
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

// send returns false when the subscriber is closed or its queue is full
func (s *Subscription) send() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker fans change notifications out to subscribers in this process.
// A subscriber that falls behind is dropped instead of blocking the producer.
type Broker struct {
	subscribers []*Subscription
	mu          sync.Mutex
	metrics     *observability.Metrics
}

// NewBroker creates a broker. metrics may be nil.
func NewBroker(metrics *observability.Metrics) *Broker {
	return &Broker{metrics: metrics}
}

// Subscribe registers a new subscriber
func (b *Broker) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan struct{}, QueueSize)}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	n := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.UpdateSubscribers(n)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
	n := len(b.subscribers)
	b.mu.Unlock()

	// Close outside the lock
	sub.close()
	b.metrics.UpdateSubscribers(n)
}

// Len returns the number of subscribers
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Ping notifies every subscriber. It never blocks.
func (b *Broker) Ping(ctx context.Context) error {
	b.broadcast("local")
	return nil
}

func (b *Broker) broadcast(origin string) {
	b.mu.Lock()
	var dropped []*Subscription
	// iterate backwards so removal does not shift unvisited entries
	for i := len(b.subscribers) - 1; i >= 0; i-- {
		sub := b.subscribers[i]
		if !sub.send() {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			dropped = append(dropped, sub)
		}
	}
	n := len(b.subscribers)
	b.mu.Unlock()

	for _, sub := range dropped {
		sub.close()
		b.metrics.RecordDroppedSubscriber()
	}
	if len(dropped) > 0 {
		log.Debug().Int("dropped", len(dropped)).Msg("Dropped slow live reload subscribers")
	}
	b.metrics.UpdateSubscribers(n)
	b.metrics.RecordPing(origin)
	log.Debug().Int("subscribers", n).Str("origin", origin).Msg("Live reload ping")
}

// Close drops every subscriber
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	b.metrics.UpdateSubscribers(0)
	return nil
}
