// Package hooks defines the event bus that fans session lifecycle events out
// to observers: the event log sink (C1), quality check triggers (C8), and
// any other in-process subscriber. Publication is synchronous and
// fail-fast: the first subscriber to return an error aborts delivery to the
// remaining subscribers and that error propagates to the publisher.
package hooks

import (
	"context"
	"sync"
)

type (
	// Bus fans out published events to registered subscribers.
	Bus interface {
		// Publish delivers evt to every registered subscriber, stopping at
		// the first error. Subscribers are called in no defined order.
		Publish(ctx context.Context, evt Event) error
		// Register adds a subscriber and returns a handle that removes it
		// from the bus when closed.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber receives published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, evt Event) error
	}

	// SubscriberFunc adapts a function to a Subscriber.
	SubscriberFunc func(ctx context.Context, evt Event) error

	// Subscription represents a registered Subscriber. Close is idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, evt Event) error { return f(ctx, evt) }

// NewBus returns an empty, ready-to-use Bus.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

// Publish implements Bus.
func (b *bus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Register implements Bus.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscription from its bus. Safe to call more than once.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}
