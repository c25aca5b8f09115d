// Package pubsub fans out profile and match events to in-process subscribers.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventType describes the kind of event.
type EventType string

const (
	// ProfileUpdated is published when a stored profile changed.
	ProfileUpdated EventType = "profile_updated"
	// ProfileDeleted is published when a stored profile was removed.
	ProfileDeleted EventType = "profile_deleted"
	// MatchFound is published for a pair scoring above the high-similarity threshold.
	MatchFound EventType = "match_found"
)

// Event wraps a typed payload with an event type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

const subscriberBufferSize = 64

type subscription[T any] struct {
	ch    chan Event[T]
	types map[EventType]bool
}

func (s *subscription[T]) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Broker fans events out to subscribers. A subscriber whose buffer is full
// misses the event; Publish never waits.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[*subscription[T]]struct{}
	dropped atomic.Int64
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[*subscription[T]]struct{})}
}

// Subscribe returns a channel of events of the given types, or of every type
// when none are given. The channel is closed once ctx is done.
func (b *Broker[T]) Subscribe(ctx context.Context, types ...EventType) <-chan Event[T] {
	sub := &subscription[T]{ch: make(chan Event[T], subscriberBufferSize)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		close(sub.ch)
	})
	return sub.ch
}

// Publish delivers payload to every subscriber interested in eventType.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	evt := Event[T]{Type: eventType, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts deliveries lost to full buffers.
func (b *Broker[T]) Dropped() int64 {
	return b.dropped.Load()
}
