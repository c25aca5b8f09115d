package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type match struct {
	a, b  string
	score float64
}

func TestSubscribeAndPublish(t *testing.T) {
	broker := NewBroker[match]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)
	broker.Publish(MatchFound, match{"alice", "bob", 0.91})

	select {
	case evt := <-ch:
		if evt.Type != MatchFound {
			t.Errorf("expected MatchFound, got %s", evt.Type)
		}
		if evt.Payload.a != "alice" || evt.Payload.score != 0.91 {
			t.Errorf("unexpected payload %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribe_FiltersByType(t *testing.T) {
	broker := NewBroker[string]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := broker.Subscribe(ctx, ProfileUpdated)
	all := broker.Subscribe(ctx)

	broker.Publish(ProfileDeleted, "bob")
	broker.Publish(ProfileUpdated, "alice")

	select {
	case evt := <-updates:
		if evt.Type != ProfileUpdated || evt.Payload != "alice" {
			t.Errorf("filtered subscriber got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	select {
	case evt := <-updates:
		t.Errorf("unexpected extra event %+v", evt)
	default:
	}

	if got := len(all); got != 2 {
		t.Errorf("unfiltered subscriber buffered %d events, want 2", got)
	}
	if broker.Dropped() != 0 {
		t.Errorf("filtered events must not count as dropped, got %d", broker.Dropped())
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker[string]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)
	if n := broker.Subscribers(); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	broker.Publish(ProfileUpdated, "alice")

	for _, ch := range []<-chan Event[string]{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Payload != "alice" {
				t.Errorf("expected payload 'alice', got %q", evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestContextCancellationClosesChannel(t *testing.T) {
	broker := NewBroker[string]()
	ctx, cancel := context.WithCancel(context.Background())

	ch := broker.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	deadline := time.Now().Add(time.Second)
	for broker.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed")
		}
		time.Sleep(time.Millisecond)
	}

	// Publishing after removal must not panic.
	broker.Publish(ProfileDeleted, "alice")
}

func TestSlowSubscriberDrop(t *testing.T) {
	broker := NewBroker[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	total := subscriberBufferSize + 10
	for i := 0; i < total; i++ {
		broker.Publish(ProfileUpdated, i)
	}

	if got := broker.Dropped(); got != 10 {
		t.Errorf("expected 10 dropped, got %d", got)
	}
	if len(ch) != subscriberBufferSize {
		t.Errorf("expected full buffer of %d, got %d", subscriberBufferSize, len(ch))
	}
	first := <-ch
	if first.Payload != 0 {
		t.Errorf("expected oldest event first, got %d", first.Payload)
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	broker := NewBroker[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const subscribers = 8
	var received atomic.Int64
	var readers sync.WaitGroup
	for i := 0; i < subscribers; i++ {
		ch := broker.Subscribe(ctx)
		readers.Add(1)
		go func() {
			defer readers.Done()
			for range ch {
				received.Add(1)
			}
		}()
	}

	var publishers sync.WaitGroup
	for p := 0; p < 4; p++ {
		publishers.Add(1)
		go func(p int) {
			defer publishers.Done()
			for i := 0; i < 100; i++ {
				broker.Publish(MatchFound, p*100+i)
			}
		}(p)
	}

	// Subscribers churning during publish.
	for i := 0; i < 20; i++ {
		subCtx, subCancel := context.WithCancel(ctx)
		broker.Subscribe(subCtx)
		subCancel()
	}

	publishers.Wait()
	cancel()
	readers.Wait()

	delivered := received.Load() + broker.Dropped()
	if delivered < subscribers*400 {
		t.Errorf("expected at least %d deliveries or drops, got %d", subscribers*400, delivered)
	}
}
