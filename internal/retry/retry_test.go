package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fast = Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestPolicyDo_SucceedsFirstAttempt(t *testing.T) {
	var calls int
	err := fast.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestPolicyDo_SucceedsOnLastAttempt(t *testing.T) {
	var calls int
	err := fast.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestPolicyDo_ExhaustsAttempts(t *testing.T) {
	target := errors.New("persistent")
	var calls int

	err := fast.Do(context.Background(), func() error {
		calls++
		return target
	})
	if !errors.Is(err, target) {
		t.Errorf("expected target error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestPolicyDo_StopsOnNonRetryable(t *testing.T) {
	retryable := errors.New("rate limited")
	fatal := errors.New("bad request")

	p := fast
	p.MaxAttempts = 5
	p.Retryable = func(err error) bool { return errors.Is(err, retryable) }

	var calls int
	err := p.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return retryable
		}
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestPolicyDo_ContextDoneReturnsLastError(t *testing.T) {
	target := errors.New("still failing")
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	var calls int
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error {
			calls++
			return target
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, target) {
			t.Errorf("expected last fn error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestPolicyDo_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := fast.Do(ctx, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected 0 calls, got %d", calls)
	}
}

func TestDoIf_SingleAttempt(t *testing.T) {
	var calls int
	err := DoIf(context.Background(), 1, func(error) bool { return true }, func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	tests := []struct {
		attempt int
		min     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond},
		{5, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		got := p.backoff(tt.attempt)
		max := tt.min + time.Duration(float64(tt.min)*jitterFraction)
		if got < tt.min || got > max {
			t.Errorf("backoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, max)
		}
	}
}

func TestBackoff_Defaults(t *testing.T) {
	got := Policy{}.backoff(0)
	if got < defaultBaseDelay {
		t.Errorf("backoff(0) = %v, want >= %v", got, defaultBaseDelay)
	}
}
