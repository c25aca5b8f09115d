// Package retry runs operations again with exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMaxAttempts is the default number of attempts before giving up.
	DefaultMaxAttempts = 3

	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 10 * time.Second

	// jitterFraction is the maximum fraction of the delay added as jitter.
	jitterFraction = 0.25
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable reports whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// Default is 3 attempts backing off 1s, 2s with up to 25% jitter.
var Default = Policy{
	MaxAttempts: DefaultMaxAttempts,
	BaseDelay:   defaultBaseDelay,
	MaxDelay:    defaultMaxDelay,
}

// Do retries fn up to maxAttempts times with the default backoff.
func Do(ctx context.Context, maxAttempts int, fn func() error) error {
	p := Default
	p.MaxAttempts = maxAttempts
	return p.Do(ctx, fn)
}

// DoIf is Do restricted to errors for which retryable returns true; any other
// error is returned at once.
func DoIf(ctx context.Context, maxAttempts int, retryable func(error) bool, fn func() error) error {
	p := Default
	p.MaxAttempts = maxAttempts
	p.Retryable = retryable
	return p.Do(ctx, fn)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(p.backoff(attempt)):
			}
		}
	}

	return lastErr
}

// backoff returns the delay after the given 0-indexed attempt.
func (p Policy) backoff(attempt int) time.Duration {
	base, ceiling := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if ceiling <= 0 {
		ceiling = defaultMaxDelay
	}

	delay := time.Duration(math.Pow(2, float64(attempt))) * base
	if delay > ceiling {
		delay = ceiling
	}
	return delay + time.Duration(float64(delay)*jitterFraction*rand.Float64())
}
