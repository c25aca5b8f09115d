package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures a BreakerEmbedder.
type BreakerSettings struct {
	Name string

	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before a probe request.
	OpenTimeout time.Duration

	// OnStateChange is called after every transition, in addition to logging.
	OnStateChange func(name string, from, to gobreaker.State)
}

// BreakerEmbedder stops calling a failing embedder for a while so callers
// fall back immediately instead of waiting out every timeout.
type BreakerEmbedder struct {
	inner  Embedder
	cb     *gobreaker.CircuitBreaker[[]float32]
	logger *slog.Logger
}

// NewBreakerEmbedder wraps inner with a circuit breaker.
func NewBreakerEmbedder(inner Embedder, s BreakerSettings, logger *slog.Logger) *BreakerEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	if s.Name == "" {
		s.Name = "embedder"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	b := &BreakerEmbedder{inner: inner, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		// Caller cancellation and blank input say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, ErrEmptyText)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if s.OnStateChange != nil {
				s.OnStateChange(name, from, to)
			}
		},
	})
	return b
}

// Embed calls the inner embedder unless the circuit is open.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.cb.Execute(func() ([]float32, error) {
		return b.inner.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, b.cb.Name())
	}
	return vec, err
}

// Model reports the inner embedder's model.
func (b *BreakerEmbedder) Model() string {
	return ModelName(b.inner)
}

// State returns the current breaker state.
func (b *BreakerEmbedder) State() gobreaker.State {
	return b.cb.State()
}

var _ Embedder = (*BreakerEmbedder)(nil)
