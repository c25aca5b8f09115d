// Package embedcache memoizes embeddings so repeated texts (the same cluster
// description compared against many profiles) cost one provider call.
//
// Lookups go to an in-process expirable LRU first, then to an optional
// persistent Store, and finally to the wrapped embedder. Only usable vectors
// are memoized; failures are never cached.
package embedcache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jacklau/affinity/internal/provider"
	"github.com/jacklau/affinity/internal/similarity"
	"github.com/jacklau/affinity/internal/store"
)

const (
	defaultSize = 4096
	defaultTTL  = time.Hour
)

// Store persists embeddings across runs.
type Store interface {
	GetEmbedding(hash string) ([]byte, error)
	PutEmbedding(hash, model string, blob []byte) error
}

// Stats counts memo lookups.
type Stats struct {
	Hits       int64
	StoreHits  int64
	Misses     int64
	StoreFails int64
}

// Embedder wraps a provider.Embedder with memoization.
type Embedder struct {
	inner  provider.Embedder
	model  string
	lru    *expirable.LRU[string, []float32]
	store  Store
	logger *slog.Logger

	hits, storeHits, misses, storeFails atomic.Int64
}

type config struct {
	size   int
	ttl    time.Duration
	store  Store
	model  string
	logger *slog.Logger
}

// Option configures an Embedder.
type Option func(*config)

// WithSize bounds the number of vectors kept in memory.
func WithSize(n int) Option {
	return func(c *config) { c.size = n }
}

// WithTTL sets how long a vector stays in memory.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithStore adds a persistent second level.
func WithStore(s Store) Option {
	return func(c *config) { c.store = s }
}

// WithModel overrides the model name mixed into content hashes.
func WithModel(m string) Option {
	return func(c *config) { c.model = m }
}

// WithLogger sets the logger for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New wraps inner.
func New(inner provider.Embedder, opts ...Option) *Embedder {
	cfg := config{
		size:  defaultSize,
		ttl:   defaultTTL,
		model: provider.ModelName(inner),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.size <= 0 {
		cfg.size = defaultSize
	}
	if cfg.ttl <= 0 {
		cfg.ttl = defaultTTL
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Embedder{
		inner:  inner,
		model:  cfg.model,
		lru:    expirable.NewLRU[string, []float32](cfg.size, nil, cfg.ttl),
		store:  cfg.store,
		logger: cfg.logger,
	}
}

// Embed returns a memoized vector or asks the wrapped embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := ContentHash(e.model, text)

	if vec, ok := e.lru.Get(key); ok {
		e.hits.Add(1)
		return vec, nil
	}

	if vec := e.fromStore(key); vec != nil {
		e.storeHits.Add(1)
		e.lru.Add(key, vec)
		return vec, nil
	}

	e.misses.Add(1)
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if similarity.ValidateVector(vec) != nil {
		return vec, nil
	}

	e.lru.Add(key, vec)
	if e.store != nil {
		if err := e.store.PutEmbedding(key, e.model, EncodeEmbedding(vec)); err != nil {
			e.storeFails.Add(1)
			e.logger.Warn("persisting embedding failed", "error", err)
		}
	}
	return vec, nil
}

func (e *Embedder) fromStore(key string) []float32 {
	if e.store == nil {
		return nil
	}
	blob, err := e.store.GetEmbedding(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.storeFails.Add(1)
			e.logger.Warn("reading stored embedding failed", "error", err)
		}
		return nil
	}
	vec := DecodeEmbedding(blob)
	if similarity.ValidateVector(vec) != nil {
		return nil
	}
	return vec
}

// Model returns the model name used in content hashes.
func (e *Embedder) Model() string {
	return e.model
}

// Len returns the number of vectors held in memory.
func (e *Embedder) Len() int {
	return e.lru.Len()
}

// Stats returns lookup counters.
func (e *Embedder) Stats() Stats {
	return Stats{
		Hits:       e.hits.Load(),
		StoreHits:  e.storeHits.Load(),
		Misses:     e.misses.Load(),
		StoreFails: e.storeFails.Load(),
	}
}

var _ provider.Embedder = (*Embedder)(nil)
