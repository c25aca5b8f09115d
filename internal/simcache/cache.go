// Package simcache memoizes pair similarity scores for a fixed TTL.
//
// Keys are unordered identity pairs: NewPairKey(a, b) == NewPairKey(b, a).
// Entries are written only after a score has been fully computed; an expired
// entry is reported as a miss and overwritten by the next Set. Backends never
// evict on their own beyond TTL expiry.
package simcache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultTTL is how long a pair score stays fresh.
const DefaultTTL = 30 * time.Minute

// pairSeparator cannot appear in a trimmed identity typed by a user.
const pairSeparator = "\x1f"

// PairKey is the canonical cache key of an unordered identity pair.
type PairKey string

// NewPairKey orders the identities so that (a, b) and (b, a) share a key.
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey(a + pairSeparator + b)
}

// Identities splits the key back into its (smaller, larger) identities.
func (k PairKey) Identities() (string, string) {
	a, b, _ := strings.Cut(string(k), pairSeparator)
	return a, b
}

// String renders the key for logs.
func (k PairKey) String() string {
	a, b := k.Identities()
	return a + "|" + b
}

// Entry is a cached pair score.
type Entry struct {
	Key        PairKey   `json:"key"`
	Value      float64   `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// Cache is a TTL-bounded store of pair scores.
type Cache interface {
	// Get returns the entry for key if present and not expired.
	Get(ctx context.Context, key PairKey) (Entry, bool, error)

	// Set stores value for key, stamped with the cache clock.
	Set(ctx context.Context, key PairKey, value float64) error

	// Len returns the number of stored entries, expired ones included.
	Len(ctx context.Context) (int, error)

	// Stats returns hit, miss and write counters.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}

// Stats holds cache counters.
type Stats struct {
	Hits   int64
	Misses int64
	Writes int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Writes: c.writes.Load(),
	}
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

type options struct {
	ttl    time.Duration
	shards int
	clock  Clock
	prefix string
}

// Option configures a cache backend.
type Option func(*options)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithShards sets the number of lock shards of the memory backend.
func WithShards(n int) Option {
	return func(o *options) { o.shards = n }
}

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPrefix sets the key prefix of the redis backend.
func WithPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

func buildOptions(opts []Option) options {
	o := options{
		ttl:    DefaultTTL,
		shards: defaultShards,
		clock:  time.Now,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.shards <= 0 {
		o.shards = defaultShards
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	return o
}

func fresh(e Entry, now time.Time, ttl time.Duration) bool {
	return now.Before(e.ComputedAt.Add(ttl))
}
