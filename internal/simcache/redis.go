package simcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "affinity:pair:"

// Redis is a Cache shared across processes. The server expires keys after
// the TTL; entries are also checked against the local clock on read.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    Clock
	stats  counters
}

// NewRedis connects to the redis server at url. Both redis:// URLs and bare
// host:port addresses are accepted.
func NewRedis(ctx context.Context, url string, opts ...Option) (*Redis, error) {
	redisOpts, err := parseRedisURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisWithClient(client, opts...), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, opts ...Option) *Redis {
	o := buildOptions(opts)
	return &Redis{
		client: client,
		prefix: o.prefix,
		ttl:    o.ttl,
		now:    o.clock,
	}
}

func parseRedisURL(url string) (*redis.Options, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return opts, nil
	}
	if url == "" {
		url = "localhost:6379"
	}
	return &redis.Options{Addr: url}, nil
}

// redisKey keeps the pair separator so identities containing ':' cannot
// collide.
func (r *Redis) redisKey(key PairKey) string {
	return r.prefix + string(key)
}

// Get returns the entry for key if present and fresh.
func (r *Redis) Get(ctx context.Context, key PairKey) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.stats.misses.Add(1)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading pair score from redis: %w", err)
	}

	e, ok, err := r.decode(key, raw)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		r.stats.misses.Add(1)
		return Entry{}, false, nil
	}
	r.stats.hits.Add(1)
	return e, true, nil
}

// decode accepts a stored entry only if it belongs to key and is fresh.
func (r *Redis) decode(key PairKey, raw []byte) (Entry, bool, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decoding pair score: %w", err)
	}
	if e.Key != key || !fresh(e, r.now(), r.ttl) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set writes the entry with a server-side expiry of the TTL.
func (r *Redis) Set(ctx context.Context, key PairKey, value float64) error {
	e := Entry{Key: key, Value: value, ComputedAt: r.now()}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding pair score: %w", err)
	}

	if err := r.client.Set(ctx, r.redisKey(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing pair score to redis: %w", err)
	}
	r.stats.writes.Add(1)
	return nil
}

// Len counts keys under the prefix with SCAN.
func (r *Redis) Len(ctx context.Context) (int, error) {
	var (
		count  int
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("counting pair scores in redis: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Flush deletes every key under the prefix.
func (r *Redis) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scanning redis: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("flushing redis: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats returns the cache counters of this process.
func (r *Redis) Stats() Stats {
	return r.stats.snapshot()
}

// Close closes the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Cache = (*Redis)(nil)
