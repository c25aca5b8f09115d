package simcache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultShards = 32

type shard struct {
	mu      sync.RWMutex
	entries map[PairKey]Entry
}

// Memory is an in-process Cache split into independently locked shards.
// Readers of a shard share its lock; writers lock only the shard of their key.
type Memory struct {
	shards []*shard
	ttl    time.Duration
	now    Clock
	stats  counters
}

// NewMemory creates a sharded in-memory cache.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	m := &Memory{
		shards: make([]*shard, o.shards),
		ttl:    o.ttl,
		now:    o.clock,
	}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[PairKey]Entry)}
	}
	return m
}

func (m *Memory) shardFor(key PairKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Get returns the entry for key if it has not expired.
func (m *Memory) Get(_ context.Context, key PairKey) (Entry, bool, error) {
	s := m.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !fresh(e, m.now(), m.ttl) {
		m.stats.misses.Add(1)
		return Entry{}, false, nil
	}
	m.stats.hits.Add(1)
	return e, true, nil
}

// Set stores or overwrites the entry for key.
func (m *Memory) Set(_ context.Context, key PairKey, value float64) error {
	e := Entry{Key: key, Value: value, ComputedAt: m.now()}

	s := m.shardFor(key)
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	m.stats.writes.Add(1)
	return nil
}

// Len counts entries across all shards.
func (m *Memory) Len(_ context.Context) (int, error) {
	var n int
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n, nil
}

// Stats returns the cache counters.
func (m *Memory) Stats() Stats {
	return m.stats.snapshot()
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error {
	return nil
}

var _ Cache = (*Memory)(nil)
