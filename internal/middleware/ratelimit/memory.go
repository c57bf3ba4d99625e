package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

type counter struct {
	windowStart time.Time
	count       int64
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// MemoryStore is a sharded in-process fixed-window counter. Counters
// reset exactly at window boundaries.
type MemoryStore struct {
	shards [shardCount]*shard
	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{counters: make(map[string]*counter)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()
	start := windowStart(now, window)

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c := sh.counters[key]
	if c == nil || !c.windowStart.Equal(start) {
		c = &counter{windowStart: start}
		sh.counters[key] = c
	}
	c.count++
	return c.count, start.Add(window), nil
}

// Sweep drops counters from past windows so one-off keys do not
// accumulate. The limiter calls it every sweepEvery increments.
func (s *MemoryStore) Sweep(window time.Duration) {
	start := windowStart(s.now(), window)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, c := range sh.counters {
			if c.windowStart.Before(start) {
				delete(sh.counters, key)
			}
		}
		sh.mu.Unlock()
	}
}
