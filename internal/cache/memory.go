package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemoryCacheSize = 4096

// MemoryStore is an in-process LRU cache. The LRU's own expiry is the
// entry lifetime (freshness plus stale window); freshness checks are
// the handler's job via Entry.StoredAt.
type MemoryStore struct {
	lru *expirable.LRU[string, *Entry]
}

// NewMemoryStore creates a memory store. Lifetime is the maximum
// useful age of any entry; size <= 0 uses the default capacity.
func NewMemoryStore(size int, lifetime time.Duration) *MemoryStore {
	if size <= 0 {
		size = defaultMemoryCacheSize
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, *Entry](size, nil, lifetime),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// Set implements Store. The per-entry lifetime argument is ignored;
// the LRU applies its construction-time expiry.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, _ time.Duration) error {
	s.lru.Add(key, entry)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}
