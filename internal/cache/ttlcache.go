// Package cache implements the TTL cache the Collector consults before
// issuing a fetch. Get hands back the stored value itself and makes no
// copy: a value type arrives as a copy, but a map or pointer (the
// Collector stores per-exchange maps) is shared with every reader.
package cache

import (
	"sync"
	"time"
)

// Cache is a striped, per-kind TTL cache keyed by an arbitrary string
// (the Collector builds keys from (kind, exchange, symbols_fingerprint)).
// Each shard has its own lock so lookups for different keys never block
// each other beyond the usual hash-bucket collision.
type Cache struct {
	shards    []*shard
	shardMask uint64
	now       func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	value      interface{}
	expiresAt  time.Time
}

const defaultShardCount = 16

// New constructs a Cache with defaultShardCount stripes.
func New() *Cache {
	shards := make([]*shard, defaultShardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]entry)}
	}
	return &Cache{
		shards:    shards,
		shardMask: uint64(defaultShardCount - 1),
		now:       time.Now,
	}
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[fnv1a(key)&c.shardMask]
}

// Get returns the cached value for key and whether it was present and not
// yet expired. The returned value is whatever was stored by Set; a
// reference type such as a map is returned without copying.
func (c *Cache) Get(key string) (interface{}, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Len returns the total number of entries across all shards, including
// expired ones: nothing removes an expired entry, a later Set for the same
// key only overwrites it.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
