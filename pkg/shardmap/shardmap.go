// Package shardmap provides a sharded concurrent map keyed by string.
//
// Lock contention on a single mutex becomes visible once many goroutines
// mutate session state concurrently; sharding by key hash keeps writers on
// different shards out of each other's way.
package shardmap

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 32

// Map is a string-keyed concurrent map split across fixed shards.
type Map[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// New returns a Map with the default shard count.
func New[V any]() *Map[V] {
	return NewWithShards[V](defaultShards)
}

// NewWithShards returns a Map with n shards. n < 1 falls back to 1.
func NewWithShards[V any](n int) *Map[V] {
	if n < 1 {
		n = 1
	}
	shards := make([]*shard[V], n)
	for i := range shards {
		shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return &Map[V]{shards: shards}
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Get returns the value for key and whether it was present.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores value under key, replacing any existing entry.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Delete removes key and reports whether it was present.
func (m *Map[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	delete(s.m, key)
	return ok
}

// Update applies fn to the value under key while holding the shard lock.
// fn receives the current value (zero value if absent) and whether the key
// existed; it returns the new value and whether to keep the entry. Returning
// keep=false deletes the key. Update returns whether the key existed before.
func (m *Map[V]) Update(key string, fn func(v V, ok bool) (V, bool)) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	next, keep := fn(cur, ok)
	if keep {
		s.m[key] = next
	} else {
		delete(s.m, key)
	}
	return ok
}

// Range calls fn for every entry until fn returns false. The iteration holds
// one shard read lock at a time; entries added or removed concurrently may or
// may not be observed.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.m {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Len returns the total entry count across shards.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Keys returns a snapshot of all keys. Order is unspecified.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, m.Len())
	for _, s := range m.shards {
		s.mu.RLock()
		for k := range s.m {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}
