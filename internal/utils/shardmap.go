package utils

import (
	"hash/maphash"
	"sync"
)

// shardCount must be a power of two.
const shardCount = 32

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// ShardedMap is a string-keyed map split across independently locked
// shards, so writers for unrelated keys never wait on each other.
type ShardedMap[V any] struct {
	seed   maphash.Seed
	shards [shardCount]*shard[V]
}

// NewShardedMap returns an empty map.
func NewShardedMap[V any]() *ShardedMap[V] {
	s := &ShardedMap[V]{seed: maphash.MakeSeed()}
	for i := range s.shards {
		s.shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return s
}

func (s *ShardedMap[V]) shardFor(key string) *shard[V] {
	return s.shards[maphash.String(s.seed, key)&(shardCount-1)]
}

// Get returns the value stored under key.
func (s *ShardedMap[V]) Get(key string) (V, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	v, ok := sh.m[key]
	sh.mu.RUnlock()
	return v, ok
}

// Update runs fn under the key's shard write lock with the current value
// (zero and false when absent). fn returns the value to store and whether
// to keep it; keep=false deletes the key. fn must not block or call back
// into the map.
func (s *ShardedMap[V]) Update(key string, fn func(cur V, exists bool) (next V, keep bool)) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	cur, ok := sh.m[key]
	next, keep := fn(cur, ok)
	if keep {
		sh.m[key] = next
	} else if ok {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
}

// View runs fn under the key's shard read lock. fn must not mutate the
// value or block.
func (s *ShardedMap[V]) View(key string, fn func(v V, exists bool)) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	v, ok := sh.m[key]
	fn(v, ok)
	sh.mu.RUnlock()
}

// Range calls fn for every entry, one shard read lock at a time. Entries
// added or removed during the walk may or may not be visited.
func (s *ShardedMap[V]) Range(fn func(key string, v V)) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, v := range sh.m {
			fn(k, v)
		}
		sh.mu.RUnlock()
	}
}

// Values snapshots every value, holding one shard lock at a time.
func (s *ShardedMap[V]) Values() []V {
	var out []V
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, v := range sh.m {
			out = append(out, v)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len counts entries across shards. The result is approximate while
// writers are active.
func (s *ShardedMap[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
