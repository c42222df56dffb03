// Package blobstore is the payload indirection target oplog.PayloadRef
// points at: the out-of-line store for entry payloads too large to
// embed inline (§4.1's 8 KiB InlineThreshold). oplog.MemoryStorage
// delegates to it directly; a Postgres-backed Oplog keeps its payloads
// in a database table instead, since that storage's payloads already
// share the same durability and transaction boundary as its entries.
package blobstore

import (
	"context"
	"sync"

	"github.com/golemcloud/golemrt/pkg/cache"
)

// Store is a content-addressed blob store keyed by hash.
type Store interface {
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, bool, error)
}

// MemoryStore is an in-process Store backed by a plain map, used for
// tests and local/dev execution.
type MemoryStore struct {
	mu   sync.RWMutex
	blob map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blob: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, hash string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.blob[hash] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, hash string) ([]byte, bool, error) {
	s.mu.RLock()
	data, ok := s.blob[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// CacheStore adapts a pkg/cache.Cache (memory or Redis) as a Store, so
// a multi-process executor deployment can share out-of-line payloads
// across instances the same way it shares keyvalue-effect state.
type CacheStore struct {
	cache cache.Cache
}

// NewCacheStore wraps c as a blob Store. c's own TTL/eviction policy
// applies; blobs are content-addressed so a given hash's bytes never
// change underneath a caller even if the entry is later evicted and
// re-uploaded.
func NewCacheStore(c cache.Cache) *CacheStore {
	return &CacheStore{cache: c}
}

func (s *CacheStore) Put(ctx context.Context, hash string, data []byte) error {
	return s.cache.Set(ctx, blobKey(hash), data, 0)
}

func (s *CacheStore) Get(ctx context.Context, hash string) ([]byte, bool, error) {
	data, err := s.cache.Get(ctx, blobKey(hash))
	if err == cache.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func blobKey(hash string) string {
	return "blob:" + hash
}
