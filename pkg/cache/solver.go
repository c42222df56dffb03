package cache

import (
	"context"
	"time"
)

// PayloadCache caches the out-of-line blob content referenced by a
// PayloadRef (§3) so that repeated reads of the same payload — e.g. a
// replay re-reading an ImportedFunctionInvoked request body — don't
// round-trip to the oplog's blob store.
type PayloadCache struct {
	cache      Cache
	defaultTTL time.Duration
}

// NewPayloadCache creates a PayloadCache backed by the given Cache.
func NewPayloadCache(cache Cache, defaultTTL time.Duration) *PayloadCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &PayloadCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached blob for a component/payload-hash pair.
// The bool is false on a cache miss; callers fall back to the blob
// store in that case.
func (pc *PayloadCache) Get(ctx context.Context, componentID, payloadHash string) ([]byte, bool, error) {
	key := BuildPayloadKey(componentID, payloadHash)

	data, err := pc.cache.Get(ctx, key)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	return data, true, nil
}

// Put stores a payload's blob content under its content hash. ttl of
// zero uses the cache's default TTL.
func (pc *PayloadCache) Put(ctx context.Context, componentID, payloadHash string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = pc.defaultTTL
	}

	key := BuildPayloadKey(componentID, payloadHash)
	return pc.cache.Set(ctx, key, data, ttl)
}

// PutIfAbsent stores the blob only if it isn't already cached,
// avoiding a redundant write when many workers share a component and
// produce the same payload content.
func (pc *PayloadCache) PutIfAbsent(ctx context.Context, componentID, payloadHash string, data []byte, ttl time.Duration) error {
	exists, err := pc.cache.Exists(ctx, BuildPayloadKey(componentID, payloadHash))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return pc.Put(ctx, componentID, payloadHash, data, ttl)
}

// InvalidateComponent removes every cached payload blob belonging to
// a component, used when a component is undeployed.
func (pc *PayloadCache) InvalidateComponent(ctx context.Context, componentID string) (int64, error) {
	return pc.cache.DeleteByPattern(ctx, "payload:"+componentID+":*")
}
