package durablehost

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/cache"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// KeyValue wraps a pkg/cache.Cache as the keyvalue host-function group
// (§3 "keyvalue (WriteLocal/ReadLocal)"): writes are durability-wrapped
// as WriteLocal so replay never re-executes them against the backing
// store, reads as ReadLocal so a worker observes the same value on
// replay even if the underlying key has since changed.
type KeyValue struct {
	wrapper *Wrapper
	store   cache.Cache
}

// NewKeyValue binds a durability wrapper to a backing cache.
func NewKeyValue(w *Wrapper, store cache.Cache) *KeyValue {
	return &KeyValue{wrapper: w, store: store}
}

type kvGetResult struct {
	Found bool   `json:"found"`
	Value []byte `json:"value"`
}

// Get returns the value for key, or found=false if it does not exist.
func (k *KeyValue) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	response, err := k.wrapper.Do(ctx, "keyvalue::get", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		v, err := k.store.Get(ctx, key)
		if err == cache.ErrKeyNotFound {
			return json.Marshal(kvGetResult{Found: false})
		}
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeFatal, "keyvalue: get")
		}
		return json.Marshal(kvGetResult{Found: true, Value: v})
	})
	if err != nil {
		return nil, false, err
	}
	var result kvGetResult
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, false, apperror.New(apperror.CodeOplogCorruption, "keyvalue: decode recorded get result")
	}
	return result.Value, result.Found, nil
}

// Set stores value for key with the given ttl (zero or negative uses
// the backing cache's default TTL), as an atomic WriteLocal effect.
func (k *KeyValue) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := k.wrapper.Do(ctx, "keyvalue::set", Options{Kind: oplog.WriteLocal, Atomic: true}, func(ctx context.Context) ([]byte, error) {
		if err := k.store.Set(ctx, key, value, ttl); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeFatal, "keyvalue: set")
		}
		return nil, nil
	})
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (k *KeyValue) Delete(ctx context.Context, key string) error {
	_, err := k.wrapper.Do(ctx, "keyvalue::delete", Options{Kind: oplog.WriteLocal}, func(ctx context.Context) ([]byte, error) {
		if err := k.store.Delete(ctx, key); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeFatal, "keyvalue: delete")
		}
		return nil, nil
	})
	return err
}

type kvExistsResult struct {
	Exists bool `json:"exists"`
}

// Exists reports whether key is present.
func (k *KeyValue) Exists(ctx context.Context, key string) (bool, error) {
	response, err := k.wrapper.Do(ctx, "keyvalue::exists", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		ok, err := k.store.Exists(ctx, key)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeFatal, "keyvalue: exists")
		}
		return json.Marshal(kvExistsResult{Exists: ok})
	})
	if err != nil {
		return false, err
	}
	var result kvExistsResult
	if err := json.Unmarshal(response, &result); err != nil {
		return false, apperror.New(apperror.CodeOplogCorruption, "keyvalue: decode recorded exists result")
	}
	return result.Exists, nil
}
