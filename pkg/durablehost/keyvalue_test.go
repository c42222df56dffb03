package durablehost

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/golemcloud/golemrt/pkg/cache"
)

func newTestKeyValue(t *testing.T) (*KeyValue, *Wrapper) {
	t.Helper()
	w, _, _ := newTestWrapper(t)
	return NewKeyValue(w, cache.NewMemoryCache(nil)), w
}

func TestKeyValue_SetThenGetRoundTrips(t *testing.T) {
	kv, _ := newTestKeyValue(t)
	ctx := context.Background()

	if err := kv.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, found, err := kv.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v1")) {
		t.Errorf("Get = (%q, %v), want (v1, true)", value, found)
	}
}

func TestKeyValue_GetMissingKeyNotFound(t *testing.T) {
	kv, _ := newTestKeyValue(t)
	_, found, err := kv.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Errorf("expected found=false for a missing key")
	}
}

func TestKeyValue_DeleteRemovesKey(t *testing.T) {
	kv, _ := newTestKeyValue(t)
	ctx := context.Background()
	if err := kv.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, err := kv.Exists(ctx, "k1"); err != nil || ok {
		t.Errorf("Exists after Delete = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestKeyValue_ReplayDoesNotTouchBackingStore(t *testing.T) {
	w, log, _ := newTestWrapper(t)
	store := cache.NewMemoryCache(nil)
	kv := NewKeyValue(w, store)
	ctx := context.Background()

	if err := kv.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := kv.Get(ctx, "k1"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	replayEngine := replayFrom(t, log)
	replayWrapper := New(log, replayEngine)
	replayStore := cache.NewMemoryCache(nil) // deliberately empty: replay must not read it
	replayKV := NewKeyValue(replayWrapper, replayStore)

	if err := replayKV.Set(ctx, "k1", []byte("should-not-be-written"), time.Minute); err != nil {
		t.Fatalf("Set during replay: %v", err)
	}
	value, found, err := replayKV.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get during replay: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v1")) {
		t.Errorf("replayed Get = (%q, %v), want the recorded (v1, true) even though the backing store behind it is empty", value, found)
	}
	if _, err := replayStore.Get(ctx, "k1"); err != cache.ErrKeyNotFound {
		t.Errorf("replay must not write through to the backing store, got err=%v", err)
	}
}
