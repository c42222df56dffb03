package durablehost

import (
	"bytes"
	"context"
	"testing"
)

func TestRandomBytes_ReplayReturnsRecordedBytes(t *testing.T) {
	w, log, _ := newTestWrapper(t)
	ctx := context.Background()

	recorded, err := w.RandomBytes(ctx, 16)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(recorded) != 16 {
		t.Fatalf("len(recorded) = %d, want 16", len(recorded))
	}

	replayEngine := replayFrom(t, log)
	rw := New(log, replayEngine)

	replayed, err := rw.RandomBytes(ctx, 16)
	if err != nil {
		t.Fatalf("RandomBytes during replay: %v", err)
	}
	if !bytes.Equal(replayed, recorded) {
		t.Errorf("replayed bytes %x != recorded %x", replayed, recorded)
	}
}

func TestRandomU64_ReplayReturnsRecordedValue(t *testing.T) {
	w, log, _ := newTestWrapper(t)
	ctx := context.Background()

	recorded, err := w.RandomU64(ctx)
	if err != nil {
		t.Fatalf("RandomU64: %v", err)
	}

	replayEngine := replayFrom(t, log)
	rw := New(log, replayEngine)

	replayed, err := rw.RandomU64(ctx)
	if err != nil {
		t.Fatalf("RandomU64 during replay: %v", err)
	}
	if replayed != recorded {
		t.Errorf("replayed = %d, want recorded %d", replayed, recorded)
	}
}
