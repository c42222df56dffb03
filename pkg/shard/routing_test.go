package shard

import (
	"testing"

	"github.com/google/uuid"

	"github.com/golemcloud/golemrt/pkg/oplog"
)

func TestRoutingTable_SetAndLookup(t *testing.T) {
	rt := NewRoutingTable()
	w := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "w1"}

	if _, ok := rt.Lookup(w); ok {
		t.Fatalf("expected a miss on an empty table")
	}

	rt.Set(w, "executor-1:9090")
	addr, ok := rt.Lookup(w)
	if !ok || addr != "executor-1:9090" {
		t.Errorf("Lookup = (%q, %v), want (executor-1:9090, true)", addr, ok)
	}
	if rt.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rt.Len())
	}
}

func TestRoutingTable_InvalidateRemovesEntry(t *testing.T) {
	rt := NewRoutingTable()
	w := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "w1"}
	rt.Set(w, "executor-1:9090")

	rt.Invalidate(w)
	if _, ok := rt.Lookup(w); ok {
		t.Errorf("expected invalidated entry to miss")
	}
	if rt.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rt.Len())
	}
}

func TestRoutingTable_SetDoesNotMutateConcurrentSnapshot(t *testing.T) {
	rt := NewRoutingTable()
	w1 := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "w1"}
	w2 := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "w2"}
	rt.Set(w1, "executor-1:9090")

	snapshot := *rt.table.Load()
	rt.Set(w2, "executor-2:9090")

	if _, ok := snapshot[w2]; ok {
		t.Errorf("a previously taken snapshot must not observe later writes")
	}
	if addr, ok := rt.Lookup(w2); !ok || addr != "executor-2:9090" {
		t.Errorf("the live table must observe the write")
	}
}
