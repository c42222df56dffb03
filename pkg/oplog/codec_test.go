package oplog

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func roundTrip(t *testing.T, e Entry) Entry {
	t.Helper()
	c := NewCodec()

	encoded, err := c.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, n, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("Decode consumed %d bytes, want %d", n, len(encoded))
	}
	if decoded.Tag() != e.Tag() {
		t.Errorf("Tag mismatch: got %d want %d", decoded.Tag(), e.Tag())
	}
	return decoded
}

func TestCodecRoundTrip_Create(t *testing.T) {
	parent := WorkerId{ComponentId: uuid.New(), WorkerName: "parent"}
	ts := time.Now().UTC().Round(time.Nanosecond)
	in := &Create{
		Timestamp:               ts,
		ComponentVersion:        3,
		Args:                    []string{"--flag", "value"},
		Env:                     map[string]string{"KEY": "VALUE"},
		AccountId:                "acct-1",
		Parent:                  &parent,
		ComponentSize:           1024,
		InitialLinearMemorySize: 65536,
	}

	out := roundTrip(t, in).(*Create)
	if out.ComponentVersion != in.ComponentVersion {
		t.Errorf("ComponentVersion mismatch")
	}
	if len(out.Args) != 2 || out.Args[0] != "--flag" {
		t.Errorf("Args mismatch: %v", out.Args)
	}
	if out.Env["KEY"] != "VALUE" {
		t.Errorf("Env mismatch: %v", out.Env)
	}
	if out.Parent == nil || !out.Parent.Equal(parent) {
		t.Errorf("Parent mismatch: %v", out.Parent)
	}
	if !out.Timestamp.Equal(ts) {
		t.Errorf("Timestamp mismatch: got %v want %v", out.Timestamp, ts)
	}
}

func TestCodecRoundTrip_CreateNoParent(t *testing.T) {
	in := &Create{Timestamp: time.Now().UTC(), ComponentVersion: 1}
	out := roundTrip(t, in).(*Create)
	if out.Parent != nil {
		t.Errorf("expected nil Parent, got %v", out.Parent)
	}
}

func TestCodecRoundTrip_ExportedFunctionInvoked(t *testing.T) {
	in := &ExportedFunctionInvoked{
		Timestamp:         time.Now().UTC(),
		FunctionName:      "process",
		Request:           PayloadRef{BlobId: uuid.New(), Size: 42, Hash: "deadbeef"},
		IdempotencyKey:    "idem-1",
		InvocationContext: []byte{0x01, 0x02, 0x03},
	}
	out := roundTrip(t, in).(*ExportedFunctionInvoked)
	if out.FunctionName != in.FunctionName {
		t.Errorf("FunctionName mismatch")
	}
	if out.Request.Hash != in.Request.Hash || out.Request.Size != in.Request.Size {
		t.Errorf("Request PayloadRef mismatch: %+v", out.Request)
	}
	if string(out.IdempotencyKey) != string(in.IdempotencyKey) {
		t.Errorf("IdempotencyKey mismatch")
	}
	if len(out.InvocationContext) != 3 {
		t.Errorf("InvocationContext mismatch: %v", out.InvocationContext)
	}
}

func TestCodecRoundTrip_SimpleVariants(t *testing.T) {
	ts := time.Now().UTC()
	entries := []Entry{
		&Suspend{Timestamp: ts},
		&Interrupted{Timestamp: ts},
		&Exited{Timestamp: ts},
		&NoOp{Timestamp: ts},
		&BeginAtomicRegion{Timestamp: ts},
		&BeginRemoteWrite{Timestamp: ts},
		&Restart{Timestamp: ts},
		&EndAtomicRegion{Timestamp: ts, BeginIndex: 5},
		&EndRemoteWrite{Timestamp: ts, BeginIndex: 9},
		&Jump{Timestamp: ts, Region: Region{Start: 2, End: 4}},
		&GrowMemory{Timestamp: ts, Delta: 65536},
		&CreateResource{Timestamp: ts, ResourceId: 1},
		&DropResource{Timestamp: ts, ResourceId: 1},
		&DescribeResource{Timestamp: ts, ResourceId: 1, Description: "file handle"},
		&Log{Timestamp: ts, Level: LogWarn, Context: "host", Message: "retrying"},
		&Error{Timestamp: ts, WorkerError: WorkerError{Message: "boom", Code: "E1", Retriable: true}},
		&ChangeRetryPolicy{Timestamp: ts, MaxAttempts: 3, InitialBackoffMs: 100, MaxBackoffMs: 1000, BackoffMultiplier: 2.0},
		&PendingWorkerInvocation{Timestamp: ts, FunctionName: "f", Request: PayloadRef{Hash: "h"}, IdempotencyKey: "k"},
		&PendingUpdate{Timestamp: ts, TargetVersion: 2, UpdateSnapshot: true},
		&SuccessfulUpdate{Timestamp: ts, TargetVersion: 2},
		&FailedUpdate{Timestamp: ts, TargetVersion: 2, Reason: "incompatible schema"},
		&ImportedFunctionInvoked{Timestamp: ts, FunctionName: "clock::now", Response: PayloadRef{Hash: "h2"}, DurabilityKind: ReadRemote},
		&ExportedFunctionCompleted{Timestamp: ts, Response: PayloadRef{Hash: "h3"}, ConsumedFuel: 100, Failed: false},
	}

	for _, e := range entries {
		roundTrip(t, e)
	}
}

func TestCodecDecode_TruncatedBuffer(t *testing.T) {
	c := NewCodec()
	if _, _, err := c.Decode([]byte{0, 0}); err == nil {
		t.Errorf("expected error decoding truncated length prefix")
	}

	encoded, _ := c.Encode(&Suspend{Timestamp: time.Now()})
	if _, _, err := c.Decode(encoded[:len(encoded)-2]); err == nil {
		t.Errorf("expected error decoding truncated entry body")
	}
}

func TestCodecTagNumbersStable(t *testing.T) {
	// Pinning the numeric tag values guards against accidental
	// renumbering, which would break cross-version compatibility (§6).
	want := map[Tag]string{
		TagCreate: "1", TagImportedFunctionInvoked: "2", TagExportedFunctionInvoked: "3",
		TagExportedFunctionCompleted: "4", TagSuspend: "5", TagInterrupted: "6", TagExited: "7",
		TagError: "8", TagNoOp: "9", TagJump: "10", TagChangeRetryPolicy: "11",
		TagBeginAtomicRegion: "12", TagEndAtomicRegion: "13", TagBeginRemoteWrite: "14",
		TagEndRemoteWrite: "15", TagPendingWorkerInvocation: "16", TagPendingUpdate: "17",
		TagSuccessfulUpdate: "18", TagFailedUpdate: "19", TagGrowMemory: "20",
		TagCreateResource: "21", TagDropResource: "22", TagDescribeResource: "23",
		TagLog: "24", TagRestart: "25",
	}
	for tag, label := range want {
		if got := int(tag); got != atoi(label) {
			t.Errorf("tag %s changed value: got %d", label, got)
		}
	}
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
