package oplog

import (
	"context"
	"testing"
	"time"
)

func TestOplog_AppendReadCurrentIndex(t *testing.T) {
	storage := NewMemoryStorage()
	o := Open(testWorker(), storage, nil)
	ctx := context.Background()

	idx, err := o.Append(ctx, &NoOp{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx != 1 {
		t.Errorf("first Append index = %d, want 1", idx)
	}

	cur, err := o.CurrentIndex(ctx)
	if err != nil {
		t.Fatalf("CurrentIndex: %v", err)
	}
	if cur != 1 {
		t.Errorf("CurrentIndex = %d, want 1", cur)
	}

	entries, err := o.Read(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Read returned %d entries, want 1", len(entries))
	}
}

func TestOplog_AppendReadLast(t *testing.T) {
	storage := NewMemoryStorage()
	o := Open(testWorker(), storage, nil)
	ctx := context.Background()

	e := &Log{Timestamp: time.Now(), Message: "hello"}
	if _, err := o.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := o.Read(ctx, 1, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Read: entries=%v err=%v", entries, err)
	}
	if entries[0].(*Log).Message != "hello" {
		t.Errorf("append(e); read_last() did not return e: %+v", entries[0])
	}
}

func TestOplog_PayloadRoundTripAndCorruption(t *testing.T) {
	storage := NewMemoryStorage()
	o := Open(testWorker(), storage, nil)
	ctx := context.Background()

	data := []byte("payload bytes")
	ref, err := o.UploadPayload(ctx, data)
	if err != nil {
		t.Fatalf("UploadPayload: %v", err)
	}

	got, err := o.DownloadPayload(ctx, ref)
	if err != nil {
		t.Fatalf("DownloadPayload: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("DownloadPayload mismatch")
	}

	tampered := ref
	tampered.Hash = "not-the-real-hash"
	if _, err := o.DownloadPayload(ctx, tampered); err == nil {
		t.Errorf("expected corruption error for mismatched hash")
	} else if _, ok := err.(*CorruptionError); !ok {
		t.Errorf("expected *CorruptionError, got %T: %v", err, err)
	}
}

func TestOplog_PutPayloadInlineThreshold(t *testing.T) {
	storage := NewMemoryStorage()
	o := Open(testWorker(), storage, nil)
	ctx := context.Background()

	small := make([]byte, InlineThreshold)
	_, wentOutOfLine, err := o.PutPayload(ctx, small)
	if err != nil {
		t.Fatalf("PutPayload: %v", err)
	}
	if wentOutOfLine {
		t.Errorf("payload at the threshold should stay inline")
	}

	large := make([]byte, InlineThreshold+1)
	ref, wentOutOfLine, err := o.PutPayload(ctx, large)
	if err != nil {
		t.Fatalf("PutPayload: %v", err)
	}
	if !wentOutOfLine {
		t.Errorf("payload over the threshold should go out of line")
	}
	if ref.Size != int64(len(large)) {
		t.Errorf("ref.Size = %d, want %d", ref.Size, len(large))
	}
}
