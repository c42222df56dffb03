package durablehost

import (
	"bytes"
	"context"
	"testing"
)

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	w, _, _ := newTestWrapper(t)
	return NewFilesystem(w, NewVirtualFilesystem())
}

func TestFilesystem_WriteThenReadRoundTrips(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	if err := fs.Write(ctx, "/tmp/a", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, found, err := fs.Read(ctx, "/tmp/a")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found || !bytes.Equal(data, []byte("hello")) {
		t.Errorf("Read = (%q, %v), want (hello, true)", data, found)
	}
}

func TestFilesystem_ReadMissingPathNotFound(t *testing.T) {
	fs := newTestFilesystem(t)
	_, found, err := fs.Read(context.Background(), "/tmp/missing")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Errorf("expected found=false for a missing path")
	}
}

func TestFilesystem_RemoveDeletesPath(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	if err := fs.Write(ctx, "/tmp/a", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Remove(ctx, "/tmp/a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, found, err := fs.Read(ctx, "/tmp/a"); err != nil || found {
		t.Errorf("Read after Remove = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestFilesystem_ReplayReturnsRecordedContentRegardlessOfVFS(t *testing.T) {
	w, log, _ := newTestWrapper(t)
	vfs := NewVirtualFilesystem()
	fs := NewFilesystem(w, vfs)
	ctx := context.Background()

	if err := fs.Write(ctx, "/tmp/a", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, _, err := fs.Read(ctx, "/tmp/a"); err != nil {
		t.Fatalf("Read: %v", err)
	}

	replayEngine := replayFrom(t, log)
	replayFS := NewFilesystem(New(log, replayEngine), NewVirtualFilesystem())

	if err := replayFS.Write(ctx, "/tmp/a", []byte("should-not-land")); err != nil {
		t.Fatalf("Write during replay: %v", err)
	}
	data, found, err := replayFS.Read(ctx, "/tmp/a")
	if err != nil {
		t.Fatalf("Read during replay: %v", err)
	}
	if !found || !bytes.Equal(data, []byte("v1")) {
		t.Errorf("replayed Read = (%q, %v), want recorded (v1, true)", data, found)
	}
}
