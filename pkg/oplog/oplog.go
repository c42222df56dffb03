package oplog

import (
	"context"
	"fmt"
	"time"

	"github.com/golemcloud/golemrt/pkg/metrics"
)

// Oplog is the per-worker handle callers use instead of addressing a
// Storage directly (§4.1). It binds a WorkerId and the Codec passed to
// Open (design note, §9). The handle does not encode entries with that
// Codec: entries reach Storage as values and each backend encodes them
// with its own codec.
type Oplog struct {
	worker  WorkerId
	storage Storage
	codec   *Codec
}

// Open binds a handle to a single worker's oplog.
func Open(worker WorkerId, storage Storage, codec *Codec) *Oplog {
	if codec == nil {
		codec = NewCodec()
	}
	return &Oplog{worker: worker, storage: storage, codec: codec}
}

// WorkerId returns the worker this handle is bound to.
func (o *Oplog) WorkerId() WorkerId {
	return o.worker
}

// Append writes entry and returns its assigned index. Large payloads
// embedded via PayloadRef must already have been uploaded through
// UploadPayload by the caller; Append only persists the entry itself.
func (o *Oplog) Append(ctx context.Context, entry Entry) (OplogIndex, error) {
	start := time.Now()
	idx, err := o.storage.Append(ctx, o.worker, entry)
	if err == nil {
		metrics.Get().RecordOplogAppend(fmt.Sprintf("%T", o.storage), fmt.Sprintf("%d", entry.Tag()), time.Since(start), entrySize(entry))
	}
	return idx, err
}

// Read performs a batched forward read starting at from, returning at
// most count entries.
func (o *Oplog) Read(ctx context.Context, from OplogIndex, count int) ([]Entry, error) {
	if count <= 0 {
		return nil, nil
	}
	to := from + OplogIndex(count) - 1
	return o.storage.Read(ctx, o.worker, from, to)
}

// CurrentIndex returns the index of the last-assigned entry.
func (o *Oplog) CurrentIndex(ctx context.Context) (OplogIndex, error) {
	return o.storage.LastIndex(ctx, o.worker)
}

// UploadPayload stores data out-of-line whatever its size and returns
// the reference to embed in an entry; PutPayload applies InlineThreshold.
func (o *Oplog) UploadPayload(ctx context.Context, data []byte) (PayloadRef, error) {
	return o.storage.UploadPayload(ctx, o.worker, data)
}

// DownloadPayload resolves a PayloadRef, verifying the returned bytes
// hash to ref.Hash. A mismatch is a fatal OplogCorruption condition
// (§4.1, §7): the caller must abort replay rather than proceed on
// unverified data.
func (o *Oplog) DownloadPayload(ctx context.Context, ref PayloadRef) ([]byte, error) {
	data, err := o.storage.DownloadPayload(ctx, o.worker, ref)
	if err != nil {
		return nil, err
	}
	if sha256Hex(data) != ref.Hash {
		return nil, &CorruptionError{Worker: o.worker, Ref: ref}
	}
	return data, nil
}

// Commit flushes buffered entries per level.
func (o *Oplog) Commit(ctx context.Context, level CommitLevel) error {
	start := time.Now()
	err := o.storage.Commit(ctx, o.worker, level)
	if err == nil {
		metrics.Get().RecordOplogCommit(time.Since(start))
	}
	return err
}

// entrySize estimates an entry's wire size for the oplog_entry_size_bytes
// histogram; encode failures are not metrics-fatal, so they report 0
// rather than surfacing through Append's error path.
func entrySize(entry Entry) int {
	size, err := NewCodec().Encode(entry)
	if err != nil {
		return 0
	}
	return len(size)
}

// PutPayload uploads data and returns a PayloadRef only when the
// encoded size exceeds InlineThreshold; callers that always want an
// out-of-line reference should call UploadPayload directly.
func (o *Oplog) PutPayload(ctx context.Context, data []byte) (PayloadRef, bool, error) {
	if len(data) <= InlineThreshold {
		return PayloadRef{}, false, nil
	}
	ref, err := o.UploadPayload(ctx, data)
	return ref, true, err
}

// CorruptionError reports a payload whose downloaded bytes do not hash
// to the reference recorded in the oplog. It is fatal: replay must
// abort rather than continue on unverified data (§4.1, §7).
type CorruptionError struct {
	Worker WorkerId
	Ref    PayloadRef
}

func (e *CorruptionError) Error() string {
	return "oplog: payload hash mismatch for " + e.Worker.String() + " blob " + e.Ref.BlobId.String()
}
