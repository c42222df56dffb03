package oplog

import (
	"context"
	"fmt"
)

// Storage is the durable backing store for a single worker's oplog plus
// its out-of-line payload blobs (§6). Implementations must guarantee
// that Append assigns strictly increasing indices starting at 1 and
// that a successful Commit makes every entry appended before it
// durable, regardless of CommitLevel.
type Storage interface {
	// Append writes entry and returns the index assigned to it. Indices
	// are monotonic per worker and 1-based.
	Append(ctx context.Context, worker WorkerId, entry Entry) (OplogIndex, error)

	// Read returns entries in [from, to] (closed interval, 1-based).
	// Passing to == NoIndex means "through the last entry".
	Read(ctx context.Context, worker WorkerId, from, to OplogIndex) ([]Entry, error)

	// LastIndex returns the index of the most recently appended entry,
	// or NoIndex if the worker has no oplog yet.
	LastIndex(ctx context.Context, worker WorkerId) (OplogIndex, error)

	// UploadPayload stores data out-of-line and returns a reference to
	// it, content-addressed by its sha256 hash.
	UploadPayload(ctx context.Context, worker WorkerId, data []byte) (PayloadRef, error)

	// DownloadPayload retrieves a previously uploaded payload.
	DownloadPayload(ctx context.Context, worker WorkerId, ref PayloadRef) ([]byte, error)

	// Commit flushes buffered entries according to level. Implementations
	// that write synchronously on Append may treat this as a no-op.
	Commit(ctx context.Context, worker WorkerId, level CommitLevel) error
}

// ErrNotFound is returned by DownloadPayload when no blob matches the
// given reference.
var ErrNotFound = fmt.Errorf("oplog: payload not found")

// ErrWorkerNotFound is returned by Read when the worker has no oplog
// entries at all; LastIndex reports NoIndex instead.
var ErrWorkerNotFound = fmt.Errorf("oplog: worker not found")
