// Package oplog implements the per-worker, append-only journal (§3, §4.1,
// §6): entry types, the bit-exact binary codec, payload indirection, and
// the OplogStorage interface with in-memory and Postgres-backed
// implementations.
package oplog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkerId is a worker's stable identity: a component and a name unique
// within that component.
type WorkerId struct {
	ComponentId uuid.UUID
	WorkerName  string
}

// String renders the id as "<component_id>/<worker_name>", used for log
// lines and cache/metric label values.
func (w WorkerId) String() string {
	return fmt.Sprintf("%s/%s", w.ComponentId, w.WorkerName)
}

// Equal reports whether two WorkerIds name the same worker.
func (w WorkerId) Equal(other WorkerId) bool {
	return w.ComponentId == other.ComponentId && w.WorkerName == other.WorkerName
}

// OplogIndex is a monotonic, 1-based sequence number. Index 0 is never
// assigned; it is used as a sentinel for "no entry yet".
type OplogIndex uint64

// NoIndex is the sentinel value for "not yet assigned".
const NoIndex OplogIndex = 0

// PayloadRef points at a blob stored out-of-line because its natural
// encoding exceeds the inline threshold (§3, suggested 8 KiB).
type PayloadRef struct {
	BlobId uuid.UUID
	Size   int64
	Hash   string // hex-encoded sha256 of the blob content
}

// DurabilityKind classifies a host call's flush and bracketing policy
// (§4.3).
type DurabilityKind uint8

const (
	ReadLocal DurabilityKind = iota
	WriteLocal
	ReadRemote
	WriteRemote
)

// String renders the kind for logs and span attributes.
func (k DurabilityKind) String() string {
	switch k {
	case ReadLocal:
		return "read_local"
	case WriteLocal:
		return "write_local"
	case ReadRemote:
		return "read_remote"
	case WriteRemote:
		return "write_remote"
	default:
		return "unknown"
	}
}

// CommitLevel controls how aggressively Commit flushes buffered
// entries (§4.1).
type CommitLevel uint8

const (
	// DurableOnly flushes only entries whose durability kind demands a
	// synchronous commit (WriteLocal, ReadRemote, WriteRemote).
	DurableOnly CommitLevel = iota
	// Always flushes every buffered entry, including ReadLocal.
	Always
)

// WorkerStatus is derived from the last relevant oplog entry plus
// liveness (§3).
type WorkerStatus int

const (
	StatusIdle WorkerStatus = iota
	StatusRunning
	StatusSuspended
	StatusInterrupted
	StatusRetrying
	StatusFailed
	StatusExited
)

func (s WorkerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusInterrupted:
		return "interrupted"
	case StatusRetrying:
		return "retrying"
	case StatusFailed:
		return "failed"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// IdempotencyKey deduplicates retried invocations (§3). A key is either
// supplied by the caller, generated fresh, or derived from a parent key
// and an oplog index so that replay regenerates it identically.
type IdempotencyKey string

// Derive produces a stable child key from a parent key and the oplog
// index of the operation requesting it. It is a pure function of its
// inputs, per testable property 5 (§8): replay recomputes identical
// outbound RPC idempotency keys.
func Derive(parent IdempotencyKey, index OplogIndex) IdempotencyKey {
	return IdempotencyKey(fmt.Sprintf("%s/%d", parent, index))
}

// NewFreshIdempotencyKey generates a new random idempotency key for an
// invocation that did not supply one.
func NewFreshIdempotencyKey() IdempotencyKey {
	return IdempotencyKey(uuid.NewString())
}

// WorkerError is the structured failure recorded by an Error entry.
type WorkerError struct {
	Message  string
	Code     string
	Retriable bool
}

// Region is a closed interval of oplog indices, used by Jump and by
// atomic-region bracketing.
type Region struct {
	Start OplogIndex
	End   OplogIndex
}

// Timestamp is embedded in every entry. It is supplied by the caller
// (not generated internally) so that replay is a pure function of the
// stored log, never of wall-clock time read during deserialization.
type Timestamp = time.Time
