// Package replay implements the cursor-driven replay engine (§4.2):
// it answers "what did the next instance of this host effect produce"
// by walking a worker's oplog from the start, and flips to live mode
// once the cursor catches up with the last-assigned index.
package replay

import (
	"context"
	"fmt"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/logger"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// State is the engine's current mode.
type State int

const (
	// Replaying means the cursor is behind current_index: host calls
	// must not touch the outside world.
	Replaying State = iota
	// Live means cursor == current_index: host calls perform real
	// effects and append.
	Live
	// Snapshotting is a transient state used while taking a full state
	// snapshot; side effects are suppressed exactly as in Replaying.
	Snapshotting
)

func (s State) String() string {
	switch s {
	case Replaying:
		return "replaying"
	case Live:
		return "live"
	case Snapshotting:
		return "snapshotting"
	default:
		return "unknown"
	}
}

// RetryPoint records where the worker layer should re-execute from
// after a retriable error surfaces during replay (§4.2).
type RetryPoint struct {
	BeginIndex oplog.OplogIndex
	Reason     string
}

// Engine holds the replay cursor for one worker and the derived state
// markers produced by apply_jump_and_markers (§4.2).
type Engine struct {
	worker  oplog.WorkerId
	log     *oplog.Oplog
	cursor  oplog.OplogIndex // next index to read
	state   State
	current oplog.OplogIndex // current_index(), cached

	// elidedRegions holds the closed intervals skipped because of an
	// unclosed BeginAtomicRegion or active Jump.
	elidedRegions []oplog.Region

	retryPolicy RetryPolicySnapshot
	retryPoint  *RetryPoint
}

// RetryPolicySnapshot mirrors the fields a ChangeRetryPolicy entry can
// override, applied as derived state while replaying (§4.2).
type RetryPolicySnapshot struct {
	MaxAttempts       int32
	InitialBackoffMs  int64
	MaxBackoffMs      int64
	BackoffMultiplier float64
}

// DefaultRetryPolicy is used until the first ChangeRetryPolicy entry is
// observed.
var DefaultRetryPolicy = RetryPolicySnapshot{
	MaxAttempts:       3,
	InitialBackoffMs:  100,
	MaxBackoffMs:      30_000,
	BackoffMultiplier: 2.0,
}

// New creates an engine positioned at the start of worker's oplog. The
// caller must call Start to position the cursor and compute the
// initial state before issuing any host calls.
func New(worker oplog.WorkerId, log *oplog.Oplog) *Engine {
	return &Engine{
		worker:      worker,
		log:         log,
		cursor:      1,
		state:       Replaying,
		retryPolicy: DefaultRetryPolicy,
	}
}

// Start reads current_index and sets the initial state: Live
// immediately if the oplog is empty or the cursor is already caught
// up, Replaying otherwise.
func (e *Engine) Start(ctx context.Context) error {
	cur, err := e.log.CurrentIndex(ctx)
	if err != nil {
		return apperror.Transient(err, "replay: read current index")
	}
	e.current = cur
	if e.cursor > e.current {
		e.state = Live
	}
	return nil
}

// State returns the engine's current mode.
func (e *Engine) State() State { return e.state }

// IsLive reports whether the engine is in Live mode (durability
// wrapper: "if replay.is_live()").
func (e *Engine) IsLive() bool { return e.state == Live }

// Cursor returns the next index the engine will read.
func (e *Engine) Cursor() oplog.OplogIndex { return e.cursor }

// RetryPolicy returns the retry policy currently in effect, as derived
// from the most recent ChangeRetryPolicy entry observed.
func (e *Engine) RetryPolicy() RetryPolicySnapshot { return e.retryPolicy }

// RetryPointReached returns the recorded retry point, if replay
// surfaced a retriable Error entry, and nil otherwise.
func (e *Engine) RetryPointReached() *RetryPoint { return e.retryPoint }

// NextImportedFunctionResponse advances past any non-effect markers
// and returns the next ImportedFunctionInvoked entry, verifying its
// function name matches expectedFnName. In Live mode it always returns
// (nil, nil): the caller must perform the effect itself.
func (e *Engine) NextImportedFunctionResponse(ctx context.Context, expectedFnName string) (*oplog.ImportedFunctionInvoked, error) {
	if e.state == Live {
		return nil, nil
	}

	for {
		entry, err := e.applyJumpAndMarkers(ctx)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			// Ran out of entries without finding an effect; the caller
			// asked for a response that live execution has not produced
			// yet. Switch to live and let the caller perform it.
			e.switchToLive()
			return nil, nil
		}

		invoked, ok := entry.(*oplog.ImportedFunctionInvoked)
		if !ok {
			continue
		}

		if invoked.FunctionName != expectedFnName {
			return nil, apperror.New(apperror.CodeNonDeterministicReplay, fmt.Sprintf(
				"unexpected oplog entry: expected imported function %q, got %q",
				expectedFnName, invoked.FunctionName,
			)).WithDetails("worker", e.worker.String())
		}

		if e.cursor > e.current {
			e.switchToLive()
		}
		return invoked, nil
	}
}

// applyJumpAndMarkers reads the next entry at the cursor, applying Jump,
// unclosed BeginAtomicRegion elision, ChangeRetryPolicy, and retriable
// Error handling as derived state before returning the next entry the
// caller should see. BeginRemoteWrite and the End markers are passed
// over without eliding anything. Returns (nil, nil) once the cursor
// passes current_index.
func (e *Engine) applyJumpAndMarkers(ctx context.Context) (oplog.Entry, error) {
	for e.cursor <= e.current {
		if region := e.regionStartingAt(e.cursor); region != nil {
			e.cursor = region.End + 1
			continue
		}

		entries, err := e.log.Read(ctx, e.cursor, 1)
		if err != nil {
			return nil, apperror.Transient(err, "replay: read next entry")
		}
		if len(entries) == 0 {
			return nil, nil
		}
		entry := entries[0]
		idx := e.cursor
		e.cursor++

		switch v := entry.(type) {
		case *oplog.Jump:
			e.elidedRegions = append(e.elidedRegions, v.Region)
			continue

		case *oplog.BeginAtomicRegion:
			if !e.hasMatchingEnd(ctx, idx) {
				// Elide through the end of the log: this region was
				// never closed, so replay must act as if it never
				// happened.
				e.elidedRegions = append(e.elidedRegions, oplog.Region{Start: idx, End: e.current})
				e.cursor = e.current + 1
				continue
			}
			continue

		case *oplog.BeginRemoteWrite:
			continue

		case *oplog.EndAtomicRegion, *oplog.EndRemoteWrite:
			continue

		case *oplog.ChangeRetryPolicy:
			e.retryPolicy = RetryPolicySnapshot{
				MaxAttempts:       v.MaxAttempts,
				InitialBackoffMs:  v.InitialBackoffMs,
				MaxBackoffMs:      v.MaxBackoffMs,
				BackoffMultiplier: v.BackoffMultiplier,
			}
			continue

		case *oplog.PendingUpdate, *oplog.SuccessfulUpdate, *oplog.FailedUpdate, *oplog.NoOp, *oplog.Restart:
			continue

		case *oplog.Error:
			if v.Retriable {
				e.retryPoint = &RetryPoint{BeginIndex: idx, Reason: v.Message}
			}
			continue

		default:
			return entry, nil
		}
	}
	return nil, nil
}

// hasMatchingEnd performs a bounded forward scan for the EndAtomicRegion
// closing the BeginAtomicRegion at beginIdx. It is only ever invoked
// during replay over an already-durable, finite oplog, so the scan
// terminates at current_index.
func (e *Engine) hasMatchingEnd(ctx context.Context, beginIdx oplog.OplogIndex) bool {
	entries, err := e.log.Read(ctx, beginIdx+1, int(e.current-beginIdx))
	if err != nil {
		logger.Log.Warn("replay: scan for matching EndAtomicRegion failed", "error", err)
		return false
	}
	for _, entry := range entries {
		if end, ok := entry.(*oplog.EndAtomicRegion); ok && end.BeginIndex == beginIdx {
			return true
		}
	}
	return false
}

// regionStartingAt reports an elided region whose Start equals idx, if
// any, so the cursor can skip it in one jump.
func (e *Engine) regionStartingAt(idx oplog.OplogIndex) *oplog.Region {
	for i := range e.elidedRegions {
		if e.elidedRegions[i].Start == idx {
			return &e.elidedRegions[i]
		}
	}
	return nil
}

func (e *Engine) switchToLive() {
	if e.state != Live {
		logger.Log.Info("replay: switching to live", "worker", e.worker.String(), "cursor", e.cursor)
	}
	e.state = Live
}

// BeginSnapshot transitions the engine to Snapshotting, suppressing
// side effects exactly as Replaying does, for the duration of a full
// state snapshot.
func (e *Engine) BeginSnapshot() State {
	prev := e.state
	e.state = Snapshotting
	return prev
}

// EndSnapshot restores the state the engine had before BeginSnapshot.
func (e *Engine) EndSnapshot(prev State) {
	e.state = prev
}
