// Package durablehost implements the record/replay shell every
// nondeterministic host function is wrapped in (§4.3): on live
// execution it performs the real effect and appends the result to the
// oplog, and on replay it returns the previously recorded result
// without touching the outside world.
package durablehost

import (
	"context"
	"fmt"
	"time"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/logger"
	"github.com/golemcloud/golemrt/pkg/oplog"
	"github.com/golemcloud/golemrt/pkg/replay"
)

// Effect performs a host function's real, nondeterministic side effect
// and returns the bytes to record as its response.
type Effect func(ctx context.Context) ([]byte, error)

// Wrapper binds a worker's oplog handle and replay engine, the two
// pieces of state every durability-wrapped host call needs.
type Wrapper struct {
	log    *oplog.Oplog
	engine *replay.Engine
}

// New creates a durability wrapper for one worker.
func New(log *oplog.Oplog, engine *replay.Engine) *Wrapper {
	return &Wrapper{log: log, engine: engine}
}

// Options configures a single durable call (§4.3).
type Options struct {
	// Kind selects the durability class: ReadLocal, WriteLocal,
	// ReadRemote, or WriteRemote.
	Kind oplog.DurabilityKind
	// NonIdempotentRemote brackets the call with BeginRemoteWrite /
	// EndRemoteWrite so replay can tell a write was in flight across a
	// crash. Only meaningful for WriteRemote.
	NonIdempotentRemote bool
	// Atomic brackets the call with BeginAtomicRegion / EndAtomicRegion
	// so a crash mid-call elides the whole region on replay instead of
	// replaying a half-completed operation.
	Atomic bool
}

// Do executes one durability-wrapped host call. On live execution it
// runs effect, appends an ImportedFunctionInvoked entry recording the
// response, and returns the response bytes. On replay it returns the
// previously recorded response without invoking effect, failing with a
// CodeNonDeterministicReplay error if the recorded entry's function
// name disagrees with functionName.
func (w *Wrapper) Do(ctx context.Context, functionName string, opts Options, effect Effect) ([]byte, error) {
	begin, err := w.log.CurrentIndex(ctx)
	if err != nil {
		return nil, apperror.Transient(err, "durablehost: read current index")
	}
	begin++

	if !w.engine.IsLive() {
		response, replayed, err := w.replayResponse(ctx, functionName)
		if err != nil {
			return nil, err
		}
		if replayed {
			return response, nil
		}
		// Replay ran out of entries mid-call; the engine has already
		// switched itself to live, so fall through to live execution.
	}

	return w.liveExecute(ctx, functionName, begin, opts, effect)
}

func (w *Wrapper) replayResponse(ctx context.Context, functionName string) (response []byte, replayed bool, err error) {
	entry, err := w.engine.NextImportedFunctionResponse(ctx, functionName)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}
	data, err := w.log.DownloadPayload(ctx, entry.Response)
	if err != nil {
		return nil, false, apperror.New(apperror.CodeOplogCorruption, fmt.Sprintf(
			"durablehost: failed to resolve recorded response for %q: %v", functionName, err,
		))
	}
	return data, true, nil
}

func (w *Wrapper) liveExecute(ctx context.Context, functionName string, begin oplog.OplogIndex, opts Options, effect Effect) ([]byte, error) {
	if opts.Kind == oplog.WriteRemote && opts.NonIdempotentRemote {
		if _, err := w.log.Append(ctx, &oplog.BeginRemoteWrite{Timestamp: time.Now().UTC()}); err != nil {
			return nil, apperror.Transient(err, "durablehost: append BeginRemoteWrite")
		}
	}
	if opts.Atomic {
		if _, err := w.log.Append(ctx, &oplog.BeginAtomicRegion{Timestamp: time.Now().UTC()}); err != nil {
			return nil, apperror.Transient(err, "durablehost: append BeginAtomicRegion")
		}
	}

	response, effectErr := effect(ctx)

	if effectErr != nil {
		retriable := apperror.IsRetriable(effectErr)
		if _, err := w.log.Append(ctx, &oplog.Error{
			Timestamp: time.Now().UTC(),
			WorkerError: oplog.WorkerError{
				Message:   effectErr.Error(),
				Code:      string(apperror.CodeOf(effectErr)),
				Retriable: retriable,
			},
		}); err != nil {
			logger.Log.Warn("durablehost: failed to append Error entry", "error", err, "function", functionName)
		}
		return nil, effectErr
	}

	ref, err := w.log.UploadPayload(ctx, response)
	if err != nil {
		return nil, apperror.Transient(err, "durablehost: upload response payload")
	}
	if _, err := w.log.Append(ctx, &oplog.ImportedFunctionInvoked{
		Timestamp:      time.Now().UTC(),
		FunctionName:   functionName,
		Response:       ref,
		DurabilityKind: opts.Kind,
	}); err != nil {
		return nil, apperror.Transient(err, "durablehost: append ImportedFunctionInvoked")
	}

	if opts.Kind == oplog.WriteRemote && opts.NonIdempotentRemote {
		if _, err := w.log.Append(ctx, &oplog.EndRemoteWrite{Timestamp: time.Now().UTC(), BeginIndex: begin}); err != nil {
			return nil, apperror.Transient(err, "durablehost: append EndRemoteWrite")
		}
	}
	if opts.Atomic {
		if _, err := w.log.Append(ctx, &oplog.EndAtomicRegion{Timestamp: time.Now().UTC(), BeginIndex: begin}); err != nil {
			return nil, apperror.Transient(err, "durablehost: append EndAtomicRegion")
		}
	}

	return response, nil
}
