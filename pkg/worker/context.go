// Package worker implements the worker context and its lifecycle
// (§4.4): the struct that owns everything a host wrapper needs —
// oplog handle, replay cursor, span stack, resource table, current
// idempotency key — and drives a worker through
// Activate/Replay/Run/Suspend/Fail.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/golemcloud/golemrt/pkg/apperror"
	invctx "github.com/golemcloud/golemrt/pkg/context"
	"github.com/golemcloud/golemrt/pkg/durablehost"
	"github.com/golemcloud/golemrt/pkg/invocation"
	"github.com/golemcloud/golemrt/pkg/logger"
	"github.com/golemcloud/golemrt/pkg/metrics"
	"github.com/golemcloud/golemrt/pkg/oplog"
	"github.com/golemcloud/golemrt/pkg/replay"
)

// ExecutionStatus is the worker's current activity, independent of the
// coarser WorkerStatus derived from the oplog (§4.4).
type ExecutionStatus int

const (
	// Running means the guest module is actively executing.
	Running ExecutionStatus = iota
	// Suspending means a suspend-triggering host call is in flight and
	// the worker will deactivate once it returns.
	Suspending
	// Interrupting means an external interrupt has been delivered and
	// the worker is unwinding to a safe suspension point.
	Interrupting
	// AwaitingInput means the worker has drained its queue and is
	// blocked on Dequeue.
	AwaitingInput
)

func (s ExecutionStatus) String() string {
	switch s {
	case Running:
		return "running"
	case Suspending:
		return "suspending"
	case Interrupting:
		return "interrupting"
	case AwaitingInput:
		return "awaiting-input"
	default:
		return "unknown"
	}
}

// Status is the coarse lifecycle state derived from the last relevant
// oplog entry plus liveness (§3: WorkerStatus).
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusSuspended
	StatusInterrupted
	StatusRetrying
	StatusFailed
	StatusExited
)

func (s Status) String() string {
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

// Activator instantiates a guest module for a component version and
// runs its exported function. The wasm engine itself is out of scope
// (§5 Non-goals); Context only needs something satisfying this seam to
// drive its lifecycle, so tests can supply a fake.
type Activator interface {
	// Instantiate loads component at version and returns an invoker
	// bound to that instance. Called once per Activate.
	Instantiate(ctx context.Context, worker oplog.WorkerId, componentVersion uint64) (Invoker, error)
}

// Invoker runs one exported function call against an already
// instantiated guest module.
type Invoker interface {
	Invoke(ctx context.Context, functionName string, request []byte) (response []byte, err error)
}

// Context holds all state the host wrappers need for one active
// worker (§4.4): oplog handle, replay cursor, context stack, resource
// table, current idempotency key, current span id, retry state,
// execution-status flag, and a snapshotting flag.
type Context struct {
	ID     oplog.WorkerId
	Log    *oplog.Oplog
	Engine *replay.Engine
	Host   *durablehost.Wrapper
	Queue  *invocation.Queue

	Resources *durablehost.ResourceTable
	Spans     *invctx.InvocationContext

	componentVersion uint64
	activator        Activator
	invoker          Invoker

	currentKey   oplog.IdempotencyKey
	currentSpan  invctx.SpanIndex
	execStatus   ExecutionStatus
	status       Status
	snapshotting bool
}

// New wires together the durable-runtime components (C1–C4) into a
// single worker context. The caller supplies the oplog storage and an
// Activator capable of instantiating the guest module; everything else
// (replay engine, durability wrapper, invocation queue, resource
// table, span arena) is constructed fresh.
func New(id oplog.WorkerId, storage oplog.Storage, activator Activator) *Context {
	log := oplog.Open(id, storage, nil)
	engine := replay.New(id, log)
	return &Context{
		ID:         id,
		Log:        log,
		Engine:     engine,
		Host:       durablehost.New(log, engine),
		Queue:      invocation.New(id, log),
		Resources:  durablehost.NewResourceTable(),
		Spans:      invctx.New(),
		activator:  activator,
		execStatus: AwaitingInput,
		status:     StatusIdle,
	}
}

// Activate resolves the component version, instantiates the wasm
// module, and enters Replaying (§4.4 step 1). It is triggered by an
// incoming invocation or a scheduled wake, never called twice without
// an intervening Suspend/Fail.
func (c *Context) Activate(ctx context.Context, componentVersion uint64) error {
	start := time.Now()
	if err := c.Queue.Rebuild(ctx); err != nil {
		return err
	}
	if err := c.Engine.Start(ctx); err != nil {
		metrics.Get().RecordWorkerActivation(c.ID.ComponentId.String(), "failed", 0, 0)
		return apperror.Wrap(err, apperror.CodeFatal, "worker: start replay engine")
	}

	invoker, err := c.activator.Instantiate(ctx, c.ID, componentVersion)
	if err != nil {
		metrics.Get().RecordWorkerActivation(c.ID.ComponentId.String(), "failed", 0, 0)
		return apperror.Wrap(err, apperror.CodeFatal, "worker: instantiate component")
	}
	c.invoker = invoker
	c.componentVersion = componentVersion
	c.status = StatusRunning
	c.execStatus = Running

	// Start leaves the cursor at the first entry, so the number of
	// entries to replay is the log length when the engine is Replaying.
	replayed := 0
	if !c.Engine.IsLive() {
		if current, err := c.Log.CurrentIndex(ctx); err == nil {
			replayed = int(current)
		}
	}
	outcome := "fresh"
	if replayed > 0 {
		outcome = "replayed"
	}
	metrics.Get().RecordWorkerActivation(c.ID.ComponentId.String(), outcome, time.Since(start), replayed)
	metrics.Get().ActiveWorkers.Inc()

	logger.WithWorker(c.ID.String()).Info("worker activated", "component_version", componentVersion, "replay_state", c.Engine.State().String())
	return nil
}

// Replay feeds recorded effects to the guest until the oplog is
// exhausted (§4.4 step 2). If Activate left an ExportedFunctionInvoked
// entry with no matching ExportedFunctionCompleted — the worker was
// interrupted mid-invocation before the previous activation ended — the
// same function is re-invoked through the Invoker seam; any host call
// it makes along the way is expected to go through Host (the
// durability wrapper), which answers it from the oplog via Engine
// instead of touching the outside world. Instantiating and driving an
// actual wasm module is out of scope (§5 Non-goals); Invoker
// implementations are responsible for routing their host imports
// through Host so Engine's cursor advances correctly. If there is
// nothing unfinished, Replay is a no-op.
func (c *Context) Replay(ctx context.Context) error {
	if c.Engine.IsLive() {
		return nil
	}

	pending, err := c.unfinishedInvocation(ctx)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}

	request, err := c.Log.DownloadPayload(ctx, pending.Request)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeOplogCorruption, "worker: download replayed request payload")
	}

	response, invokeErr := c.invoker.Invoke(ctx, pending.FunctionName, request)
	if invokeErr != nil {
		if apperror.IsFatal(invokeErr) {
			return c.failLocked(ctx, invokeErr)
		}
		return invokeErr
	}

	completed := &oplog.ExportedFunctionCompleted{Timestamp: time.Now().UTC()}
	ref, err := c.Log.UploadPayload(ctx, response)
	if err != nil {
		return apperror.Transient(err, "worker: store replayed response payload")
	}
	completed.Response = ref
	if _, err := c.Log.Append(ctx, completed); err != nil {
		return apperror.Transient(err, "worker: append ExportedFunctionCompleted")
	}
	c.Queue.Complete(pending.IdempotencyKey, invocation.Result{Response: response})
	return nil
}

// unfinishedInvocation scans the oplog for the last ExportedFunctionInvoked
// entry with no subsequent ExportedFunctionCompleted.
func (c *Context) unfinishedInvocation(ctx context.Context) (*oplog.ExportedFunctionInvoked, error) {
	current, err := c.Log.CurrentIndex(ctx)
	if err != nil {
		return nil, apperror.Transient(err, "worker: read current index")
	}
	if current == oplog.NoIndex {
		return nil, nil
	}

	entries, err := c.Log.Read(ctx, 1, int(current))
	if err != nil {
		return nil, apperror.Transient(err, "worker: read oplog for replay")
	}

	var pending *oplog.ExportedFunctionInvoked
	for _, e := range entries {
		switch v := e.(type) {
		case *oplog.ExportedFunctionInvoked:
			pending = v
		case *oplog.ExportedFunctionCompleted:
			pending = nil
		}
	}
	return pending, nil
}

// Run dequeues the next invocation and executes it to completion,
// recording ExportedFunctionInvoked/ExportedFunctionCompleted (§4.4
// step 3). It blocks until an invocation is available or ctx is done.
func (c *Context) Run(ctx context.Context) error {
	c.execStatus = AwaitingInput
	inv, err := c.Queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	c.execStatus = Running
	c.status = StatusRunning
	invokeStart := time.Now()

	requestRef, err := c.Log.UploadPayload(ctx, inv.Request)
	if err != nil {
		return apperror.Transient(err, "worker: store invocation request payload")
	}

	c.currentKey = inv.IdempotencyKey
	c.currentSpan = c.Spans.StartSpan()
	defer c.Spans.FinishSpan()

	if _, err := c.Log.Append(ctx, &oplog.ExportedFunctionInvoked{
		Timestamp:         time.Now().UTC(),
		FunctionName:      inv.FunctionName,
		Request:           requestRef,
		IdempotencyKey:    inv.IdempotencyKey,
		InvocationContext: invctx.Snapshot(c.Spans),
	}); err != nil {
		return apperror.Transient(err, "worker: append ExportedFunctionInvoked")
	}

	response, invokeErr := c.invoker.Invoke(ctx, inv.FunctionName, inv.Request)

	completed := &oplog.ExportedFunctionCompleted{Timestamp: time.Now().UTC()}
	var result invocation.Result
	if invokeErr != nil {
		completed.Failed = true
		completed.FailureReason = invokeErr.Error()
		result = invocation.Result{Failed: true, Reason: invokeErr.Error()}
	} else {
		ref, perr := c.Log.UploadPayload(ctx, response)
		if perr != nil {
			return apperror.Transient(perr, "worker: store invocation response payload")
		}
		completed.Response = ref
		result = invocation.Result{Response: response}
	}

	if _, err := c.Log.Append(ctx, completed); err != nil {
		return apperror.Transient(err, "worker: append ExportedFunctionCompleted")
	}
	c.Queue.Complete(inv.IdempotencyKey, result)

	status := "success"
	if invokeErr != nil {
		status = "failed"
	}
	metrics.Get().RecordInvocationCompleted(inv.FunctionName, status, time.Since(invokeStart))

	if invokeErr != nil && apperror.IsFatal(invokeErr) {
		return c.failLocked(ctx, invokeErr)
	}
	return nil
}

// Suspend is triggered by a suspend-triggering host call or an
// external interrupt: it appends Suspend, commits the oplog, and
// deactivates (§4.4 step 4).
func (c *Context) Suspend(ctx context.Context) error {
	c.execStatus = Suspending
	if _, err := c.Log.Append(ctx, &oplog.Suspend{Timestamp: time.Now().UTC()}); err != nil {
		return apperror.Transient(err, "worker: append Suspend")
	}
	if err := c.Log.Commit(ctx, oplog.DurableOnly); err != nil {
		return apperror.Transient(err, "worker: commit oplog before suspend")
	}
	c.status = StatusSuspended
	c.invoker = nil
	metrics.Get().ActiveWorkers.Dec()
	logger.WithWorker(c.ID.String()).Info("worker suspended")
	return nil
}

// Interrupt marks an external interrupt delivered to the worker. It
// does not itself deactivate the instance; the caller observes
// ExecutionStatus()==Interrupting and unwinds to a safe suspension
// point before calling Suspend.
func (c *Context) Interrupt(ctx context.Context) error {
	c.execStatus = Interrupting
	if _, err := c.Log.Append(ctx, &oplog.Interrupted{Timestamp: time.Now().UTC()}); err != nil {
		return apperror.Transient(err, "worker: append Interrupted")
	}
	c.status = StatusInterrupted
	return nil
}

// Fail is triggered on a non-retriable error: it appends Error then
// Exited and parks the worker in Failed (§4.4 step 5, §7 "Failed
// workers expose their Error entry via the read-only oplog API").
func (c *Context) Fail(ctx context.Context, cause error) error {
	return c.failLocked(ctx, cause)
}

func (c *Context) failLocked(ctx context.Context, cause error) error {
	werr := oplog.WorkerError{
		Message:   cause.Error(),
		Code:      string(apperror.CodeOf(cause)),
		Retriable: apperror.IsRetriable(cause),
	}
	if _, err := c.Log.Append(ctx, &oplog.Error{Timestamp: time.Now().UTC(), WorkerError: werr}); err != nil {
		return apperror.Transient(err, "worker: append Error")
	}
	if _, err := c.Log.Append(ctx, &oplog.Exited{Timestamp: time.Now().UTC()}); err != nil {
		return apperror.Transient(err, "worker: append Exited")
	}
	c.status = StatusFailed
	c.invoker = nil
	metrics.Get().ActiveWorkers.Dec()
	logger.WithWorker(c.ID.String()).Error("worker failed", "reason", cause.Error())
	return fmt.Errorf("worker %s failed: %w", c.ID.String(), cause)
}

// BeginSnapshot suppresses side effects for the duration of a full
// state snapshot and returns the replay state to restore afterward.
func (c *Context) BeginSnapshot() replay.State {
	c.snapshotting = true
	return c.Engine.BeginSnapshot()
}

// EndSnapshot restores prev as the engine's active state.
func (c *Context) EndSnapshot(prev replay.State) {
	c.snapshotting = false
	c.Engine.EndSnapshot(prev)
}

// ExecutionStatus reports the worker's current activity flag.
func (c *Context) ExecutionStatus() ExecutionStatus { return c.execStatus }

// Status reports the coarse lifecycle state.
func (c *Context) Status() Status { return c.status }

// CurrentIdempotencyKey is the key of the invocation currently
// executing, used as the parent key for any RPC the guest issues.
func (c *Context) CurrentIdempotencyKey() oplog.IdempotencyKey { return c.currentKey }

// CurrentSpan is the root span of the invocation currently executing.
func (c *Context) CurrentSpan() invctx.SpanIndex { return c.currentSpan }

// ComponentVersion reports the version instantiated by the last
// Activate call.
func (c *Context) ComponentVersion() uint64 { return c.componentVersion }
