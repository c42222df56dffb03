package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/invocation"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// fakeInvoker stands in for a wasm guest: it returns a canned response,
// optionally failing the N-th call (1-indexed), simulating a crash or
// a genuine invocation error.
type fakeInvoker struct {
	calls     int
	failAt    int
	failErr   error
	responses map[string][]byte
}

func (f *fakeInvoker) Invoke(ctx context.Context, functionName string, request []byte) ([]byte, error) {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return nil, f.failErr
	}
	if r, ok := f.responses[functionName]; ok {
		return r, nil
	}
	return []byte("ok:" + functionName), nil
}

type fakeActivator struct {
	invoker *fakeInvoker
}

func (a *fakeActivator) Instantiate(ctx context.Context, worker oplog.WorkerId, componentVersion uint64) (Invoker, error) {
	return a.invoker, nil
}

func newTestContext(t *testing.T, invoker *fakeInvoker) *Context {
	t.Helper()
	storage := oplog.NewMemoryStorage()
	worker := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "w1"}
	return New(worker, storage, &fakeActivator{invoker: invoker})
}

func TestContext_ActivateRunCompletesInvocation(t *testing.T) {
	invoker := &fakeInvoker{}
	c := newTestContext(t, invoker)
	ctx := context.Background()

	if err := c.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := c.Replay(ctx); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if _, _, err := c.Queue.Enqueue(ctx, fakeInvocation("f", "k1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := c.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if invoker.calls != 1 {
		t.Errorf("invoker called %d times, want 1", invoker.calls)
	}
	if c.Status() != StatusRunning {
		t.Errorf("Status() = %v, want Running", c.Status())
	}

	last, err := c.Log.CurrentIndex(ctx)
	if err != nil {
		t.Fatalf("CurrentIndex: %v", err)
	}
	entries, err := c.Log.Read(ctx, 1, int(last))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var sawInvoked, sawCompleted bool
	for _, e := range entries {
		switch e.(type) {
		case *oplog.ExportedFunctionInvoked:
			sawInvoked = true
		case *oplog.ExportedFunctionCompleted:
			sawCompleted = true
		}
	}
	if !sawInvoked || !sawCompleted {
		t.Errorf("expected both ExportedFunctionInvoked and ExportedFunctionCompleted, entries=%v", entries)
	}
}

func TestContext_SuspendAppendsSuspendAndCommits(t *testing.T) {
	c := newTestContext(t, &fakeInvoker{})
	ctx := context.Background()

	if err := c.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := c.Suspend(ctx); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if c.Status() != StatusSuspended {
		t.Errorf("Status() = %v, want Suspended", c.Status())
	}

	last, _ := c.Log.CurrentIndex(ctx)
	entries, err := c.Log.Read(ctx, 1, int(last))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(entries))
	}
	if _, ok := entries[0].(*oplog.Suspend); !ok {
		t.Errorf("entry = %T, want *oplog.Suspend", entries[0])
	}
}

func TestContext_FailAppendsErrorThenExited(t *testing.T) {
	c := newTestContext(t, &fakeInvoker{})
	ctx := context.Background()

	if err := c.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	cause := apperror.New(apperror.CodeFatal, "divergence detected")
	if err := c.Fail(ctx, cause); err == nil {
		t.Fatalf("expected Fail to return a wrapped error")
	}
	if c.Status() != StatusFailed {
		t.Errorf("Status() = %v, want Failed", c.Status())
	}

	last, _ := c.Log.CurrentIndex(ctx)
	entries, err := c.Log.Read(ctx, 1, int(last))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly 2 entries (Error, Exited), got %d", len(entries))
	}
	if _, ok := entries[0].(*oplog.Error); !ok {
		t.Errorf("entries[0] = %T, want *oplog.Error", entries[0])
	}
	if _, ok := entries[1].(*oplog.Exited); !ok {
		t.Errorf("entries[1] = %T, want *oplog.Exited", entries[1])
	}
}

func TestContext_RunFatalInvocationErrorFails(t *testing.T) {
	invoker := &fakeInvoker{failAt: 1, failErr: apperror.New(apperror.CodeNonDeterministicReplay, "divergent")}
	c := newTestContext(t, invoker)
	ctx := context.Background()

	if err := c.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, _, err := c.Queue.Enqueue(ctx, fakeInvocation("f", "k1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := c.Run(ctx); err == nil {
		t.Fatalf("expected Run to surface the fatal error")
	}
	if c.Status() != StatusFailed {
		t.Errorf("Status() = %v, want Failed", c.Status())
	}
}

func TestContext_ReplayReinvokesUnfinishedInvocation(t *testing.T) {
	storage := oplog.NewMemoryStorage()
	workerID := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "w1"}
	log := oplog.Open(workerID, storage, nil)
	ctx := context.Background()

	requestRef, err := log.UploadPayload(ctx, []byte("req"))
	if err != nil {
		t.Fatalf("UploadPayload: %v", err)
	}
	if _, err := log.Append(ctx, &oplog.ExportedFunctionInvoked{
		Timestamp:      time.Now().UTC(),
		FunctionName:   "f",
		Request:        requestRef,
		IdempotencyKey: "k1",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	invoker := &fakeInvoker{responses: map[string][]byte{"f": []byte("resumed")}}
	c := New(workerID, storage, &fakeActivator{invoker: invoker})
	if err := c.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := c.Replay(ctx); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if invoker.calls != 1 {
		t.Errorf("invoker called %d times during replay, want 1", invoker.calls)
	}

	last, err := log.CurrentIndex(ctx)
	if err != nil {
		t.Fatalf("CurrentIndex: %v", err)
	}
	entries, err := log.Read(ctx, 1, int(last))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var sawCompleted bool
	for _, e := range entries {
		if _, ok := e.(*oplog.ExportedFunctionCompleted); ok {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Errorf("expected Replay to append ExportedFunctionCompleted for the unfinished invocation")
	}
}

func TestContext_InterruptMarksExecutionStatus(t *testing.T) {
	c := newTestContext(t, &fakeInvoker{})
	ctx := context.Background()

	if err := c.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := c.Interrupt(ctx); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if c.ExecutionStatus() != Interrupting {
		t.Errorf("ExecutionStatus() = %v, want Interrupting", c.ExecutionStatus())
	}
	if c.Status() != StatusInterrupted {
		t.Errorf("Status() = %v, want Interrupted", c.Status())
	}
}

func fakeInvocation(fn string, key oplog.IdempotencyKey) invocation.Invocation {
	return invocation.Invocation{FunctionName: fn, IdempotencyKey: key, Request: []byte("req")}
}
