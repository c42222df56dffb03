package durablehost

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/golemcloud/golemrt/pkg/oplog"
)

type futureCaller struct {
	respondAfter int
	calls        int
}

func (f *futureCaller) Demand(ctx context.Context, target oplog.WorkerId) (DemandToken, error) {
	return "token", nil
}

func (f *futureCaller) Invoke(ctx context.Context, target oplog.WorkerId, functionName string, key oplog.IdempotencyKey, request []byte) ([]byte, error) {
	f.calls++
	if f.calls < f.respondAfter {
		return nil, nil
	}
	return []byte("done"), nil
}

func (f *futureCaller) Drop(ctx context.Context, target oplog.WorkerId, token DemandToken) error {
	return nil
}

func TestFutureInvokeResult_PendingThenCompleted(t *testing.T) {
	w, _, _ := newTestWrapper(t)
	self := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "self"}
	conn := &Connection{Target: oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}}
	caller := &futureCaller{respondAfter: 3}

	future, err := w.AsyncInvokeAndAwait(context.Background(), self, conn, caller, "process", "k", []byte("req"))
	if err != nil {
		t.Fatalf("AsyncInvokeAndAwait: %v", err)
	}
	if future.State() != Deferred {
		t.Fatalf("initial state = %v, want Deferred", future.State())
	}

	for i := 0; i < 2; i++ {
		_, done, err := future.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if done {
			t.Fatalf("Get should report not-done before the %d-th call", caller.respondAfter)
		}
		if future.State() != Pending {
			t.Errorf("state after a not-ready poll = %v, want Pending", future.State())
		}
	}

	result, done, err := future.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !done {
		t.Fatalf("expected the future to complete on the 3rd poll")
	}
	if string(result) != "done" {
		t.Errorf("result = %q, want done", result)
	}
	if future.State() != Consumed {
		t.Errorf("state after consuming = %v, want Consumed", future.State())
	}
}

func TestFutureInvokeResult_GetAfterConsumedReturnsSameResult(t *testing.T) {
	w, _, _ := newTestWrapper(t)
	self := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "self"}
	conn := &Connection{Target: oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}}
	caller := &futureCaller{respondAfter: 1}

	future, err := w.AsyncInvokeAndAwait(context.Background(), self, conn, caller, "process", "k", []byte("req"))
	if err != nil {
		t.Fatalf("AsyncInvokeAndAwait: %v", err)
	}

	first, _, _ := future.Get(context.Background())
	second, done, err := future.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !done {
		t.Fatalf("repeated Get after completion should report done")
	}
	if string(first) != string(second) {
		t.Errorf("repeated Get returned different results: %q vs %q", first, second)
	}
}

type schedulerStub struct {
	scheduleCalls int
	cancelCalls   int
	id            ScheduleID
}

func (s *schedulerStub) Schedule(ctx context.Context, target oplog.WorkerId, functionName string, at time.Time, request []byte) (ScheduleID, error) {
	s.scheduleCalls++
	s.id = "sched-1"
	return s.id, nil
}

func (s *schedulerStub) Cancel(ctx context.Context, id ScheduleID) error {
	s.cancelCalls++
	return nil
}

func TestScheduleInvocationAndCancel(t *testing.T) {
	w, _, _ := newTestWrapper(t)
	scheduler := &schedulerStub{}
	target := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}

	token, err := w.ScheduleInvocation(context.Background(), scheduler, target, "f", time.Now().Add(time.Hour), []byte("req"))
	if err != nil {
		t.Fatalf("ScheduleInvocation: %v", err)
	}
	if scheduler.scheduleCalls != 1 {
		t.Errorf("Schedule called %d times, want 1", scheduler.scheduleCalls)
	}

	if err := token.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if scheduler.cancelCalls != 1 {
		t.Errorf("Cancel called %d times, want 1", scheduler.cancelCalls)
	}

	// Cancelling again is a no-op.
	if err := token.Cancel(context.Background()); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if scheduler.cancelCalls != 1 {
		t.Errorf("second Cancel should not call the scheduler again, got %d total calls", scheduler.cancelCalls)
	}
}
