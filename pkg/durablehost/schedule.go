package durablehost

import (
	"context"
	"time"

	"github.com/golemcloud/golemrt/pkg/oplog"
)

// Scheduler records a future invocation with the scheduling service and
// can cancel one that has not yet fired. The shard/RPC layer (C6)
// implements it against the scheduler it talks to; durablehost only
// needs this narrow surface.
type Scheduler interface {
	Schedule(ctx context.Context, target oplog.WorkerId, functionName string, at time.Time, request []byte) (ScheduleID, error)
	Cancel(ctx context.Context, id ScheduleID) error
}

// ScheduleID identifies a scheduled invocation with the scheduler.
type ScheduleID string

// CancellationToken is the resource handle returned by a cancelable
// schedule-invocation call. Cancel is itself durable: it is wrapped in
// the same record/replay shell as any other remote effect.
type CancellationToken struct {
	w         *Wrapper
	scheduler Scheduler
	id        ScheduleID
	cancelled bool
}

// ScheduleInvocation records a ScheduledInvocation through the
// scheduler and returns a CancellationToken.
func (w *Wrapper) ScheduleInvocation(ctx context.Context, scheduler Scheduler, target oplog.WorkerId, functionName string, at time.Time, request []byte) (*CancellationToken, error) {
	response, err := w.Do(ctx, "scheduler::schedule_invocation", Options{Kind: oplog.WriteRemote, NonIdempotentRemote: true}, func(ctx context.Context) ([]byte, error) {
		id, err := scheduler.Schedule(ctx, target, functionName, at, request)
		if err != nil {
			return nil, err
		}
		return []byte(id), nil
	})
	if err != nil {
		return nil, err
	}

	return &CancellationToken{w: w, scheduler: scheduler, id: ScheduleID(response)}, nil
}

// Cancel cancels the scheduled invocation if it has not yet fired.
// Calling Cancel twice is a no-op on the second call.
func (t *CancellationToken) Cancel(ctx context.Context) error {
	if t.cancelled {
		return nil
	}
	_, err := t.w.Do(ctx, "scheduler::cancel", Options{Kind: oplog.WriteRemote, NonIdempotentRemote: true}, func(ctx context.Context) ([]byte, error) {
		if err := t.scheduler.Cancel(ctx, t.id); err != nil {
			return nil, err
		}
		return []byte{}, nil
	})
	if err != nil {
		return err
	}
	t.cancelled = true
	return nil
}
