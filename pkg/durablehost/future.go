package durablehost

import (
	"context"
	"time"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// FutureInvokeResult backs an async invoke-and-await RPC call. Its
// state machine is Deferred → Pending → Completed → Consumed (§4.3).
// Every poll that observes Pending during live execution is recorded,
// so replay sees the identical sequence of polls. The begin index
// (the entry after the oplog's current index at creation) is used to
// derive the call's idempotency key and is stored, but it is not read
// afterwards: polls are not bracketed by an atomic region.
type FutureInvokeResult struct {
	w        *Wrapper
	caller   RemoteCaller
	conn     *Connection
	function string
	key      oplog.IdempotencyKey
	request  []byte

	state  FutureState
	result []byte
	begin  oplog.OplogIndex
}

// AsyncInvokeAndAwait starts an asynchronous remote call and returns a
// FutureInvokeResult resource in the Deferred state. Nothing is
// recorded until the first poll.
func (w *Wrapper) AsyncInvokeAndAwait(ctx context.Context, self oplog.WorkerId, conn *Connection, caller RemoteCaller, functionName string, parentKey oplog.IdempotencyKey, request []byte) (*FutureInvokeResult, error) {
	if err := rejectSelfRPC(self, conn.Target); err != nil {
		return nil, err
	}

	begin, err := w.log.CurrentIndex(ctx)
	if err != nil {
		return nil, apperror.Transient(err, "durablehost: read current index for async invoke")
	}

	return &FutureInvokeResult{
		w:        w,
		caller:   caller,
		conn:     conn,
		function: functionName,
		key:      oplog.Derive(parentKey, begin+1),
		request:  request,
		state:    Deferred,
		begin:    begin + 1,
	}, nil
}

// Subscribe returns a channel that closes once the future reaches
// Completed, mirroring the pollable the source wraps a future in.
func (f *FutureInvokeResult) Subscribe(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		defer close(ready)
		for {
			completed, err := f.poll(ctx)
			if err != nil || completed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()
	return ready
}

// Get returns (nil, false, nil) while the future is Pending, and the
// result once Completed. The Get that returns the result moves the
// future to Consumed; later calls return the same bytes, and it is not
// an error to call Get repeatedly.
func (f *FutureInvokeResult) Get(ctx context.Context) ([]byte, bool, error) {
	if f.state == Completed || f.state == Consumed {
		f.state = Consumed
		return f.result, true, nil
	}

	completed, err := f.poll(ctx)
	if err != nil {
		return nil, false, err
	}
	if !completed {
		return nil, false, nil
	}
	f.state = Consumed
	return f.result, true, nil
}

// poll performs one GolemRpcFutureInvokeResultGet observation: on
// replay it reads the next persisted Pending-or-terminal entry; live,
// every poll calls functionName on the target again with the same
// idempotency key and records the observation, Pending or terminal, so
// replay reproduces the same polling sequence (§4.3).
func (f *FutureInvokeResult) poll(ctx context.Context) (bool, error) {
	if f.state == Completed {
		return true, nil
	}

	response, err := f.w.Do(ctx, "rpc::future_invoke_result::get", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		result, callErr := f.caller.Invoke(ctx, f.conn.Target, f.function, f.key, f.request)
		if callErr != nil {
			return nil, callErr
		}
		return result, nil
	})
	if err != nil {
		return false, err
	}

	f.state = Pending
	if response != nil {
		f.state = Completed
		f.result = response
		return true, nil
	}
	return false, nil
}

// State reports the future's current lifecycle state.
func (f *FutureInvokeResult) State() FutureState { return f.state }
