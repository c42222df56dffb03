package durablehost

import (
	"context"

	"github.com/golemcloud/golemrt/pkg/apperror"
	invctx "github.com/golemcloud/golemrt/pkg/context"
	"github.com/golemcloud/golemrt/pkg/logger"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// DemandToken authorizes calls to a specific remote worker, acquired
// from the shard service before an RPC connection is used.
type DemandToken string

// RemoteCaller is the transport C3's RPC substates are built on. The
// shard/RPC client (C6) implements it; durablehost only depends on this
// narrow interface so it can be tested without a real network.
type RemoteCaller interface {
	// Demand acquires a demand token authorizing calls to target.
	Demand(ctx context.Context, target oplog.WorkerId) (DemandToken, error)
	// Invoke performs a blocking remote call and returns the raw
	// response bytes.
	Invoke(ctx context.Context, target oplog.WorkerId, functionName string, idempotencyKey oplog.IdempotencyKey, request []byte) ([]byte, error)
	// Drop issues a remote <resource>.drop invocation.
	Drop(ctx context.Context, target oplog.WorkerId, token DemandToken) error
}

// Connection is the resource handle returned by connection
// construction (§4.3).
type Connection struct {
	Target oplog.WorkerId
	Token  DemandToken
	SpanID invctx.SpanIndex
}

// NewConnection resolves target, acquires a demand token, opens a
// connection span, and records the whole operation as a single
// ReadLocal effect (deterministic in the target id, so replay need
// not re-resolve anything).
func (w *Wrapper) NewConnection(ctx context.Context, self oplog.WorkerId, ictx *invctx.InvocationContext, caller RemoteCaller, target oplog.WorkerId) (*Connection, error) {
	if err := rejectSelfRPC(self, target); err != nil {
		return nil, err
	}

	response, err := w.Do(ctx, "rpc::new", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		t, err := caller.Demand(ctx, target)
		if err != nil {
			return nil, err
		}
		return []byte(t), nil
	})
	if err != nil {
		return nil, err
	}

	spanID := ictx.StartChildSpan()
	return &Connection{Target: target, Token: DemandToken(response), SpanID: spanID}, nil
}

// InvokeAndAwait performs a blocking remote call. The idempotency key
// is derived from parentKey and the begin index *before* the call is
// made, so replay recomputes the identical key (§4.3, testable
// property 5).
func (w *Wrapper) InvokeAndAwait(ctx context.Context, self oplog.WorkerId, conn *Connection, caller RemoteCaller, functionName string, parentKey oplog.IdempotencyKey, request []byte) ([]byte, error) {
	if err := rejectSelfRPC(self, conn.Target); err != nil {
		return nil, err
	}

	begin, err := w.log.CurrentIndex(ctx)
	if err != nil {
		return nil, apperror.Transient(err, "durablehost: read current index for idempotency key")
	}
	key := oplog.Derive(parentKey, begin+1)

	return w.Do(ctx, functionName, Options{Kind: oplog.WriteRemote, NonIdempotentRemote: true}, func(ctx context.Context) ([]byte, error) {
		return caller.Invoke(ctx, conn.Target, functionName, key, request)
	})
}

// FireAndForget issues the same remote call as InvokeAndAwait but does
// not wait for (or record) a result value beyond the unit response
// confirming the call was accepted.
func (w *Wrapper) FireAndForget(ctx context.Context, self oplog.WorkerId, conn *Connection, caller RemoteCaller, functionName string, parentKey oplog.IdempotencyKey, request []byte) error {
	if err := rejectSelfRPC(self, conn.Target); err != nil {
		return err
	}

	begin, err := w.log.CurrentIndex(ctx)
	if err != nil {
		return apperror.Transient(err, "durablehost: read current index for idempotency key")
	}
	key := oplog.Derive(parentKey, begin+1)

	_, err = w.Do(ctx, functionName, Options{Kind: oplog.WriteRemote, NonIdempotentRemote: true}, func(ctx context.Context) ([]byte, error) {
		if _, err := caller.Invoke(ctx, conn.Target, functionName, key, request); err != nil {
			return nil, err
		}
		return []byte{}, nil
	})
	return err
}

// DropResource releases a resource. If it is a WasmRpcTarget of kind
// KindResource, a remote drop is issued first; a plain connection is
// released locally with no remote call. A failed remote drop is logged
// at Warn and recorded as an Error entry rather than silently
// swallowed, since it leaves remote state the caller cannot otherwise
// observe.
func (w *Wrapper) DropResource(ctx context.Context, caller RemoteCaller, resource HostResource) error {
	target, ok := resource.(*WasmRpcTarget)
	if !ok || target.Kind != KindResource {
		return nil
	}

	_, err := w.Do(ctx, "rpc::drop", Options{Kind: oplog.WriteRemote, NonIdempotentRemote: true}, func(ctx context.Context) ([]byte, error) {
		if err := caller.Drop(ctx, target.RemoteWorker, target.DemandToken); err != nil {
			return nil, err
		}
		return []byte{}, nil
	})
	if err != nil {
		// Do has already appended an Error entry recording the failure
		// (§4.3); logging here surfaces it to operators without
		// swallowing it or double-recording it in the oplog.
		logger.Log.Warn("durablehost: remote drop failed", "worker", target.RemoteWorker.String(), "error", err)
	}
	return nil
}

func rejectSelfRPC(self, target oplog.WorkerId) error {
	if self.Equal(target) {
		return apperror.New(apperror.CodeInvalidRequest, "rpc: a worker may not invoke itself via rpc")
	}
	return nil
}
