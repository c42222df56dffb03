package shard

import (
	"context"

	"github.com/golemcloud/golemrt/pkg/logger"
	"github.com/golemcloud/golemrt/pkg/metrics"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// Invalidation is one routing-cache invalidation event pushed by the
// shard manager: either a reassignment (Addr set) or a plain eviction
// (Addr empty, forcing the next lookup to re-resolve through the
// Resolver).
type Invalidation struct {
	Worker oplog.WorkerId
	Addr   ExecutorAddr
}

// InvalidationSource is a push-based stream of routing changes, e.g. a
// gRPC server-streaming RPC against the shard manager. Client.Subscribe
// applies each event to the routing table as it arrives.
type InvalidationSource interface {
	Recv(ctx context.Context) (Invalidation, error)
}

// Subscribe drains source until ctx is done or source.Recv returns a
// non-nil error, applying every invalidation to the client's routing
// table. It is meant to run for the lifetime of the process in its own
// goroutine.
func (c *Client) Subscribe(ctx context.Context, source InvalidationSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := source.Recv(ctx)
		if err != nil {
			return err
		}
		if event.Addr == "" {
			c.routing.Invalidate(event.Worker)
		} else {
			c.routing.Set(event.Worker, event.Addr)
		}
		metrics.Get().RecordShardAssignment(c.routing.Len())
		logger.Log.Debug("shard: applied routing invalidation", "worker", event.Worker.String(), "executor", string(event.Addr))
	}
}
