package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/durablehost"
	"github.com/golemcloud/golemrt/pkg/logger"
	"github.com/golemcloud/golemrt/pkg/metrics"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// Resolver asks the shard manager which executor currently owns
// worker. Client calls it on a routing-table miss; tests substitute a
// fake so routing logic can be exercised without a live shard manager.
type Resolver interface {
	Resolve(ctx context.Context, worker oplog.WorkerId) (ExecutorAddr, error)
}

// Config configures a Client.
type Config struct {
	Self         oplog.WorkerId
	SecretKey    []byte
	Issuer       string
	DialTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client implements durablehost.RemoteCaller and durablehost.Scheduler
// against real executors, resolving WorkerId -> ExecutorAddr through a
// routing table cache backed by a Resolver, and issuing JWT demand
// tokens that prove a call was authorized (§5).
type Client struct {
	self      oplog.WorkerId
	resolver  Resolver
	routing   *RoutingTable
	transport Transport
	tokens    *tokenIssuer
}

var (
	_ durablehost.RemoteCaller = (*Client)(nil)
	_ durablehost.Scheduler    = (*Client)(nil)
)

// New builds a Client. transport is typically a *GRPCTransport; tests
// may substitute an in-memory fake.
func New(cfg Config, resolver Resolver, transport Transport) *Client {
	return &Client{
		self:      cfg.Self,
		resolver:  resolver,
		routing:   NewRoutingTable(),
		transport: transport,
		tokens:    newTokenIssuer(cfg.SecretKey, cfg.Issuer),
	}
}

// Routing exposes the routing table so a shard-manager invalidation
// subscriber can call Invalidate/Set on it directly.
func (c *Client) Routing() *RoutingTable { return c.routing }

func (c *Client) addrFor(ctx context.Context, target oplog.WorkerId) (ExecutorAddr, error) {
	if addr, ok := c.routing.Lookup(target); ok {
		return addr, nil
	}
	addr, err := c.resolver.Resolve(ctx, target)
	if err != nil {
		return "", apperror.Transient(err, "shard: resolve executor for worker")
	}
	c.routing.Set(target, addr)
	logRoutingMiss(target, addr)
	return addr, nil
}

// Demand acquires a demand token authorizing calls to target (the
// RemoteCaller seam durablehost.NewConnection depends on). Routing
// happens here too, rather than only at Invoke time, so a caller that
// only ever opens a connection and never calls still gets a routing
// error immediately instead of silently.
func (c *Client) Demand(ctx context.Context, target oplog.WorkerId) (durablehost.DemandToken, error) {
	if err := rejectSelfRoute(c.self, target); err != nil {
		return "", err
	}
	if _, err := c.addrFor(ctx, target); err != nil {
		return "", err
	}
	return c.tokens.issue(target)
}

type invokeEnvelope struct {
	FunctionName   string               `json:"function_name"`
	IdempotencyKey oplog.IdempotencyKey `json:"idempotency_key"`
	Request        []byte               `json:"request"`
}

// Invoke performs a blocking remote call: resolve target's executor,
// frame the request, send it, and return the raw response.
func (c *Client) Invoke(ctx context.Context, target oplog.WorkerId, functionName string, idempotencyKey oplog.IdempotencyKey, request []byte) ([]byte, error) {
	start := time.Now()
	m := metrics.Get()
	m.InFlightShardRPCs.Start("Invoke")
	defer m.InFlightShardRPCs.End("Invoke")

	if err := rejectSelfRoute(c.self, target); err != nil {
		return nil, err
	}
	addr, err := c.addrFor(ctx, target)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(invokeEnvelope{FunctionName: functionName, IdempotencyKey: idempotencyKey, Request: request})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFatal, "shard: encode invoke envelope")
	}

	response, err := c.transport.Send(ctx, addr, "/golem.worker.v1.WorkerExecutor/Invoke", payload)
	if err != nil {
		// A stale routing entry is the common cause of an unreachable
		// executor; invalidate so the next call re-resolves.
		c.routing.Invalidate(target)
		m.RecordRPCCall("Invoke", "error", time.Since(start))
		return nil, apperror.Transient(err, fmt.Sprintf("shard: invoke %s on worker %s", functionName, target.String()))
	}
	m.RecordRPCCall("Invoke", "ok", time.Since(start))
	return response, nil
}

// Drop issues a remote <resource>.drop invocation.
func (c *Client) Drop(ctx context.Context, target oplog.WorkerId, token durablehost.DemandToken) error {
	if err := rejectSelfRoute(c.self, target); err != nil {
		return err
	}
	addr, err := c.addrFor(ctx, target)
	if err != nil {
		return err
	}
	_, err = c.transport.Send(ctx, addr, "/golem.worker.v1.WorkerExecutor/Drop", []byte(token))
	if err != nil {
		return apperror.Transient(err, "shard: drop remote resource")
	}
	return nil
}

type scheduleEnvelope struct {
	FunctionName string    `json:"function_name"`
	At           time.Time `json:"at"`
	Request      []byte    `json:"request"`
}

// Schedule records a future invocation with target's executor.
func (c *Client) Schedule(ctx context.Context, target oplog.WorkerId, functionName string, at time.Time, request []byte) (durablehost.ScheduleID, error) {
	if err := rejectSelfRoute(c.self, target); err != nil {
		return "", err
	}
	addr, err := c.addrFor(ctx, target)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(scheduleEnvelope{FunctionName: functionName, At: at, Request: request})
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeFatal, "shard: encode schedule envelope")
	}

	response, err := c.transport.Send(ctx, addr, "/golem.worker.v1.WorkerExecutor/Schedule", payload)
	if err != nil {
		return "", apperror.Transient(err, "shard: schedule invocation")
	}
	return durablehost.ScheduleID(response), nil
}

// Cancel cancels a not-yet-fired scheduled invocation. id alone does
// not carry an executor address, so cancellation goes through the
// shard manager's fixed address instead of the routing table; callers
// supply that address via Resolver.Resolve with the zero WorkerId.
func (c *Client) Cancel(ctx context.Context, id durablehost.ScheduleID) error {
	addr, err := c.resolver.Resolve(ctx, oplog.WorkerId{})
	if err != nil {
		return apperror.Transient(err, "shard: resolve scheduler address")
	}
	_, err = c.transport.Send(ctx, addr, "/golem.worker.v1.WorkerExecutor/CancelSchedule", []byte(id))
	if err != nil {
		return apperror.Transient(err, "shard: cancel scheduled invocation")
	}
	return nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// rejectSelfRoute is the routing-level counterpart of durablehost's
// rejectSelfRPC: it stops a self-call before a routing lookup or
// network round trip is spent discovering what the durability wrapper
// would have rejected anyway.
func rejectSelfRoute(self, target oplog.WorkerId) error {
	if self.Equal(target) {
		return apperror.New(apperror.CodeInvalidRequest, "shard: a worker may not route an rpc call to itself")
	}
	return nil
}

func logRoutingMiss(worker oplog.WorkerId, addr ExecutorAddr) {
	logger.Log.Debug("shard: resolved executor", "worker", worker.String(), "executor", string(addr))
}
