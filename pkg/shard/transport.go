package shard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/golemcloud/golemrt/pkg/client"
	"github.com/golemcloud/golemrt/pkg/telemetry"
)

// Transport sends an already-encoded request to an executor and
// returns its raw response. It is the seam Client depends on so tests
// can substitute an in-memory fake instead of dialing real gRPC.
type Transport interface {
	Send(ctx context.Context, addr ExecutorAddr, method string, request []byte) ([]byte, error)
	Close() error
}

// GRPCTransport dials one *grpc.ClientConn per distinct executor
// address and reuses it across calls, grounded on pkg/client.NewGRPCClient's
// retry/timeout dial options (§6: transport errors are retriable).
type GRPCTransport struct {
	mu    sync.Mutex
	conns map[ExecutorAddr]*grpc.ClientConn

	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
}

// NewGRPCTransport returns a transport that lazily dials executors on
// first use.
func NewGRPCTransport(timeout time.Duration, maxRetries int, retryBackoff time.Duration) *GRPCTransport {
	return &GRPCTransport{
		conns:        make(map[ExecutorAddr]*grpc.ClientConn),
		timeout:      timeout,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

func (t *GRPCTransport) connFor(ctx context.Context, addr ExecutorAddr) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[addr]; ok {
		return conn, nil
	}
	conn, err := client.NewGRPCClient(ctx, client.ClientConfig{
		Address:      string(addr),
		Timeout:      t.timeout,
		MaxRetries:   t.maxRetries,
		RetryBackoff: t.retryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("shard: dial executor %s: %w", addr, err)
	}
	t.conns[addr] = conn
	return conn, nil
}

// Send invokes method on addr's executor, passing the already-encoded
// request bytes unchanged and returning the raw response bytes.
func (t *GRPCTransport) Send(ctx context.Context, addr ExecutorAddr, method string, request []byte) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "shard.Transport.Send")
	defer span.End()

	conn, err := t.connFor(ctx, addr)
	if err != nil {
		return nil, err
	}

	req := request
	var resp []byte
	if err := conn.Invoke(ctx, method, &req, &resp, grpc.CallContentSubtype(rawCodecName)); err != nil {
		return nil, fmt.Errorf("shard: invoke %s on %s: %w", method, addr, err)
	}
	return resp, nil
}

// Close tears down every dialed connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for addr, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shard: close connection to %s: %w", addr, err)
		}
	}
	t.conns = make(map[ExecutorAddr]*grpc.ClientConn)
	return firstErr
}
