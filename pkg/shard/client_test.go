package shard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/golemcloud/golemrt/pkg/oplog"
)

type fakeResolver struct {
	addr        ExecutorAddr
	resolveErr  error
	resolveCall int
}

func (r *fakeResolver) Resolve(ctx context.Context, worker oplog.WorkerId) (ExecutorAddr, error) {
	r.resolveCall++
	if r.resolveErr != nil {
		return "", r.resolveErr
	}
	return r.addr, nil
}

type fakeTransport struct {
	calls   []string
	reply   []byte
	sendErr error
}

func (t *fakeTransport) Send(ctx context.Context, addr ExecutorAddr, method string, request []byte) ([]byte, error) {
	t.calls = append(t.calls, method)
	if t.sendErr != nil {
		return nil, t.sendErr
	}
	return t.reply, nil
}

func (t *fakeTransport) Close() error { return nil }

func newTestClient(t *testing.T, resolver *fakeResolver, transport *fakeTransport) *Client {
	t.Helper()
	self := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "self"}
	return New(Config{Self: self, SecretKey: []byte("test-secret"), Issuer: "golemrt-shard"}, resolver, transport)
}

func TestClient_DemandIssuesVerifiableToken(t *testing.T) {
	target := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}
	c := newTestClient(t, &fakeResolver{addr: "executor-1:9090"}, &fakeTransport{})

	token, err := c.Demand(context.Background(), target)
	if err != nil {
		t.Fatalf("Demand: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a non-empty demand token")
	}
	if err := c.tokens.verify(token, target); err != nil {
		t.Errorf("issued token failed verification: %v", err)
	}
	other := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "other"}
	if err := c.tokens.verify(token, other); err == nil {
		t.Errorf("a token for target should not verify against a different worker")
	}
}

func TestClient_DemandResolvesAndCachesRoute(t *testing.T) {
	target := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}
	resolver := &fakeResolver{addr: "executor-1:9090"}
	c := newTestClient(t, resolver, &fakeTransport{})

	if _, err := c.Demand(context.Background(), target); err != nil {
		t.Fatalf("Demand: %v", err)
	}
	if _, err := c.Demand(context.Background(), target); err != nil {
		t.Fatalf("Demand: %v", err)
	}
	if resolver.resolveCall != 1 {
		t.Errorf("Resolve called %d times, want 1 (second Demand should hit the routing cache)", resolver.resolveCall)
	}
}

func TestClient_RejectsSelfRoute(t *testing.T) {
	c := newTestClient(t, &fakeResolver{}, &fakeTransport{})
	if _, err := c.Demand(context.Background(), c.self); err == nil {
		t.Fatalf("expected a self-route to be rejected")
	}
}

func TestClient_InvokeSendsEnvelopeAndReturnsResponse(t *testing.T) {
	target := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}
	transport := &fakeTransport{reply: []byte("response")}
	c := newTestClient(t, &fakeResolver{addr: "executor-1:9090"}, transport)

	resp, err := c.Invoke(context.Background(), target, "process", "key-1", []byte("req"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(resp) != "response" {
		t.Errorf("response = %q, want response", resp)
	}
	if len(transport.calls) != 1 || transport.calls[0] != "/golem.worker.v1.WorkerExecutor/Invoke" {
		t.Errorf("unexpected transport calls: %v", transport.calls)
	}
}

func TestClient_InvokeFailureInvalidatesRoute(t *testing.T) {
	target := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}
	resolver := &fakeResolver{addr: "executor-1:9090"}
	transport := &fakeTransport{sendErr: errUnavailable{}}
	c := newTestClient(t, resolver, transport)

	if _, err := c.Invoke(context.Background(), target, "process", "key-1", []byte("req")); err == nil {
		t.Fatalf("expected Invoke to surface the transport error")
	}
	if _, ok := c.routing.Lookup(target); ok {
		t.Errorf("a failed invoke should invalidate the routing entry")
	}
}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "unavailable" }

func TestClient_ScheduleAndCancel(t *testing.T) {
	target := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "target"}
	transport := &fakeTransport{reply: []byte("sched-1")}
	c := newTestClient(t, &fakeResolver{addr: "executor-1:9090"}, transport)

	id, err := c.Schedule(context.Background(), target, "f", time.Now().Add(time.Hour), []byte("req"))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if string(id) != "sched-1" {
		t.Errorf("id = %q, want sched-1", id)
	}

	if err := c.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}
