package durablehost

import (
	invctx "github.com/golemcloud/golemrt/pkg/context"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// ResourceKind distinguishes the RPC-connection resources a worker can
// hold (§3: "Resource table").
type ResourceKind uint8

const (
	// KindConnection is a plain RPC connection, never remote-dropped.
	KindConnection ResourceKind = iota
	// KindResource is a remote wasm resource handle; dropping it issues
	// a remote <resource>.drop invocation (§4.3).
	KindResource
)

// WasmRpcTarget is a resource referring to a remote worker reached
// through an RPC connection.
type WasmRpcTarget struct {
	RemoteWorker oplog.WorkerId
	DemandToken  DemandToken
	SpanID       invctx.SpanIndex
	Kind         ResourceKind
}

// FutureState is the lifecycle of an async invoke-and-await result
// (§4.3).
type FutureState int

const (
	Deferred FutureState = iota
	Pending
	Completed
	Consumed
)

func (s FutureState) String() string {
	switch s {
	case Deferred:
		return "deferred"
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Consumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// RpcFutureResult is the resource-table entry backing a
// FutureInvokeResult handle.
type RpcFutureResult struct {
	State  FutureState
	Result []byte
}

// HostResource is any value the resource table can hold for a guest
// resource handle.
type HostResource interface {
	isHostResource()
}

func (*WasmRpcTarget) isHostResource()   {}
func (*RpcFutureResult) isHostResource() {}

// ResourceTable maps a worker's local ResourceIds to host-side
// resources (§3).
type ResourceTable struct {
	entries map[oplog.ResourceId]HostResource
	next    oplog.ResourceId
}

// NewResourceTable returns an empty table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{entries: make(map[oplog.ResourceId]HostResource), next: 1}
}

// Insert allocates a fresh ResourceId for resource.
func (t *ResourceTable) Insert(resource HostResource) oplog.ResourceId {
	id := t.next
	t.next++
	t.entries[id] = resource
	return id
}

// Get retrieves the resource behind id.
func (t *ResourceTable) Get(id oplog.ResourceId) (HostResource, bool) {
	r, ok := t.entries[id]
	return r, ok
}

// Delete removes id from the table, returning the resource it held.
func (t *ResourceTable) Delete(id oplog.ResourceId) (HostResource, bool) {
	r, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return r, ok
}
