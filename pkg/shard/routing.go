// Package shard implements the shard/RPC client (C6): resolving which
// executor owns a worker, demand-token issuance, and the transport
// that durablehost's RemoteCaller/Scheduler seams are built on.
package shard

import (
	"sync"
	"sync/atomic"

	"github.com/golemcloud/golemrt/pkg/oplog"
)

// ExecutorAddr is the dial address of the executor process currently
// assigned a worker (§5: shard/RPC client).
type ExecutorAddr string

// RoutingTable maps WorkerId to the executor assigned to it. Reads go
// through a single atomic.Pointer load and never block; the shard
// manager's push-based invalidations are comparatively rare, so
// writers pay for a full map copy under a narrow mutex rather than
// readers paying for a RWMutex on every lookup (§5 "RCU-style atomic
// pointer swap guarded by a narrow sync.RWMutex").
type RoutingTable struct {
	mu    sync.RWMutex
	table atomic.Pointer[map[oplog.WorkerId]ExecutorAddr]
}

// NewRoutingTable returns an empty table.
func NewRoutingTable() *RoutingTable {
	t := &RoutingTable{}
	empty := make(map[oplog.WorkerId]ExecutorAddr)
	t.table.Store(&empty)
	return t
}

// Lookup returns the executor currently assigned to worker, if known.
func (t *RoutingTable) Lookup(worker oplog.WorkerId) (ExecutorAddr, bool) {
	m := *t.table.Load()
	addr, ok := m[worker]
	return addr, ok
}

// Set records addr as the executor assigned to worker, copying the
// underlying map so any in-flight Lookup sees a consistent snapshot.
func (t *RoutingTable) Set(worker oplog.WorkerId, addr ExecutorAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := *t.table.Load()
	next := make(map[oplog.WorkerId]ExecutorAddr, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[worker] = addr
	t.table.Store(&next)
}

// Invalidate removes worker's routing entry, forcing the next lookup
// to re-resolve it through the Client's Resolver. Used by the shard manager's push-based
// invalidation subscription when a worker migrates or its executor is
// decommissioned.
func (t *RoutingTable) Invalidate(worker oplog.WorkerId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := *t.table.Load()
	if _, ok := old[worker]; !ok {
		return
	}
	next := make(map[oplog.WorkerId]ExecutorAddr, len(old))
	for k, v := range old {
		if k != worker {
			next[k] = v
		}
	}
	t.table.Store(&next)
}

// Len reports the number of routing entries currently cached.
func (t *RoutingTable) Len() int {
	return len(*t.table.Load())
}
