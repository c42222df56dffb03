// Package invocation implements the per-worker invocation queue (§4.4):
// FIFO ordering into a single wasm instance plus idempotency
// deduplication against the oplog.
package invocation

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/metrics"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// Invocation is a single request to run an exported function.
type Invocation struct {
	FunctionName      string
	Request           []byte
	IdempotencyKey    oplog.IdempotencyKey
	InvocationContext []byte
	EnqueuedAt        time.Time
}

// Result is the outcome of a completed invocation, cached so a
// duplicate enqueue can be answered without re-running anything.
type Result struct {
	Response []byte
	Failed   bool
	Reason   string
}

// status tracks where a key sits relative to the queue and the oplog.
type status int

const (
	statusPending status = iota
	statusInFlight
	statusCompleted
)

type entry struct {
	invocation Invocation
	status     status
	result     Result
	listElem   *list.Element
}

// Queue serializes invocations to one worker's wasm instance and
// deduplicates by (worker_id, idempotency_key) (§4.4). The in-flight
// index is rebuilt from the oplog at construction time via Rebuild, not
// persisted separately, since the oplog is the only durable source of
// truth.
type Queue struct {
	worker oplog.WorkerId
	log    *oplog.Oplog

	mu      sync.Mutex
	order   *list.List // FIFO of *entry for not-yet-dequeued invocations
	byKey   map[oplog.IdempotencyKey]*entry
	waiters []chan struct{}
}

// New creates an empty queue for worker. Call Rebuild before serving
// traffic so completed/in-flight keys rebuilt from the oplog are not
// re-enqueued after a restart.
func New(worker oplog.WorkerId, log *oplog.Oplog) *Queue {
	return &Queue{
		worker: worker,
		log:    log,
		order:  list.New(),
		byKey:  make(map[oplog.IdempotencyKey]*entry),
	}
}

// Rebuild replays worker's oplog to repopulate the in-flight and
// completed index (§4.4: "rebuilt from the oplog on startup"). It does
// not re-enqueue anything into the FIFO order: any PendingWorkerInvocation
// without a matching ExportedFunctionCompleted is left marked in-flight
// so a duplicate Enqueue call is recognized, but actually resuming it is
// the worker supervisor's job, not the queue's.
func (q *Queue) Rebuild(ctx context.Context) error {
	current, err := q.log.CurrentIndex(ctx)
	if err != nil {
		return apperror.Transient(err, "invocation: read current index")
	}
	if current == oplog.NoIndex {
		return nil
	}

	entries, err := q.log.Read(ctx, 1, int(current))
	if err == oplog.ErrWorkerNotFound {
		return nil
	}
	if err != nil {
		return apperror.Transient(err, "invocation: rebuild queue from oplog")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var lastOpened oplog.IdempotencyKey
	for _, e := range entries {
		switch v := e.(type) {
		case *oplog.PendingWorkerInvocation:
			q.byKey[v.IdempotencyKey] = &entry{
				invocation: Invocation{
					FunctionName:   v.FunctionName,
					IdempotencyKey: v.IdempotencyKey,
				},
				status: statusInFlight,
			}
		case *oplog.ExportedFunctionInvoked:
			lastOpened = v.IdempotencyKey
			if existing, ok := q.byKey[v.IdempotencyKey]; ok {
				existing.status = statusInFlight
			} else {
				q.byKey[v.IdempotencyKey] = &entry{
					invocation: Invocation{FunctionName: v.FunctionName, IdempotencyKey: v.IdempotencyKey},
					status:     statusInFlight,
				}
			}
		case *oplog.ExportedFunctionCompleted:
			// Completed entries are paired with the most recently opened
			// in-flight invocation; the oplog does not embed the key on
			// the completion entry itself, so the queue tracks "last
			// opened, not yet completed" as it scans forward.
			k := lastOpened
			if open, ok := q.byKey[k]; !ok || open.status != statusInFlight {
				k = q.lastInFlightKeyLocked()
			}
			if k != "" {
				q.byKey[k].status = statusCompleted
				q.byKey[k].result = Result{Response: nil, Failed: v.Failed, Reason: v.FailureReason}
				if !v.Failed {
					if data, err := q.log.DownloadPayload(ctx, v.Response); err == nil {
						q.byKey[k].result.Response = data
					}
				}
			}
		}
	}
	return nil
}

func (q *Queue) lastInFlightKeyLocked() oplog.IdempotencyKey {
	var latest oplog.IdempotencyKey
	for k, e := range q.byKey {
		if e.status == statusInFlight {
			latest = k
		}
	}
	return latest
}

// Enqueue appends a PendingWorkerInvocation to the oplog and admits the
// invocation to the FIFO, unless a matching key is already in flight or
// completed. If completed, the cached result is returned synchronously
// without re-invoking (§4.4).
func (q *Queue) Enqueue(ctx context.Context, inv Invocation) (*Result, bool, error) {
	q.mu.Lock()
	if existing, ok := q.byKey[inv.IdempotencyKey]; ok {
		defer q.mu.Unlock()
		metrics.Get().RecordInvocationEnqueued("deduplicated")
		if existing.status == statusCompleted {
			result := existing.result
			return &result, true, nil
		}
		// Already pending or in flight: the duplicate is dropped, not
		// an error, since retried callers commonly race the original.
		return nil, false, nil
	}
	q.mu.Unlock()

	if inv.EnqueuedAt.IsZero() {
		inv.EnqueuedAt = time.Now().UTC()
	}

	if _, err := q.log.Append(ctx, &oplog.PendingWorkerInvocation{
		Timestamp:      inv.EnqueuedAt,
		FunctionName:   inv.FunctionName,
		IdempotencyKey: inv.IdempotencyKey,
	}); err != nil {
		return nil, false, apperror.Transient(err, "invocation: append PendingWorkerInvocation")
	}

	q.mu.Lock()
	e := &entry{invocation: inv, status: statusPending}
	e.listElem = q.order.PushBack(e)
	q.byKey[inv.IdempotencyKey] = e
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	metrics.Get().RecordInvocationEnqueued("new")
	metrics.Get().SetInvocationQueueDepth(q.worker.ComponentId.String(), q.Len())

	return nil, false, nil
}

// Dequeue returns the next pending invocation in FIFO order, blocking
// until one is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Invocation, error) {
	for {
		q.mu.Lock()
		if front := q.order.Front(); front != nil {
			e := front.Value.(*entry)
			q.order.Remove(front)
			e.status = statusInFlight
			inv := e.invocation
			depth := q.order.Len()
			q.mu.Unlock()
			metrics.Get().SetInvocationQueueDepth(q.worker.ComponentId.String(), depth)
			return &inv, nil
		}
		wait := make(chan struct{})
		q.waiters = append(q.waiters, wait)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Cancel removes a not-yet-started invocation. It returns false if no
// pending invocation with key exists (it may already be in flight or
// completed, which Cancel does not affect).
func (q *Queue) Cancel(key oplog.IdempotencyKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byKey[key]
	if !ok || e.status != statusPending {
		return false
	}
	q.order.Remove(e.listElem)
	delete(q.byKey, key)
	return true
}

// Complete records the result of an invocation previously returned by
// Dequeue, so a future duplicate Enqueue call can be answered from
// cache.
func (q *Queue) Complete(key oplog.IdempotencyKey, result Result) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byKey[key]
	if !ok {
		e = &entry{invocation: Invocation{IdempotencyKey: key}}
		q.byKey[key] = e
	}
	e.status = statusCompleted
	e.result = result
}

// Len reports the number of invocations still waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}
