package context

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// InvocationContext is the current span stack for one in-flight
// invocation (§3, §4.5). StartSpan/StartChildSpan/FinishSpan/
// SetAttribute mutate the stack directly and are not individually
// recorded in the oplog; the stack is snapshotted into the oplog only
// when it is stamped onto a causally relevant entry, e.g.
// ExportedFunctionInvoked.
type InvocationContext struct {
	arena *Arena
	stack []SpanIndex
}

// New creates an invocation context with a fresh, empty arena.
func New() *InvocationContext {
	return &InvocationContext{arena: NewArena()}
}

// Arena exposes the backing arena, needed by the codec and by callers
// wanting to resolve spans outside the current stack (e.g. linked
// contexts recorded on earlier entries).
func (c *InvocationContext) Arena() *Arena {
	return c.arena
}

// Current returns the top of the span stack, or NoSpan if empty.
func (c *InvocationContext) Current() SpanIndex {
	if len(c.stack) == 0 {
		return NoSpan
	}
	return c.stack[len(c.stack)-1]
}

// StartSpan pushes a new root span (no parent) with a fresh trace id
// and span id, used for a top-level exported-function invocation.
func (c *InvocationContext) StartSpan() SpanIndex {
	idx := c.arena.alloc(Span{
		Id:         newSpanID(),
		TraceId:    newTraceID(),
		Kind:       Local,
		Parent:     NoSpan,
		Linked:     NoSpan,
		StartTime:  time.Now().UTC(),
		Attributes: map[string]string{},
	})
	c.stack = append(c.stack, idx)
	return idx
}

// StartChildSpan pushes a child of the current top-of-stack span,
// inheriting its trace id. Calling it with an empty stack behaves like
// StartSpan.
func (c *InvocationContext) StartChildSpan() SpanIndex {
	parent := c.Current()
	traceID := newTraceID()
	if p, ok := c.arena.Get(parent); ok {
		traceID = p.TraceId
	}

	idx := c.arena.alloc(Span{
		Id:         newSpanID(),
		TraceId:    traceID,
		Kind:       Local,
		Parent:     parent,
		Linked:     NoSpan,
		StartTime:  time.Now().UTC(),
		Attributes: map[string]string{},
	})
	c.stack = append(c.stack, idx)
	return idx
}

// AdoptExternalParent pushes a span that references an upstream trace
// the worker does not own, used when an inbound RPC carries a caller's
// trace context.
func (c *InvocationContext) AdoptExternalParent(traceID TraceId, spanID SpanId) SpanIndex {
	idx := c.arena.alloc(Span{
		Id:         spanID,
		TraceId:    traceID,
		Kind:       ExternalParent,
		Parent:     NoSpan,
		Linked:     NoSpan,
		StartTime:  time.Now().UTC(),
		Attributes: map[string]string{},
	})
	c.stack = append(c.stack, idx)
	return idx
}

// LinkSpan records idx as the linked context of the current top span,
// used for RPC call-outs that should be attributable to both the
// caller's and callee's traces.
func (c *InvocationContext) LinkSpan(idx SpanIndex) {
	if span, ok := c.arena.Get(c.Current()); ok {
		span.Linked = idx
	}
}

// FinishSpan pops the current top of the stack. It is a no-op on an
// empty stack.
func (c *InvocationContext) FinishSpan() {
	if len(c.stack) == 0 {
		return
	}
	c.stack = c.stack[:len(c.stack)-1]
}

// SetAttribute sets key on the current top-of-stack span.
func (c *InvocationContext) SetAttribute(key, value string) {
	span, ok := c.arena.Get(c.Current())
	if !ok {
		return
	}
	if span.Attributes == nil {
		span.Attributes = map[string]string{}
	}
	span.Attributes[key] = value
}

// Attribute resolves key starting at idx, walking the parent chain. A
// span's linked context is followed only when that span has no parent;
// the linked context of a span that has a parent is not searched.
func (c *InvocationContext) Attribute(idx SpanIndex, key string) (string, bool) {
	seen := map[SpanIndex]bool{}
	for idx != NoSpan && !seen[idx] {
		seen[idx] = true
		span, ok := c.arena.Get(idx)
		if !ok {
			return "", false
		}
		if v, ok := span.Attributes[key]; ok {
			return v, true
		}
		if span.Parent != NoSpan {
			idx = span.Parent
			continue
		}
		if span.Linked != NoSpan {
			idx = span.Linked
			continue
		}
		return "", false
	}
	return "", false
}

// AttributeChain collects key's value from idx and every ancestor that
// defines it, nearest first (§3: "attribute chain lookup collects
// values from all ancestors").
func (c *InvocationContext) AttributeChain(idx SpanIndex, key string) []string {
	var out []string
	seen := map[SpanIndex]bool{}
	for idx != NoSpan && !seen[idx] {
		seen[idx] = true
		span, ok := c.arena.Get(idx)
		if !ok {
			break
		}
		if v, ok := span.Attributes[key]; ok {
			out = append(out, v)
		}
		next := span.Parent
		if next == NoSpan {
			next = span.Linked
		}
		idx = next
	}
	return out
}

// CloneAsInheritedStack returns a new InvocationContext sharing this
// context's arena but with an independent copy of the stack, used when
// a host call needs to fork a sub-invocation that must not observe
// later mutations of the caller's stack.
func (c *InvocationContext) CloneAsInheritedStack() *InvocationContext {
	stack := make([]SpanIndex, len(c.stack))
	copy(stack, c.stack)
	return &InvocationContext{arena: c.arena, stack: stack}
}

func newSpanID() SpanId {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return SpanId(binary.BigEndian.Uint64(b[:]))
}

func newTraceID() TraceId {
	var t TraceId
	_, _ = rand.Read(t[:])
	return t
}
