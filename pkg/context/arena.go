// Package context implements the per-worker invocation context: a tree
// of tracing spans stamped onto causally relevant oplog entries (§3,
// §4.5). Spans live in a flat arena and are referenced by index rather
// than by pointer, avoiding the cyclic parent/child ownership the
// source representation uses (redesign note, §9) and keeping
// serialization a matter of walking a slice instead of chasing
// pointers.
package context

import "time"

// SpanIndex references a Span within an Arena. NoSpan means "no span".
type SpanIndex int32

// NoSpan is the sentinel for "absent" parent/linked/current references.
const NoSpan SpanIndex = -1

// Kind distinguishes a span this worker owns from an opaque reference
// into an upstream trace.
type Kind uint8

const (
	Local Kind = iota
	ExternalParent
)

// TraceId is a 128-bit trace identifier.
type TraceId [16]byte

// SpanId is a 64-bit span identifier, unique within a TraceId.
type SpanId uint64

// Span is one node of the invocation-context tree (§3).
type Span struct {
	Id         SpanId
	TraceId    TraceId
	Kind       Kind
	Parent     SpanIndex
	Linked     SpanIndex // optional linked context, NoSpan if absent
	StartTime  time.Time
	Attributes map[string]string
}

// Arena owns every Span allocated for one worker. Arenas are never
// shared across workers; InvocationContext.CloneAsInheritedStack shares
// the same Arena intentionally, since the clone still belongs to the
// same worker's invocation.
type Arena struct {
	spans []Span
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// alloc appends span and returns its index.
func (a *Arena) alloc(span Span) SpanIndex {
	a.spans = append(a.spans, span)
	return SpanIndex(len(a.spans) - 1)
}

// Get returns the span at idx. The second return value is false for
// NoSpan or an out-of-range index.
func (a *Arena) Get(idx SpanIndex) (*Span, bool) {
	if idx == NoSpan || int(idx) < 0 || int(idx) >= len(a.spans) {
		return nil, false
	}
	return &a.spans[idx], true
}

// Len reports how many spans the arena has allocated.
func (a *Arena) Len() int {
	return len(a.spans)
}
