package context

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"
)

// Snapshot serializes the full arena plus the current stack into the
// bytes embedded in ExportedFunctionInvoked.InvocationContext (§3: "
// Context is serialized into the oplog on each exported-invocation
// start and on each RPC call-out."). The whole arena is serialized,
// not just the stack, so spans referenced only via Linked remain
// resolvable after a restore.
func Snapshot(c *InvocationContext) []byte {
	var buf bytes.Buffer

	writeInt32(&buf, int32(len(c.arena.spans)))
	for _, s := range c.arena.spans {
		writeUint64(&buf, uint64(s.Id))
		buf.Write(s.TraceId[:])
		buf.WriteByte(byte(s.Kind))
		writeInt32(&buf, int32(s.Parent))
		writeInt32(&buf, int32(s.Linked))
		writeInt64(&buf, s.StartTime.UnixNano())
		writeInt32(&buf, int32(len(s.Attributes)))
		keys := make([]string, 0, len(s.Attributes))
		for k := range s.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeString(&buf, k)
			writeString(&buf, s.Attributes[k])
		}
	}

	writeInt32(&buf, int32(len(c.stack)))
	for _, idx := range c.stack {
		writeInt32(&buf, int32(idx))
	}

	return buf.Bytes()
}

// Restore rebuilds an InvocationContext from bytes produced by
// Snapshot.
func Restore(data []byte) (*InvocationContext, error) {
	r := bytes.NewReader(data)

	spanCount, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("context: read span count: %w", err)
	}

	arena := &Arena{spans: make([]Span, 0, spanCount)}
	for i := int32(0); i < spanCount; i++ {
		var s Span

		id, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("context: read span id: %w", err)
		}
		s.Id = SpanId(id)

		if _, err := r.Read(s.TraceId[:]); err != nil {
			return nil, fmt.Errorf("context: read trace id: %w", err)
		}

		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("context: read kind: %w", err)
		}
		s.Kind = Kind(kind)

		parent, err := readInt32(r)
		if err != nil {
			return nil, fmt.Errorf("context: read parent: %w", err)
		}
		s.Parent = SpanIndex(parent)

		linked, err := readInt32(r)
		if err != nil {
			return nil, fmt.Errorf("context: read linked: %w", err)
		}
		s.Linked = SpanIndex(linked)

		nanos, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("context: read start time: %w", err)
		}
		s.StartTime = time.Unix(0, nanos).UTC()

		attrCount, err := readInt32(r)
		if err != nil {
			return nil, fmt.Errorf("context: read attribute count: %w", err)
		}
		if attrCount > 0 {
			s.Attributes = make(map[string]string, attrCount)
			for j := int32(0); j < attrCount; j++ {
				k, err := readString(r)
				if err != nil {
					return nil, fmt.Errorf("context: read attribute key: %w", err)
				}
				v, err := readString(r)
				if err != nil {
					return nil, fmt.Errorf("context: read attribute value: %w", err)
				}
				s.Attributes[k] = v
			}
		} else {
			s.Attributes = map[string]string{}
		}

		arena.spans = append(arena.spans, s)
	}

	stackLen, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("context: read stack length: %w", err)
	}
	stack := make([]SpanIndex, stackLen)
	for i := range stack {
		idx, err := readInt32(r)
		if err != nil {
			return nil, fmt.Errorf("context: read stack entry: %w", err)
		}
		stack[i] = SpanIndex(idx)
	}

	return &InvocationContext{arena: arena, stack: stack}, nil
}

func writeInt32(w *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.Write(b[:])
}

func readInt32(r *bytes.Reader) (int32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func writeInt64(w *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func writeUint64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeString(w *bytes.Buffer, s string) {
	writeInt32(w, int32(len(s)))
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readInt32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}
