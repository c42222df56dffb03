package oplog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Codec serializes and deserializes entries in the bit-exact layout
// required by §6: `u32 length · u8 tag · payload`, fixed-width
// integers, length-prefixed strings. There is no global codec registry
// (redesign note 5): Open accepts a Codec, NewPostgresStorage builds its
// own with NewCodec, and MemoryStorage keeps entries unencoded.
type Codec struct{}

// NewCodec returns the standard entry codec.
func NewCodec() *Codec { return &Codec{} }

// Encode serializes an entry to its length-prefixed wire form.
func (c *Codec) Encode(e Entry) ([]byte, error) {
	var payload bytes.Buffer
	if err := writeTime(&payload, EntryTimestamp(e)); err != nil {
		return nil, err
	}

	switch v := e.(type) {
	case *Create:
		writeUint64(&payload, v.ComponentVersion)
		writeStringSlice(&payload, v.Args)
		writeStringMap(&payload, v.Env)
		writeString(&payload, v.AccountId)
		writeBool(&payload, v.Parent != nil)
		if v.Parent != nil {
			writeUUID(&payload, v.Parent.ComponentId)
			writeString(&payload, v.Parent.WorkerName)
		}
		writeInt64(&payload, v.ComponentSize)
		writeInt64(&payload, v.InitialLinearMemorySize)

	case *ImportedFunctionInvoked:
		writeString(&payload, v.FunctionName)
		writePayloadRef(&payload, v.Response)
		payload.WriteByte(byte(v.DurabilityKind))

	case *ExportedFunctionInvoked:
		writeString(&payload, v.FunctionName)
		writePayloadRef(&payload, v.Request)
		writeString(&payload, string(v.IdempotencyKey))
		writeBytes(&payload, v.InvocationContext)

	case *ExportedFunctionCompleted:
		writePayloadRef(&payload, v.Response)
		writeInt64(&payload, v.ConsumedFuel)
		writeBool(&payload, v.Failed)
		writeString(&payload, v.FailureReason)

	case *Suspend, *Interrupted, *Exited, *NoOp, *BeginAtomicRegion, *BeginRemoteWrite, *Restart:
		// timestamp-only variants

	case *Error:
		writeString(&payload, v.Message)
		writeString(&payload, v.Code)
		writeBool(&payload, v.Retriable)

	case *Jump:
		writeUint64(&payload, uint64(v.Region.Start))
		writeUint64(&payload, uint64(v.Region.End))

	case *ChangeRetryPolicy:
		writeInt32(&payload, v.MaxAttempts)
		writeInt64(&payload, v.InitialBackoffMs)
		writeInt64(&payload, v.MaxBackoffMs)
		writeFloat64(&payload, v.BackoffMultiplier)

	case *EndAtomicRegion:
		writeUint64(&payload, uint64(v.BeginIndex))

	case *EndRemoteWrite:
		writeUint64(&payload, uint64(v.BeginIndex))

	case *PendingWorkerInvocation:
		writeString(&payload, v.FunctionName)
		writePayloadRef(&payload, v.Request)
		writeString(&payload, string(v.IdempotencyKey))

	case *PendingUpdate:
		writeUint64(&payload, v.TargetVersion)
		writeBool(&payload, v.UpdateSnapshot)

	case *SuccessfulUpdate:
		writeUint64(&payload, v.TargetVersion)

	case *FailedUpdate:
		writeUint64(&payload, v.TargetVersion)
		writeString(&payload, v.Reason)

	case *GrowMemory:
		writeInt64(&payload, v.Delta)

	case *CreateResource:
		writeUint64(&payload, uint64(v.ResourceId))

	case *DropResource:
		writeUint64(&payload, uint64(v.ResourceId))

	case *DescribeResource:
		writeUint64(&payload, uint64(v.ResourceId))
		writeString(&payload, v.Description)

	case *Log:
		payload.WriteByte(byte(v.Level))
		writeString(&payload, v.Context)
		writeString(&payload, v.Message)

	default:
		return nil, fmt.Errorf("oplog: unknown entry type %T", e)
	}

	out := make([]byte, 0, 5+payload.Len())
	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(1+payload.Len()))
	out = append(out, lengthBuf...)
	out = append(out, byte(e.Tag()))
	out = append(out, payload.Bytes()...)
	return out, nil
}

// Decode deserializes a single length-prefixed entry, returning the
// entry and the number of bytes consumed from buf.
func (c *Codec) Decode(buf []byte) (Entry, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("oplog: truncated length prefix")
	}
	length := binary.BigEndian.Uint32(buf[:4])
	total := 4 + int(length)
	if len(buf) < total {
		return nil, 0, fmt.Errorf("oplog: truncated entry, want %d bytes have %d", total, len(buf))
	}
	if length < 1 {
		return nil, 0, fmt.Errorf("oplog: entry with zero-length payload (missing tag)")
	}

	tag := Tag(buf[4])
	r := bytes.NewReader(buf[5:total])

	ts, err := readTime(r)
	if err != nil {
		return nil, 0, err
	}

	e, err := decodeBody(tag, ts, r)
	if err != nil {
		return nil, 0, fmt.Errorf("oplog: decode tag %d: %w", tag, err)
	}
	return e, total, nil
}

func decodeBody(tag Tag, ts time.Time, r *bytes.Reader) (Entry, error) {
	switch tag {
	case TagCreate:
		v := &Create{Timestamp: ts}
		v.ComponentVersion = readUint64(r)
		v.Args = readStringSlice(r)
		v.Env = readStringMap(r)
		v.AccountId = readString(r)
		if readBool(r) {
			id := readUUID(r)
			name := readString(r)
			v.Parent = &WorkerId{ComponentId: id, WorkerName: name}
		}
		v.ComponentSize = readInt64(r)
		v.InitialLinearMemorySize = readInt64(r)
		return v, nil

	case TagImportedFunctionInvoked:
		v := &ImportedFunctionInvoked{Timestamp: ts}
		v.FunctionName = readString(r)
		v.Response = readPayloadRef(r)
		kind, _ := r.ReadByte()
		v.DurabilityKind = DurabilityKind(kind)
		return v, nil

	case TagExportedFunctionInvoked:
		v := &ExportedFunctionInvoked{Timestamp: ts}
		v.FunctionName = readString(r)
		v.Request = readPayloadRef(r)
		v.IdempotencyKey = IdempotencyKey(readString(r))
		v.InvocationContext = readBytes(r)
		return v, nil

	case TagExportedFunctionCompleted:
		v := &ExportedFunctionCompleted{Timestamp: ts}
		v.Response = readPayloadRef(r)
		v.ConsumedFuel = readInt64(r)
		v.Failed = readBool(r)
		v.FailureReason = readString(r)
		return v, nil

	case TagSuspend:
		return &Suspend{Timestamp: ts}, nil
	case TagInterrupted:
		return &Interrupted{Timestamp: ts}, nil
	case TagExited:
		return &Exited{Timestamp: ts}, nil
	case TagNoOp:
		return &NoOp{Timestamp: ts}, nil
	case TagBeginAtomicRegion:
		return &BeginAtomicRegion{Timestamp: ts}, nil
	case TagBeginRemoteWrite:
		return &BeginRemoteWrite{Timestamp: ts}, nil
	case TagRestart:
		return &Restart{Timestamp: ts}, nil

	case TagError:
		v := &Error{Timestamp: ts}
		v.Message = readString(r)
		v.Code = readString(r)
		v.Retriable = readBool(r)
		return v, nil

	case TagJump:
		v := &Jump{Timestamp: ts}
		v.Region.Start = OplogIndex(readUint64(r))
		v.Region.End = OplogIndex(readUint64(r))
		return v, nil

	case TagChangeRetryPolicy:
		v := &ChangeRetryPolicy{Timestamp: ts}
		v.MaxAttempts = readInt32(r)
		v.InitialBackoffMs = readInt64(r)
		v.MaxBackoffMs = readInt64(r)
		v.BackoffMultiplier = readFloat64(r)
		return v, nil

	case TagEndAtomicRegion:
		v := &EndAtomicRegion{Timestamp: ts}
		v.BeginIndex = OplogIndex(readUint64(r))
		return v, nil

	case TagEndRemoteWrite:
		v := &EndRemoteWrite{Timestamp: ts}
		v.BeginIndex = OplogIndex(readUint64(r))
		return v, nil

	case TagPendingWorkerInvocation:
		v := &PendingWorkerInvocation{Timestamp: ts}
		v.FunctionName = readString(r)
		v.Request = readPayloadRef(r)
		v.IdempotencyKey = IdempotencyKey(readString(r))
		return v, nil

	case TagPendingUpdate:
		v := &PendingUpdate{Timestamp: ts}
		v.TargetVersion = readUint64(r)
		v.UpdateSnapshot = readBool(r)
		return v, nil

	case TagSuccessfulUpdate:
		v := &SuccessfulUpdate{Timestamp: ts}
		v.TargetVersion = readUint64(r)
		return v, nil

	case TagFailedUpdate:
		v := &FailedUpdate{Timestamp: ts}
		v.TargetVersion = readUint64(r)
		v.Reason = readString(r)
		return v, nil

	case TagGrowMemory:
		v := &GrowMemory{Timestamp: ts}
		v.Delta = readInt64(r)
		return v, nil

	case TagCreateResource:
		v := &CreateResource{Timestamp: ts}
		v.ResourceId = ResourceId(readUint64(r))
		return v, nil

	case TagDropResource:
		v := &DropResource{Timestamp: ts}
		v.ResourceId = ResourceId(readUint64(r))
		return v, nil

	case TagDescribeResource:
		v := &DescribeResource{Timestamp: ts}
		v.ResourceId = ResourceId(readUint64(r))
		v.Description = readString(r)
		return v, nil

	case TagLog:
		v := &Log{Timestamp: ts}
		level, _ := r.ReadByte()
		v.Level = LogLevel(level)
		v.Context = readString(r)
		v.Message = readString(r)
		return v, nil

	default:
		return nil, fmt.Errorf("unknown tag %d", tag)
	}
}

// --- primitive encode/decode helpers ---

func writeTime(w *bytes.Buffer, t time.Time) error {
	writeInt64(w, t.UnixNano())
	return nil
}

func readTime(r *bytes.Reader) (time.Time, error) {
	nanos := readInt64(r)
	return time.Unix(0, nanos).UTC(), nil
}

func writeUint64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func readUint64(r *bytes.Reader) uint64 {
	var b [8]byte
	r.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func writeInt64(w *bytes.Buffer, v int64) { writeUint64(w, uint64(v)) }
func readInt64(r *bytes.Reader) int64     { return int64(readUint64(r)) }

func writeInt32(w *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.Write(b[:])
}

func readInt32(r *bytes.Reader) int32 {
	var b [4]byte
	r.Read(b[:])
	return int32(binary.BigEndian.Uint32(b[:]))
}

func writeFloat64(w *bytes.Buffer, v float64) {
	writeUint64(w, mathFloat64bits(v))
}

func readFloat64(r *bytes.Reader) float64 {
	return mathFloat64frombits(readUint64(r))
}

func writeBool(w *bytes.Buffer, v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) bool {
	b, _ := r.ReadByte()
	return b != 0
}

func writeString(w *bytes.Buffer, s string) {
	writeBytes(w, []byte(s))
}

func readString(r *bytes.Reader) string {
	return string(readBytes(r))
}

func writeBytes(w *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.Write(lenBuf[:])
	w.Write(b)
}

func readBytes(r *bytes.Reader) []byte {
	var lenBuf [4]byte
	r.Read(lenBuf[:])
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	r.Read(b)
	return b
}

func writeStringSlice(w *bytes.Buffer, s []string) {
	writeInt32(w, int32(len(s)))
	for _, v := range s {
		writeString(w, v)
	}
}

func readStringSlice(r *bytes.Reader) []string {
	n := readInt32(r)
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = readString(r)
	}
	return out
}

func writeStringMap(w *bytes.Buffer, m map[string]string) {
	writeInt32(w, int32(len(m)))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(w, k)
		writeString(w, m[k])
	}
}

func readStringMap(r *bytes.Reader) map[string]string {
	n := readInt32(r)
	if n <= 0 {
		return nil
	}
	out := make(map[string]string, n)
	for i := int32(0); i < n; i++ {
		k := readString(r)
		v := readString(r)
		out[k] = v
	}
	return out
}

func writeUUID(w *bytes.Buffer, id uuid.UUID) {
	w.Write(id[:])
}

func readUUID(r *bytes.Reader) uuid.UUID {
	var b [16]byte
	r.Read(b[:])
	id, _ := uuid.FromBytes(b[:])
	return id
}

func writePayloadRef(w *bytes.Buffer, p PayloadRef) {
	writeUUID(w, p.BlobId)
	writeInt64(w, p.Size)
	writeString(w, p.Hash)
}

func readPayloadRef(r *bytes.Reader) PayloadRef {
	return PayloadRef{
		BlobId: readUUID(r),
		Size:   readInt64(r),
		Hash:   readString(r),
	}
}
