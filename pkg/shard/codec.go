package shard

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodecName is registered as a grpc encoding.Codec so Transport can
// call executors without a generated protobuf service: grpc moves the
// request bytes as Client built them and does not re-encode them.
// Client sends Invoke and Schedule requests as JSON envelopes, not
// binary frames, and Drop/CancelSchedule as the bare token or id bytes.
const rawCodecName = "raw-bytes"

func init() {
	encoding.RegisterCodec(rawBytesCodec{})
}

// rawBytesCodec marshals/unmarshals *[]byte as-is. v must be a *[]byte
// on both sides of the call.
type rawBytesCodec struct{}

func (rawBytesCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("shard: rawBytesCodec.Marshal: expected *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawBytesCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("shard: rawBytesCodec.Unmarshal: expected *[]byte, got %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawBytesCodec) Name() string { return rawCodecName }
