package durablehost

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/golemcloud/golemrt/pkg/oplog"
)

// Now returns the current wall-clock time as a durable ReadLocal
// effect: on replay the previously recorded timestamp is returned
// unchanged, so the guest observes the same clock reading every time
// (§3 "clock (ReadLocal)").
func (w *Wrapper) Now(ctx context.Context) (time.Time, error) {
	response, err := w.Do(ctx, "clock::now", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		return encodeUnixNano(time.Now().UTC()), nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return decodeUnixNano(response), nil
}

// MonotonicNow returns a monotonic-ish tick count, recorded the same
// way as Now so replay never re-reads the real clock.
func (w *Wrapper) MonotonicNow(ctx context.Context) (uint64, error) {
	response, err := w.Do(ctx, "clock::monotonic_now", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
		return buf, nil
	})
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(response), nil
}

func encodeUnixNano(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeUnixNano(buf []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(buf))).UTC()
}
