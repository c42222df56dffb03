package durablehost

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/golemcloud/golemrt/pkg/oplog"
)

// RandomBytes returns n cryptographically random bytes as a durable
// ReadLocal effect: replay returns the same bytes the guest already
// observed instead of drawing fresh ones (§3 "random (ReadLocal)").
func (w *Wrapper) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	return w.Do(ctx, "random::get_random_bytes", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		return buf, nil
	})
}

// RandomU64 returns a random uint64, recorded the same way as
// RandomBytes.
func (w *Wrapper) RandomU64(ctx context.Context) (uint64, error) {
	response, err := w.Do(ctx, "random::get_random_u64", Options{Kind: oplog.ReadLocal}, func(ctx context.Context) ([]byte, error) {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		return buf, nil
	})
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(response), nil
}
