package oplog

import (
	"context"
	"sync"

	"github.com/golemcloud/golemrt/pkg/blobstore"
)

// MemoryStorage is an in-process Storage implementation backed by a
// map of entries guarded by a single mutex, with payloads delegated to
// a blobstore.Store. It is used for tests and for local/dev execution
// where durability across process restarts is not required.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[WorkerId][]Entry
	blobs   blobstore.Store
}

// NewMemoryStorage creates an empty in-memory oplog store backed by a
// blobstore.MemoryStore.
func NewMemoryStorage() *MemoryStorage {
	return NewMemoryStorageWithBlobs(blobstore.NewMemoryStore())
}

// NewMemoryStorageWithBlobs creates an in-memory oplog store whose
// payloads go through blobs instead of a private map, e.g. a
// blobstore.CacheStore shared across executor processes.
func NewMemoryStorageWithBlobs(blobs blobstore.Store) *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[WorkerId][]Entry),
		blobs:   blobs,
	}
}

func (s *MemoryStorage) Append(_ context.Context, worker WorkerId, entry Entry) (OplogIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[worker] = append(s.entries[worker], entry)
	return OplogIndex(len(s.entries[worker])), nil
}

func (s *MemoryStorage) Read(_ context.Context, worker WorkerId, from, to OplogIndex) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, ok := s.entries[worker]
	if !ok {
		return nil, ErrWorkerNotFound
	}
	if from < 1 {
		from = 1
	}
	if to == NoIndex || int(to) > len(all) {
		to = OplogIndex(len(all))
	}
	if int(from) > len(all) || from > to {
		return nil, nil
	}

	slice := all[from-1 : to]
	out := make([]Entry, len(slice))
	copy(out, slice)
	return out, nil
}

func (s *MemoryStorage) LastIndex(_ context.Context, worker WorkerId) (OplogIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return OplogIndex(len(s.entries[worker])), nil
}

func (s *MemoryStorage) UploadPayload(ctx context.Context, worker WorkerId, data []byte) (PayloadRef, error) {
	hash := sha256Hex(data)

	if err := s.blobs.Put(ctx, hash, data); err != nil {
		return PayloadRef{}, err
	}

	return PayloadRef{
		BlobId: newBlobID(),
		Size:   int64(len(data)),
		Hash:   hash,
	}, nil
}

func (s *MemoryStorage) DownloadPayload(ctx context.Context, worker WorkerId, ref PayloadRef) ([]byte, error) {
	data, ok, err := s.blobs.Get(ctx, ref.Hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// Commit is a no-op: MemoryStorage applies every Append synchronously.
func (s *MemoryStorage) Commit(_ context.Context, _ WorkerId, _ CommitLevel) error {
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
