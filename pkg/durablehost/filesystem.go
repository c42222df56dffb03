package durablehost

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// VirtualFilesystem is a worker-scoped, in-memory filesystem. Real
// workers never touch the host's actual disk (§3 "filesystem
// (WriteLocal)"): every read and write goes through Filesystem so it
// can be wrapped as a durable effect and replayed byte-for-byte.
type VirtualFilesystem struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewVirtualFilesystem returns an empty filesystem.
func NewVirtualFilesystem() *VirtualFilesystem {
	return &VirtualFilesystem{files: make(map[string][]byte)}
}

// Filesystem wraps a VirtualFilesystem as the filesystem host-function
// group. All operations are WriteLocal: even reads are wrapped so a
// replayed worker sees the exact bytes it saw live, independent of any
// concurrent write to the same path by another invocation.
type Filesystem struct {
	wrapper *Wrapper
	vfs     *VirtualFilesystem
}

// NewFilesystem binds a durability wrapper to a backing
// VirtualFilesystem.
func NewFilesystem(w *Wrapper, vfs *VirtualFilesystem) *Filesystem {
	return &Filesystem{wrapper: w, vfs: vfs}
}

// Write stores data at path, replacing any existing content.
func (f *Filesystem) Write(ctx context.Context, path string, data []byte) error {
	_, err := f.wrapper.Do(ctx, "filesystem::write", Options{Kind: oplog.WriteLocal, Atomic: true}, func(ctx context.Context) ([]byte, error) {
		f.vfs.mu.Lock()
		f.vfs.files[path] = append([]byte(nil), data...)
		f.vfs.mu.Unlock()
		return nil, nil
	})
	return err
}

type fsReadResult struct {
	Found bool   `json:"found"`
	Data  []byte `json:"data"`
}

// Read returns the content at path, or found=false if it doesn't
// exist.
func (f *Filesystem) Read(ctx context.Context, path string) (data []byte, found bool, err error) {
	response, err := f.wrapper.Do(ctx, "filesystem::read", Options{Kind: oplog.WriteLocal}, func(ctx context.Context) ([]byte, error) {
		f.vfs.mu.Lock()
		content, ok := f.vfs.files[path]
		f.vfs.mu.Unlock()
		if !ok {
			return json.Marshal(fsReadResult{Found: false})
		}
		return json.Marshal(fsReadResult{Found: true, Data: content})
	})
	if err != nil {
		return nil, false, err
	}
	var result fsReadResult
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, false, apperror.New(apperror.CodeOplogCorruption, "filesystem: decode recorded read result")
	}
	return result.Data, result.Found, nil
}

// Remove deletes path. Removing an absent path is not an error.
func (f *Filesystem) Remove(ctx context.Context, path string) error {
	_, err := f.wrapper.Do(ctx, "filesystem::remove", Options{Kind: oplog.WriteLocal}, func(ctx context.Context) ([]byte, error) {
		f.vfs.mu.Lock()
		delete(f.vfs.files, path)
		f.vfs.mu.Unlock()
		return nil, nil
	})
	return err
}
