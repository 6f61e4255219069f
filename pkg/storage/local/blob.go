package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

// BlobStore is the file-backed blob backend: one file per key inside a
// namespace directory. Writes are atomic per object (temp file plus
// rename), so the lifecycle hooks have nothing to buffer.
type BlobStore struct {
	session storage.Session
	dir     string
}

// NewBlobStore creates a blob store rooted at dir.
func NewBlobStore(dir string) *BlobStore {
	s := &BlobStore{dir: dir}
	s.session = storage.NewSession(storage.SessionHooks{})
	return s
}

func (s *BlobStore) InsertStart(ctx context.Context) error { return s.session.InsertStart(ctx) }
func (s *BlobStore) InsertDone(ctx context.Context) error  { return s.session.InsertDone(ctx) }
func (s *BlobStore) QueryStart(ctx context.Context) error  { return s.session.QueryStart(ctx) }
func (s *BlobStore) QueryDone(ctx context.Context) error   { return s.session.QueryDone(ctx) }

// keyPath maps an arbitrary key to a filesystem-safe path.
func (s *BlobStore) keyPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16]))
}

// Put writes data under key.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/blob", "put", err)
	}
	path := s.keyPath(key)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return common.NewStorageError("local/blob", "put", err)
	}
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return common.NewStorageError("local/blob", "put", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return common.NewStorageError("local/blob", "put", err)
	}
	if err := tmp.Close(); err != nil {
		return common.NewStorageError("local/blob", "put", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return common.NewStorageError("local/blob", "put", err)
	}
	return nil
}

// Get returns the payload for key; storage.ErrNotFound when absent.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/blob", "get", err)
	}
	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, common.NewStorageError("local/blob", "get", err)
	}
	return data, nil
}

// Delete removes the payload for key. Missing keys are not an error.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/blob", "delete", err)
	}
	if err := os.Remove(s.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return common.NewStorageError("local/blob", "delete", err)
	}
	return nil
}

// Drop removes the whole namespace directory.
func (s *BlobStore) Drop(ctx context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return common.NewStorageError("local/blob", "drop", err)
	}
	return nil
}
