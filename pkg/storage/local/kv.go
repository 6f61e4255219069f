package local

import (
	"context"
	"os"
	"sort"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

type kvState struct {
	Values   map[int64][]byte
	KeyIndex map[string]int64
	// Free holds indices vacated by deletion, reused in FIFO order
	// before new indices are assigned.
	Free []int64
	Next int64
}

// KVStore is the file-backed reference indexed key-value backend. Every
// live key owns one index; deletion returns the index to a free pool
// that later insertions drain before extending the index space.
type KVStore struct {
	session storage.Session
	path    string
	state   kvState
}

// NewKVStore creates a KV store persisting to path.
func NewKVStore(path string) *KVStore {
	s := &KVStore{path: path}
	s.session = storage.NewSession(storage.SessionHooks{
		Load:    s.loadState,
		Flush:   s.flushState,
		Release: s.releaseState,
	})
	return s
}

func (s *KVStore) loadState(ctx context.Context) error {
	s.state = kvState{
		Values:   make(map[int64][]byte),
		KeyIndex: make(map[string]int64),
	}
	if _, err := loadGob(s.path, &s.state); err != nil {
		return common.NewStorageError("local/kv", "load", err)
	}
	if s.state.Values == nil {
		s.state.Values = make(map[int64][]byte)
	}
	if s.state.KeyIndex == nil {
		s.state.KeyIndex = make(map[string]int64)
	}
	return nil
}

func (s *KVStore) flushState(ctx context.Context) error {
	if err := saveGob(s.path, &s.state); err != nil {
		return common.NewStorageError("local/kv", "flush", err)
	}
	return nil
}

func (s *KVStore) releaseState() {
	s.state = kvState{}
}

func (s *KVStore) InsertStart(ctx context.Context) error { return s.session.InsertStart(ctx) }
func (s *KVStore) InsertDone(ctx context.Context) error  { return s.session.InsertDone(ctx) }
func (s *KVStore) QueryStart(ctx context.Context) error  { return s.session.QueryStart(ctx) }
func (s *KVStore) QueryDone(ctx context.Context) error   { return s.session.QueryDone(ctx) }

// Upsert inserts or replaces pairs. New keys take an index from the free
// pool when one is available, otherwise the next unused integer.
func (s *KVStore) Upsert(ctx context.Context, pairs []storage.KVPair) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/kv", "upsert", err)
	}
	for _, p := range pairs {
		idx, ok := s.state.KeyIndex[p.Key]
		if !ok {
			if len(s.state.Free) > 0 {
				idx = s.state.Free[0]
				s.state.Free = s.state.Free[1:]
			} else {
				idx = s.state.Next
				s.state.Next++
			}
			s.state.KeyIndex[p.Key] = idx
		}
		s.state.Values[idx] = p.Value
	}
	return nil
}

// Get returns one value per key, nil for absent keys.
func (s *KVStore) Get(ctx context.Context, keys []string) ([][]byte, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/kv", "get", err)
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if idx, ok := s.state.KeyIndex[k]; ok {
			out[i] = s.state.Values[idx]
		}
	}
	return out, nil
}

// Delete removes keys, returning their indices to the free pool.
func (s *KVStore) Delete(ctx context.Context, keys []string) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/kv", "delete", err)
	}
	for _, k := range keys {
		idx, ok := s.state.KeyIndex[k]
		if !ok {
			continue
		}
		delete(s.state.KeyIndex, k)
		delete(s.state.Values, idx)
		s.state.Free = append(s.state.Free, idx)
	}
	return nil
}

// Keys returns all live keys ordered by index.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/kv", "keys", err)
	}
	keys := make([]string, 0, len(s.state.KeyIndex))
	for k := range s.state.KeyIndex {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.state.KeyIndex[keys[i]] < s.state.KeyIndex[keys[j]]
	})
	return keys, nil
}

// Index returns the index assigned to key and whether the key is live.
func (s *KVStore) Index(ctx context.Context, key string) (int64, bool, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return 0, false, common.NewStorageError("local/kv", "index", err)
	}
	idx, ok := s.state.KeyIndex[key]
	return idx, ok, nil
}

// Size returns the number of live keys.
func (s *KVStore) Size(ctx context.Context) (int64, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return 0, common.NewStorageError("local/kv", "size", err)
	}
	return int64(len(s.state.KeyIndex)), nil
}

// Drop removes the persisted file and any in-memory state.
func (s *KVStore) Drop(ctx context.Context) error {
	s.state = kvState{
		Values:   make(map[int64][]byte),
		KeyIndex: make(map[string]int64),
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return common.NewStorageError("local/kv", "drop", err)
	}
	return nil
}
