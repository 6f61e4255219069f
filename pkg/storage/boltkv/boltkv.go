// Package boltkv is a bbolt-backed key/value store with a recycled index
// pool, so chunk payloads keep compact integer handles across deletions.
package boltkv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

var (
	bucketData     = []byte("data")
	bucketKeyIndex = []byte("key_index")
	bucketMeta     = []byte("meta")

	metaFree = []byte("free")
	metaNext = []byte("next")
)

// KVStore keeps three buckets per database file: data maps an int64 index to
// the stored value, key_index maps the caller's key to its index, and meta
// holds the free-index pool and the next-index counter.
type KVStore struct {
	storage.Session

	path string
	db   *bbolt.DB
}

func New(path string) *KVStore {
	s := &KVStore{path: path}
	s.Session = storage.NewSession(storage.SessionHooks{
		Load:    s.open,
		Flush:   s.sync,
		Release: s.close,
	})
	return s
}

func (s *KVStore) open(ctx context.Context) error {
	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return common.NewStorageError("boltkv", "open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketData, bucketKeyIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return common.NewStorageError("boltkv", "open", err)
	}
	s.db = db
	return nil
}

func (s *KVStore) sync(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return common.NewStorageError("boltkv", "flush", err)
	}
	return nil
}

func (s *KVStore) close() {
	if s.db == nil {
		return
	}
	s.db.Close()
	s.db = nil
}

func indexKey(idx int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(idx))
	return buf
}

func parseIndex(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func loadFree(b *bbolt.Bucket) ([]int64, error) {
	raw := b.Get(metaFree)
	if raw == nil {
		return nil, nil
	}
	var free []int64
	if err := json.Unmarshal(raw, &free); err != nil {
		return nil, err
	}
	return free, nil
}

func storeFree(b *bbolt.Bucket, free []int64) error {
	raw, err := json.Marshal(free)
	if err != nil {
		return err
	}
	return b.Put(metaFree, raw)
}

// allocIndex hands out the oldest recycled index first and only grows the
// counter when the pool is empty.
func allocIndex(meta *bbolt.Bucket) (int64, error) {
	free, err := loadFree(meta)
	if err != nil {
		return 0, err
	}
	if len(free) > 0 {
		idx := free[0]
		if err := storeFree(meta, free[1:]); err != nil {
			return 0, err
		}
		return idx, nil
	}
	next := int64(0)
	if raw := meta.Get(metaNext); raw != nil {
		next = parseIndex(raw)
	}
	if err := meta.Put(metaNext, indexKey(next+1)); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *KVStore) Upsert(ctx context.Context, pairs []storage.KVPair) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketData)
		keyIndex := tx.Bucket(bucketKeyIndex)
		meta := tx.Bucket(bucketMeta)

		for _, p := range pairs {
			var idx int64
			if raw := keyIndex.Get([]byte(p.Key)); raw != nil {
				idx = parseIndex(raw)
			} else {
				var err error
				idx, err = allocIndex(meta)
				if err != nil {
					return err
				}
				if err := keyIndex.Put([]byte(p.Key), indexKey(idx)); err != nil {
					return err
				}
			}
			if err := data.Put(indexKey(idx), p.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return common.NewStorageError("boltkv", "upsert", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, keys []string) ([][]byte, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketData)
		keyIndex := tx.Bucket(bucketKeyIndex)
		for i, key := range keys {
			raw := keyIndex.Get([]byte(key))
			if raw == nil {
				continue
			}
			if v := data.Get(parseIndexKey(raw)); v != nil {
				out[i] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, common.NewStorageError("boltkv", "get", err)
	}
	return out, nil
}

func parseIndexKey(raw []byte) []byte {
	// key_index stores the index in the same encoding data uses as its key.
	return raw
}

func (s *KVStore) Delete(ctx context.Context, keys []string) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketData)
		keyIndex := tx.Bucket(bucketKeyIndex)
		meta := tx.Bucket(bucketMeta)

		free, err := loadFree(meta)
		if err != nil {
			return err
		}
		for _, key := range keys {
			raw := keyIndex.Get([]byte(key))
			if raw == nil {
				continue
			}
			if err := data.Delete(raw); err != nil {
				return err
			}
			if err := keyIndex.Delete([]byte(key)); err != nil {
				return err
			}
			free = append(free, parseIndex(raw))
		}
		return storeFree(meta, free)
	})
	if err != nil {
		return common.NewStorageError("boltkv", "delete", err)
	}
	return nil
}

func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, err
	}
	type entry struct {
		key string
		idx int64
	}
	var entries []entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeyIndex).ForEach(func(k, v []byte) error {
			entries = append(entries, entry{key: string(k), idx: parseIndex(v)})
			return nil
		})
	})
	if err != nil {
		return nil, common.NewStorageError("boltkv", "keys", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys, nil
}

func (s *KVStore) Index(ctx context.Context, key string) (int64, bool, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return 0, false, err
	}
	var idx int64
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketKeyIndex).Get([]byte(key)); raw != nil {
			idx = parseIndex(raw)
			found = true
		}
		return nil
	})
	if err != nil {
		return 0, false, common.NewStorageError("boltkv", "index", err)
	}
	return idx, found, nil
}

func (s *KVStore) Size(ctx context.Context) (int64, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return 0, err
	}
	var size int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		size = int64(tx.Bucket(bucketKeyIndex).Stats().KeyN)
		return nil
	})
	if err != nil {
		return 0, common.NewStorageError("boltkv", "size", err)
	}
	return size, nil
}

func (s *KVStore) Drop(ctx context.Context) error {
	if s.db == nil {
		if err := s.open(ctx); err != nil {
			return err
		}
		defer s.close()
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketData, bucketKeyIndex, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return common.NewStorageError("boltkv", "drop", err)
	}
	return nil
}
