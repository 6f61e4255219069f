// Package rediskv is a Redis-backed key/value store with a recycled index
// pool. Keys live in a hash mapping key to index, values live one Redis
// string per index, and pool bookkeeping sits in a metadata hash, so several
// workers can share a namespace without clobbering each other's indices.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

// Params configures the Redis connection.
type Params struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// KVStore layout per namespace:
//
//	<prefix>:data:<ns>:<index>  value bytes
//	<prefix>:key_index:<ns>     hash key -> index
//	<prefix>:meta:<ns>          hash max_index, free_indices
type KVStore struct {
	storage.Session

	client    *redis.Client
	prefix    string
	namespace string
}

func NewClient(ctx context.Context, p Params) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     p.Addr,
		Password: p.Password,
		DB:       p.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, common.NewStorageError("redis", "connect", err)
	}
	return client, nil
}

func New(client *redis.Client, prefix, namespace string) *KVStore {
	if prefix == "" {
		prefix = "graphrag"
	}
	s := &KVStore{
		client:    client,
		prefix:    prefix,
		namespace: namespace,
	}
	s.Session = storage.NewSession(storage.SessionHooks{})
	return s
}

func (s *KVStore) dataKey(idx int64) string {
	return fmt.Sprintf("%s:data:%s:%d", s.prefix, s.namespace, idx)
}

func (s *KVStore) keyIndexKey() string {
	return fmt.Sprintf("%s:key_index:%s", s.prefix, s.namespace)
}

func (s *KVStore) metaKey() string {
	return fmt.Sprintf("%s:meta:%s", s.prefix, s.namespace)
}

type poolMeta struct {
	maxIndex int64
	free     []int64
}

func (s *KVStore) loadMeta(ctx context.Context) (poolMeta, error) {
	var meta poolMeta
	fields, err := s.client.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return meta, err
	}
	if raw, ok := fields["max_index"]; ok {
		meta.maxIndex, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return meta, err
		}
	}
	if raw, ok := fields["free_indices"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.free); err != nil {
			return meta, err
		}
	}
	return meta, nil
}

func (s *KVStore) saveMeta(ctx context.Context, pipe redis.Cmdable, meta poolMeta) error {
	free, err := json.Marshal(meta.free)
	if err != nil {
		return err
	}
	return pipe.HSet(ctx, s.metaKey(),
		"max_index", strconv.FormatInt(meta.maxIndex, 10),
		"free_indices", string(free),
	).Err()
}

func (s *KVStore) Upsert(ctx context.Context, pairs []storage.KVPair) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return err
	}
	meta, err := s.loadMeta(ctx)
	if err != nil {
		return common.NewStorageError("redis", "upsert", err)
	}

	pipe := s.client.TxPipeline()
	for _, p := range pairs {
		raw, err := s.client.HGet(ctx, s.keyIndexKey(), p.Key).Result()
		var idx int64
		switch {
		case err == nil:
			idx, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return common.NewStorageError("redis", "upsert", err)
			}
		case err == redis.Nil:
			if len(meta.free) > 0 {
				idx = meta.free[0]
				meta.free = meta.free[1:]
			} else {
				idx = meta.maxIndex
				meta.maxIndex++
			}
			pipe.HSet(ctx, s.keyIndexKey(), p.Key, strconv.FormatInt(idx, 10))
		default:
			return common.NewStorageError("redis", "upsert", err)
		}
		pipe.Set(ctx, s.dataKey(idx), p.Value, 0)
	}
	if err := s.saveMeta(ctx, pipe, meta); err != nil {
		return common.NewStorageError("redis", "upsert", err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return common.NewStorageError("redis", "upsert", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, keys []string) ([][]byte, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, key := range keys {
		raw, err := s.client.HGet(ctx, s.keyIndexKey(), key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, common.NewStorageError("redis", "get", err)
		}
		idx, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, common.NewStorageError("redis", "get", err)
		}
		data, err := s.client.Get(ctx, s.dataKey(idx)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, common.NewStorageError("redis", "get", err)
		}
		out[i] = data
	}
	return out, nil
}

func (s *KVStore) Delete(ctx context.Context, keys []string) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return err
	}
	meta, err := s.loadMeta(ctx)
	if err != nil {
		return common.NewStorageError("redis", "delete", err)
	}

	pipe := s.client.TxPipeline()
	for _, key := range keys {
		raw, err := s.client.HGet(ctx, s.keyIndexKey(), key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return common.NewStorageError("redis", "delete", err)
		}
		idx, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return common.NewStorageError("redis", "delete", err)
		}
		pipe.HDel(ctx, s.keyIndexKey(), key)
		pipe.Del(ctx, s.dataKey(idx))
		meta.free = append(meta.free, idx)
	}
	if err := s.saveMeta(ctx, pipe, meta); err != nil {
		return common.NewStorageError("redis", "delete", err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return common.NewStorageError("redis", "delete", err)
	}
	return nil
}

func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.keyIndexKey()).Result()
	if err != nil {
		return nil, common.NewStorageError("redis", "keys", err)
	}
	type entry struct {
		key string
		idx int64
	}
	entries := make([]entry, 0, len(fields))
	for key, raw := range fields {
		idx, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, common.NewStorageError("redis", "keys", err)
		}
		entries = append(entries, entry{key: key, idx: idx})
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
	raw, err := s.client.HGet(ctx, s.keyIndexKey(), key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, common.NewStorageError("redis", "index", err)
	}
	idx, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, common.NewStorageError("redis", "index", err)
	}
	return idx, true, nil
}

func (s *KVStore) Size(ctx context.Context) (int64, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return 0, err
	}
	n, err := s.client.HLen(ctx, s.keyIndexKey()).Result()
	if err != nil {
		return 0, common.NewStorageError("redis", "size", err)
	}
	return n, nil
}

// Drop removes every key under the namespace, scanning instead of KEYS so a
// shared instance stays responsive.
func (s *KVStore) Drop(ctx context.Context) error {
	pattern := fmt.Sprintf("%s:*:%s*", s.prefix, s.namespace)
	iter := s.client.Scan(ctx, 0, pattern, 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return common.NewStorageError("redis", "drop", err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return common.NewStorageError("redis", "drop", err)
		}
	}
	return nil
}
