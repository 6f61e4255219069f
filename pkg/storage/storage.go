package storage

import (
	"context"
	"errors"

	"github.com/phanngoc/notebooklm/pkg/common"
)

// Mode is the lifecycle state of a storage backend.
type Mode int

const (
	// ModeUninitialized means no session is open; persisted state is the
	// source of truth.
	ModeUninitialized Mode = iota
	// ModeInsert means a write session is open; upserts accumulate and
	// are flushed on InsertDone.
	ModeInsert
	// ModeQuery means a read-only session is open over a loaded snapshot.
	ModeQuery
)

func (m Mode) String() string {
	switch m {
	case ModeInsert:
		return "insert"
	case ModeQuery:
		return "query"
	default:
		return "uninitialized"
	}
}

// ErrWrongMode is returned when an operation is attempted outside the
// required lifecycle mode.
var ErrWrongMode = errors.New("storage backend in wrong mode")

// ErrNotFound is returned for lookups of keys that do not exist.
var ErrNotFound = errors.New("not found")

// Lifecycle is the session state machine every backend implements,
// regardless of capability. Entering insert mode loads persisted state so
// upserts merge into prior data; InsertDone flushes so that a crash
// leaves either the pre-session or the fully-flushed state.
type Lifecycle interface {
	InsertStart(ctx context.Context) error
	InsertDone(ctx context.Context) error
	QueryStart(ctx context.Context) error
	QueryDone(ctx context.Context) error
}

// VectorRecord is one embedded item: an entity or a chunk.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Scored pairs a record id with its cosine similarity to a query.
type Scored struct {
	ID    string
	Score float64
}

// VectorStore provides similarity search over embedding records.
type VectorStore interface {
	Lifecycle

	// Upsert inserts or replaces records by id.
	Upsert(ctx context.Context, records []VectorRecord) error

	// KNN returns up to topK records by cosine similarity to query,
	// best first. Records scoring below threshold are excluded, so the
	// result may hold fewer than topK entries.
	KNN(ctx context.Context, query []float32, topK int, threshold float64) ([]Scored, error)

	Delete(ctx context.Context, ids []string) error

	// Drop removes all records for the namespace.
	Drop(ctx context.Context) error
}

// GraphStore holds the entity/relation graph for one namespace. Upserts
// merge on conflict: same normalized entity name or same entity pair
// grows descriptions and chunk evidence instead of duplicating.
type GraphStore interface {
	Lifecycle

	UpsertEntities(ctx context.Context, entities []common.Entity) error
	UpsertRelations(ctx context.Context, relations []common.Relation) error

	// Entity looks up one entity by normalized name; ErrNotFound when absent.
	Entity(ctx context.Context, name string) (*common.Entity, error)
	Entities(ctx context.Context) ([]common.Entity, error)
	Relations(ctx context.Context) ([]common.Relation, error)

	// Neighbors returns the normalized names adjacent to name, treating
	// edges as undirected.
	Neighbors(ctx context.Context, name string) ([]string, error)

	// RemoveChunks deletes the given chunk ids from all evidence lists
	// and removes entities and relations left without any evidence.
	RemoveChunks(ctx context.Context, chunkIDs []string) error

	Drop(ctx context.Context) error
}

// KVPair is one key/value entry.
type KVPair struct {
	Key   string
	Value []byte
}

// KVStore is an indexed key-value store. Each live key owns a stable
// integer index; indices freed by deletion are pooled and reused by
// later insertions rather than left as permanent gaps.
type KVStore interface {
	Lifecycle

	Upsert(ctx context.Context, pairs []KVPair) error

	// Get returns one value per key, nil for keys that are absent.
	Get(ctx context.Context, keys []string) ([][]byte, error)

	Delete(ctx context.Context, keys []string) error
	Keys(ctx context.Context) ([]string, error)

	// Index returns the stable index assigned to key, reporting whether
	// the key is live.
	Index(ctx context.Context, key string) (int64, bool, error)

	// Size returns the number of live keys.
	Size(ctx context.Context) (int64, error)

	Drop(ctx context.Context) error
}

// BlobStore holds opaque byte payloads, keyed, one per source document.
type BlobStore interface {
	Lifecycle

	Put(ctx context.Context, key string, data []byte) error

	// Get returns the payload for key; ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error
	Drop(ctx context.Context) error
}
