// Package manager builds and caches per-namespace storage workspaces,
// selecting backends by configured name.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
	"github.com/phanngoc/notebooklm/pkg/storage/boltkv"
	"github.com/phanngoc/notebooklm/pkg/storage/local"
	"github.com/phanngoc/notebooklm/pkg/storage/pgstore"
	"github.com/phanngoc/notebooklm/pkg/storage/rediskv"
	"github.com/phanngoc/notebooklm/pkg/storage/s3blob"
)

// Backend names accepted in Config. "local" is valid for every store
// kind and needs only DataRoot.
const (
	BackendLocal = "local"
	BackendPG    = "pg"
	BackendBolt  = "bolt"
	BackendRedis = "redis"
	BackendS3    = "s3"
)

// Config selects one backend per store kind and carries the shared
// clients the networked backends need.
type Config struct {
	// DataRoot is the directory holding one subdirectory per namespace
	// for the file-backed backends.
	DataRoot string

	VectorBackend string
	GraphBackend  string
	KVBackend     string
	BlobBackend   string

	// Pool is required when VectorBackend or GraphBackend is "pg".
	Pool *pgxpool.Pool

	// Redis is required when KVBackend is "redis".
	Redis       *redis.Client
	RedisPrefix string

	// S3 is required when BlobBackend is "s3".
	S3       *s3.Client
	S3Bucket string
	S3Prefix string
}

func orLocal(name string) string {
	if name == "" {
		return BackendLocal
	}
	return name
}

func (c Config) validate() error {
	switch orLocal(c.VectorBackend) {
	case BackendLocal:
	case BackendPG:
		if c.Pool == nil {
			return common.NewConfigurationError("pg vector backend requires a database pool")
		}
	default:
		return common.NewConfigurationError("%s", fmt.Sprintf("unknown vector backend %q", c.VectorBackend))
	}
	switch orLocal(c.GraphBackend) {
	case BackendLocal:
	case BackendPG:
		if c.Pool == nil {
			return common.NewConfigurationError("pg graph backend requires a database pool")
		}
	default:
		return common.NewConfigurationError("%s", fmt.Sprintf("unknown graph backend %q", c.GraphBackend))
	}
	switch orLocal(c.KVBackend) {
	case BackendLocal, BackendBolt:
	case BackendRedis:
		if c.Redis == nil {
			return common.NewConfigurationError("redis kv backend requires a redis client")
		}
	default:
		return common.NewConfigurationError("%s", fmt.Sprintf("unknown kv backend %q", c.KVBackend))
	}
	switch orLocal(c.BlobBackend) {
	case BackendLocal:
	case BackendS3:
		if c.S3 == nil || c.S3Bucket == "" {
			return common.NewConfigurationError("s3 blob backend requires a client and bucket")
		}
	default:
		return common.NewConfigurationError("%s", fmt.Sprintf("unknown blob backend %q", c.BlobBackend))
	}
	if c.usesDataRoot() && c.DataRoot == "" {
		return common.NewConfigurationError("data root is required for file-backed backends")
	}
	return nil
}

func (c Config) usesDataRoot() bool {
	return orLocal(c.VectorBackend) == BackendLocal ||
		orLocal(c.GraphBackend) == BackendLocal ||
		orLocal(c.KVBackend) == BackendLocal ||
		orLocal(c.KVBackend) == BackendBolt ||
		orLocal(c.BlobBackend) == BackendLocal
}

// Manager caches one workspace per namespace. Workspaces are built
// lazily on first use and live until DeleteNamespace or CloseAll.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	workspaces map[string]*storage.Workspace
}

func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg,
		workspaces: make(map[string]*storage.Workspace),
	}, nil
}

// Workspace returns the cached workspace for the namespace, building it
// on first use.
func (m *Manager) Workspace(ns common.Namespace) (*storage.Workspace, error) {
	if !ns.Valid() {
		return nil, common.NewConfigurationError("namespace requires user and project ids")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workspaces[ns.Key()]; ok {
		return w, nil
	}
	w, err := m.build(ns)
	if err != nil {
		return nil, err
	}
	m.workspaces[ns.Key()] = w
	return w, nil
}

func (m *Manager) dir(ns common.Namespace) string {
	return filepath.Join(m.cfg.DataRoot, ns.Key())
}

func (m *Manager) build(ns common.Namespace) (*storage.Workspace, error) {
	dir := m.dir(ns)
	if m.cfg.usesDataRoot() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, common.NewStorageError("manager", "create namespace dir", err)
		}
	}

	w := &storage.Workspace{Namespace: ns}

	switch orLocal(m.cfg.VectorBackend) {
	case BackendPG:
		w.Vector = pgstore.NewVectorStore(m.cfg.Pool, ns.Key())
	default:
		w.Vector = local.NewVectorStore(filepath.Join(dir, "vectors.gob"))
	}

	switch orLocal(m.cfg.GraphBackend) {
	case BackendPG:
		w.Graph = pgstore.NewGraphStore(m.cfg.Pool, ns.Key())
	default:
		w.Graph = local.NewGraphStore(filepath.Join(dir, "graph.gob"))
	}

	switch orLocal(m.cfg.KVBackend) {
	case BackendRedis:
		w.KV = rediskv.New(m.cfg.Redis, m.cfg.RedisPrefix, ns.Key())
	case BackendBolt:
		w.KV = boltkv.New(filepath.Join(dir, "kv.db"))
	default:
		w.KV = local.NewKVStore(filepath.Join(dir, "kv.gob"))
	}

	switch orLocal(m.cfg.BlobBackend) {
	case BackendS3:
		prefix := ns.Key()
		if m.cfg.S3Prefix != "" {
			prefix = m.cfg.S3Prefix + "/" + prefix
		}
		w.Blob = s3blob.New(m.cfg.S3, m.cfg.S3Bucket, prefix)
	default:
		w.Blob = local.NewBlobStore(filepath.Join(dir, "blobs"))
	}

	return w, nil
}

// DeleteNamespace drops every store of the namespace and removes its
// working directory.
func (m *Manager) DeleteNamespace(ctx context.Context, ns common.Namespace) error {
	w, err := m.Workspace(ns)
	if err != nil {
		return err
	}
	if err := w.Close(ctx); err != nil {
		return err
	}
	if err := w.Drop(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.workspaces, ns.Key())
	m.mu.Unlock()

	if m.cfg.usesDataRoot() {
		if err := os.RemoveAll(m.dir(ns)); err != nil {
			return common.NewStorageError("manager", "remove namespace dir", err)
		}
	}
	return nil
}

// CloseAll ends every open session, flushing pending writes. Called on
// shutdown.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	workspaces := make([]*storage.Workspace, 0, len(m.workspaces))
	for _, w := range m.workspaces {
		workspaces = append(workspaces, w)
	}
	m.mu.Unlock()

	var first error
	for _, w := range workspaces {
		if err := w.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
