// Package storage builds the storage manager from the environment. The
// server and the worker share this bootstrap so both processes resolve
// the same backends from the same variables.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phanngoc/notebooklm/internal/util"
	"github.com/phanngoc/notebooklm/pkg/loader"
	"github.com/phanngoc/notebooklm/pkg/storage/manager"
	"github.com/phanngoc/notebooklm/pkg/storage/pgstore"
	"github.com/phanngoc/notebooklm/pkg/storage/rediskv"
	"github.com/phanngoc/notebooklm/pkg/storage/s3blob"
)

// BuildManager resolves backend selection from the environment and
// constructs the shared clients those backends need. The returned pool
// is nil unless a Postgres backend is selected; the caller owns closing
// it. The blob getter resolves blob:// and s3:// file URLs and is nil
// unless the S3 backend is selected (local content is reachable via
// file:// URLs).
//
// Variables:
//
//	DATA_ROOT       directory for local/bolt files (default ./data)
//	VECTOR_BACKEND  local | pg
//	GRAPH_BACKEND   local | pg
//	KV_BACKEND      local | bolt | redis
//	BLOB_BACKEND    local | s3
//	DATABASE_URL, MIGRATIONS_URL        for pg backends
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX
//	AWS_REGION, AWS_ENDPOINT, AWS_ACCESS_KEY, AWS_SECRET_KEY,
//	AWS_BUCKET, AWS_BLOB_PREFIX
func BuildManager(ctx context.Context) (*manager.Manager, *pgxpool.Pool, loader.BlobGetter, error) {
	cfg := manager.Config{
		DataRoot:      util.GetEnvString("DATA_ROOT", "./data"),
		VectorBackend: util.GetEnvString("VECTOR_BACKEND", manager.BackendLocal),
		GraphBackend:  util.GetEnvString("GRAPH_BACKEND", manager.BackendLocal),
		KVBackend:     util.GetEnvString("KV_BACKEND", manager.BackendLocal),
		BlobBackend:   util.GetEnvString("BLOB_BACKEND", manager.BackendLocal),
	}

	var pool *pgxpool.Pool
	var blobs loader.BlobGetter
	if cfg.VectorBackend == manager.BackendPG || cfg.GraphBackend == manager.BackendPG {
		databaseURL := util.GetEnv("DATABASE_URL")
		if databaseURL == "" {
			return nil, nil, nil, fmt.Errorf("postgres backend selected but DATABASE_URL is empty")
		}
		migrationsURL := util.GetEnvString("MIGRATIONS_URL", "file://migrations")
		if err := pgstore.Migrate(migrationsURL, databaseURL); err != nil {
			return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		p, err := pgstore.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		pool = p
		cfg.Pool = pool
	}

	if cfg.KVBackend == manager.BackendRedis {
		client, err := rediskv.NewClient(ctx, rediskv.Params{
			Addr:     util.GetEnv("REDIS_ADDR"),
			Password: util.GetEnv("REDIS_PASSWORD"),
			DB:       int(util.GetEnvNumeric("REDIS_DB", 0)),
		})
		if err != nil {
			closePool(pool)
			return nil, nil, nil, err
		}
		cfg.Redis = client
		cfg.RedisPrefix = util.GetEnvString("REDIS_PREFIX", "graphrag")
	}

	if cfg.BlobBackend == manager.BackendS3 {
		client, err := s3blob.NewClient(ctx, s3blob.Params{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		})
		if err != nil {
			closePool(pool)
			return nil, nil, nil, err
		}
		cfg.S3 = client
		cfg.S3Bucket = util.GetEnv("AWS_BUCKET")
		cfg.S3Prefix = util.GetEnvString("AWS_BLOB_PREFIX", "graphrag")
		blobs = s3blob.NewFetcher(client, cfg.S3Bucket, cfg.S3Prefix)
	}

	m, err := manager.New(cfg)
	if err != nil {
		closePool(pool)
		return nil, nil, nil, err
	}
	return m, pool, blobs, nil
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
