// Package pgstore provides PostgreSQL-backed vector and graph storage.
// Embeddings use pgvector for similarity search; the graph lives in plain
// relational tables partitioned by namespace. Writes are durable on commit,
// so sessions carry no flush hooks.
package pgstore

import (
	"context"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/phanngoc/notebooklm/pkg/common"
)

// NewPool connects to the database and registers the pgvector types on
// every new connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, common.NewConfigurationError("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, common.NewConfigurationError("%s", "invalid database url: "+err.Error())
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, common.NewStorageError("pg", "connect", err)
	}
	return pool, nil
}

// Migrate applies pending schema migrations from sourceURL, typically
// file://migrations.
func Migrate(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return common.NewStorageError("pg", "migrate", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return common.NewStorageError("pg", "migrate", err)
	}
	return nil
}
