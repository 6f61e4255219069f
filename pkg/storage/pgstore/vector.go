package pgstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

// VectorStore keeps embedding records in the embeddings table, one row per
// record, scoped to a namespace.
type VectorStore struct {
	storage.Session

	pool      *pgxpool.Pool
	namespace string
}

func NewVectorStore(pool *pgxpool.Pool, namespace string) *VectorStore {
	s := &VectorStore{pool: pool, namespace: namespace}
	s.Session = storage.NewSession(storage.SessionHooks{})
	return s
}

func (s *VectorStore) Upsert(ctx context.Context, records []storage.VectorRecord) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("pg/vector", "upsert", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return common.NewStorageError("pg/vector", "upsert", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return common.NewStorageError("pg/vector", "upsert", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO embeddings (namespace, id, embedding, metadata)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, id)
			DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`,
			s.namespace, r.ID, pgvector.NewVector(r.Vector), meta)
		if err != nil {
			return common.NewStorageError("pg/vector", "upsert", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.NewStorageError("pg/vector", "upsert", err)
	}
	return nil
}

func (s *VectorStore) KNN(ctx context.Context, query []float32, topK int, threshold float64) ([]storage.Scored, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("pg/vector", "knn", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, 1 - (embedding <=> $2) AS score
		FROM embeddings
		WHERE namespace = $1
		ORDER BY embedding <=> $2, id
		LIMIT $3`,
		s.namespace, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, common.NewStorageError("pg/vector", "knn", err)
	}
	defer rows.Close()

	var out []storage.Scored
	for rows.Next() {
		var sc storage.Scored
		if err := rows.Scan(&sc.ID, &sc.Score); err != nil {
			return nil, common.NewStorageError("pg/vector", "knn", err)
		}
		if sc.Score < threshold {
			continue
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("pg/vector", "knn", err)
	}
	return out, nil
}

func (s *VectorStore) Delete(ctx context.Context, ids []string) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("pg/vector", "delete", err)
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM embeddings WHERE namespace = $1 AND id = ANY($2)`,
		s.namespace, ids)
	if err != nil {
		return common.NewStorageError("pg/vector", "delete", err)
	}
	return nil
}

func (s *VectorStore) Drop(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM embeddings WHERE namespace = $1`, s.namespace)
	if err != nil {
		return common.NewStorageError("pg/vector", "drop", err)
	}
	return nil
}
