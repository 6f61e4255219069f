package pgstore

import (
	"context"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

// GraphStore keeps the entity/relation graph in the graph_entities and
// graph_relations tables. Merging happens in Go inside a transaction, with
// the conflicting rows locked, mirroring the in-memory reference backend.
type GraphStore struct {
	storage.Session

	pool      *pgxpool.Pool
	namespace string
}

func NewGraphStore(pool *pgxpool.Pool, namespace string) *GraphStore {
	s := &GraphStore{pool: pool, namespace: namespace}
	s.Session = storage.NewSession(storage.SessionHooks{})
	return s
}

// pairKey is the undirected edge identity. Postgres TEXT cannot hold NUL
// bytes, so the separator differs from the in-memory form.
func pairKey(source, target string) string {
	a, b := common.NormalizeName(source), common.NormalizeName(target)
	if a > b {
		a, b = b, a
	}
	return a + "\x1f" + b
}

func (s *GraphStore) UpsertEntities(ctx context.Context, entities []common.Entity) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("pg/graph", "upsert entities", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return common.NewStorageError("pg/graph", "upsert entities", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entities {
		name := common.NormalizeName(e.Name)
		if name == "" {
			continue
		}

		var existing common.Entity
		err := tx.QueryRow(ctx, `
			SELECT type, descriptions, chunks
			FROM graph_entities
			WHERE namespace = $1 AND name = $2
			FOR UPDATE`,
			s.namespace, name,
		).Scan(&existing.Type, &existing.Descriptions, &existing.Chunks)
		switch err {
		case nil:
			descriptions := common.AppendUnique(existing.Descriptions, e.Descriptions...)
			chunks := common.AppendUnique(existing.Chunks, e.Chunks...)
			_, err = tx.Exec(ctx, `
				UPDATE graph_entities
				SET descriptions = $3, chunks = $4
				WHERE namespace = $1 AND name = $2`,
				s.namespace, name, descriptions, chunks)
		case pgx.ErrNoRows:
			_, err = tx.Exec(ctx, `
				INSERT INTO graph_entities (namespace, name, type, descriptions, chunks)
				VALUES ($1, $2, $3, $4, $5)`,
				s.namespace, name, e.Type,
				common.AppendUnique(nil, e.Descriptions...),
				common.AppendUnique(nil, e.Chunks...))
		}
		if err != nil {
			return common.NewStorageError("pg/graph", "upsert entities", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.NewStorageError("pg/graph", "upsert entities", err)
	}
	return nil
}

func (s *GraphStore) UpsertRelations(ctx context.Context, relations []common.Relation) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("pg/graph", "upsert relations", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return common.NewStorageError("pg/graph", "upsert relations", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range relations {
		src := common.NormalizeName(r.Source)
		tgt := common.NormalizeName(r.Target)

		var known int
		err := tx.QueryRow(ctx, `
			SELECT count(*) FROM graph_entities
			WHERE namespace = $1 AND name = ANY($2)`,
			s.namespace, []string{src, tgt},
		).Scan(&known)
		if err != nil {
			return common.NewStorageError("pg/graph", "upsert relations", err)
		}
		if known < 2 {
			// Relations against entities the graph has never seen are
			// dropped rather than creating dangling nodes.
			continue
		}

		key := pairKey(src, tgt)
		var existing common.Relation
		err = tx.QueryRow(ctx, `
			SELECT descriptions, strength, chunks
			FROM graph_relations
			WHERE namespace = $1 AND pair_key = $2
			FOR UPDATE`,
			s.namespace, key,
		).Scan(&existing.Descriptions, &existing.Strength, &existing.Chunks)
		switch err {
		case nil:
			strength := existing.Strength
			if r.Strength > 0 {
				strength = (strength + r.Strength) / 2
			}
			descriptions := common.AppendUnique(existing.Descriptions, r.Descriptions...)
			chunks := common.AppendUnique(existing.Chunks, r.Chunks...)
			_, err = tx.Exec(ctx, `
				UPDATE graph_relations
				SET descriptions = $3, strength = $4, chunks = $5
				WHERE namespace = $1 AND pair_key = $2`,
				s.namespace, key, descriptions, strength, chunks)
		case pgx.ErrNoRows:
			_, err = tx.Exec(ctx, `
				INSERT INTO graph_relations (namespace, pair_key, source, target, descriptions, strength, chunks)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				s.namespace, key, src, tgt,
				common.AppendUnique(nil, r.Descriptions...),
				r.Strength,
				common.AppendUnique(nil, r.Chunks...))
		}
		if err != nil {
			return common.NewStorageError("pg/graph", "upsert relations", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.NewStorageError("pg/graph", "upsert relations", err)
	}
	return nil
}

func (s *GraphStore) Entity(ctx context.Context, name string) (*common.Entity, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("pg/graph", "entity", err)
	}
	var e common.Entity
	err := s.pool.QueryRow(ctx, `
		SELECT name, type, descriptions, chunks, seq
		FROM graph_entities
		WHERE namespace = $1 AND name = $2`,
		s.namespace, common.NormalizeName(name),
	).Scan(&e.Name, &e.Type, &e.Descriptions, &e.Chunks, &e.Seq)
	if err == pgx.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, common.NewStorageError("pg/graph", "entity", err)
	}
	return &e, nil
}

func (s *GraphStore) Entities(ctx context.Context) ([]common.Entity, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("pg/graph", "entities", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT name, type, descriptions, chunks, seq
		FROM graph_entities
		WHERE namespace = $1
		ORDER BY seq`,
		s.namespace)
	if err != nil {
		return nil, common.NewStorageError("pg/graph", "entities", err)
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		var e common.Entity
		if err := rows.Scan(&e.Name, &e.Type, &e.Descriptions, &e.Chunks, &e.Seq); err != nil {
			return nil, common.NewStorageError("pg/graph", "entities", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("pg/graph", "entities", err)
	}
	return out, nil
}

func (s *GraphStore) Relations(ctx context.Context) ([]common.Relation, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("pg/graph", "relations", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT source, target, descriptions, strength, chunks, seq
		FROM graph_relations
		WHERE namespace = $1
		ORDER BY seq`,
		s.namespace)
	if err != nil {
		return nil, common.NewStorageError("pg/graph", "relations", err)
	}
	defer rows.Close()

	var out []common.Relation
	for rows.Next() {
		var r common.Relation
		if err := rows.Scan(&r.Source, &r.Target, &r.Descriptions, &r.Strength, &r.Chunks, &r.Seq); err != nil {
			return nil, common.NewStorageError("pg/graph", "relations", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("pg/graph", "relations", err)
	}
	return out, nil
}

func (s *GraphStore) Neighbors(ctx context.Context, name string) ([]string, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("pg/graph", "neighbors", err)
	}
	name = common.NormalizeName(name)
	rows, err := s.pool.Query(ctx, `
		SELECT source, target
		FROM graph_relations
		WHERE namespace = $1 AND (source = $2 OR target = $2)`,
		s.namespace, name)
	if err != nil {
		return nil, common.NewStorageError("pg/graph", "neighbors", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src, tgt string
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, common.NewStorageError("pg/graph", "neighbors", err)
		}
		if src == name {
			out = append(out, tgt)
		} else {
			out = append(out, src)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("pg/graph", "neighbors", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *GraphStore) RemoveChunks(ctx context.Context, chunkIDs []string) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("pg/graph", "remove chunks", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return common.NewStorageError("pg/graph", "remove chunks", err)
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		`UPDATE graph_entities
		 SET chunks = (
		   SELECT COALESCE(array_agg(c ORDER BY ord), '{}')
		   FROM unnest(chunks) WITH ORDINALITY AS t(c, ord)
		   WHERE NOT c = ANY($2)
		 )
		 WHERE namespace = $1 AND chunks && $2`,
		`DELETE FROM graph_entities WHERE namespace = $1 AND chunks = '{}'`,
		`UPDATE graph_relations
		 SET chunks = (
		   SELECT COALESCE(array_agg(c ORDER BY ord), '{}')
		   FROM unnest(chunks) WITH ORDINALITY AS t(c, ord)
		   WHERE NOT c = ANY($2)
		 )
		 WHERE namespace = $1 AND chunks && $2`,
		`DELETE FROM graph_relations WHERE namespace = $1 AND chunks = '{}'`,
		`DELETE FROM graph_relations r
		 WHERE namespace = $1 AND (
		   NOT EXISTS (SELECT 1 FROM graph_entities e WHERE e.namespace = r.namespace AND e.name = r.source)
		   OR NOT EXISTS (SELECT 1 FROM graph_entities e WHERE e.namespace = r.namespace AND e.name = r.target)
		 )`,
	}
	for _, stmt := range stmts {
		if strings.Contains(stmt, "$2") {
			_, err = tx.Exec(ctx, stmt, s.namespace, chunkIDs)
		} else {
			_, err = tx.Exec(ctx, stmt, s.namespace)
		}
		if err != nil {
			return common.NewStorageError("pg/graph", "remove chunks", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.NewStorageError("pg/graph", "remove chunks", err)
	}
	return nil
}

func (s *GraphStore) Drop(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return common.NewStorageError("pg/graph", "drop", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM graph_relations WHERE namespace = $1`, s.namespace); err != nil {
		return common.NewStorageError("pg/graph", "drop", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM graph_entities WHERE namespace = $1`, s.namespace); err != nil {
		return common.NewStorageError("pg/graph", "drop", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return common.NewStorageError("pg/graph", "drop", err)
	}
	return nil
}
