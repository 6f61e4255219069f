package local

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

func newTestGraph(t *testing.T) *GraphStore {
	t.Helper()
	return NewGraphStore(filepath.Join(t.TempDir(), "graph.gob"))
}

func entityFromChunk(name, desc, chunk string) common.Entity {
	return common.Entity{
		Name:         name,
		Type:         "ORGANIZATION",
		Descriptions: []string{desc},
		Chunks:       []string{chunk},
	}
}

func TestEntityMergeCommutative(t *testing.T) {
	ctx := context.Background()

	fromChunk1 := entityFromChunk("Tesla", "An electric car maker.", "c1")
	fromChunk2 := entityFromChunk("tesla", "Builds the Model 3.", "c2")

	merge := func(first, second common.Entity) common.Entity {
		s := newTestGraph(t)
		if err := s.InsertStart(ctx); err != nil {
			t.Fatalf("InsertStart() error = %v", err)
		}
		if err := s.UpsertEntities(ctx, []common.Entity{first}); err != nil {
			t.Fatalf("UpsertEntities() error = %v", err)
		}
		if err := s.UpsertEntities(ctx, []common.Entity{second}); err != nil {
			t.Fatalf("UpsertEntities() error = %v", err)
		}
		e, err := s.Entity(ctx, "Tesla")
		if err != nil {
			t.Fatalf("Entity() error = %v", err)
		}
		return *e
	}

	a := merge(fromChunk1, fromChunk2)
	b := merge(fromChunk2, fromChunk1)

	sortSet := func(s []string) []string {
		out := append([]string(nil), s...)
		sort.Strings(out)
		return out
	}
	if !reflect.DeepEqual(sortSet(a.Descriptions), sortSet(b.Descriptions)) {
		t.Fatalf("description sets differ: %v vs %v", a.Descriptions, b.Descriptions)
	}
	if !reflect.DeepEqual(sortSet(a.Chunks), sortSet(b.Chunks)) {
		t.Fatalf("chunk sets differ: %v vs %v", a.Chunks, b.Chunks)
	}
	if a.Name != "TESLA" || b.Name != "TESLA" {
		t.Fatalf("normalized names = %q, %q, want TESLA", a.Name, b.Name)
	}
}

func TestRelationMergeUndirected(t *testing.T) {
	ctx := context.Background()
	s := newTestGraph(t)
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}

	entities := []common.Entity{
		entityFromChunk("Tesla", "Car maker.", "c1"),
		entityFromChunk("Model 3", "A sedan.", "c1"),
	}
	if err := s.UpsertEntities(ctx, entities); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}

	relations := []common.Relation{
		{Source: "Tesla", Target: "Model 3", Descriptions: []string{"produces"}, Strength: 8, Chunks: []string{"c1"}},
		{Source: "Model 3", Target: "Tesla", Descriptions: []string{"made by"}, Strength: 6, Chunks: []string{"c2"}},
	}
	if err := s.UpsertRelations(ctx, relations); err != nil {
		t.Fatalf("UpsertRelations() error = %v", err)
	}

	all, err := s.Relations(ctx)
	if err != nil {
		t.Fatalf("Relations() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(Relations()) = %d, want 1 (reverse edge merged)", len(all))
	}
	if got := len(all[0].Chunks); got != 2 {
		t.Fatalf("merged chunk evidence = %d, want 2", got)
	}
}

func TestRelationSkipsUnknownEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestGraph(t)
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	if err := s.UpsertEntities(ctx, []common.Entity{entityFromChunk("Tesla", "x", "c1")}); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}
	rel := common.Relation{Source: "Tesla", Target: "Unknown Corp", Descriptions: []string{"partner"}}
	if err := s.UpsertRelations(ctx, []common.Relation{rel}); err != nil {
		t.Fatalf("UpsertRelations() error = %v", err)
	}
	all, err := s.Relations(ctx)
	if err != nil {
		t.Fatalf("Relations() error = %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("len(Relations()) = %d, want 0", len(all))
	}
}

func TestRemoveChunksCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestGraph(t)
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}

	entities := []common.Entity{
		entityFromChunk("Tesla", "Car maker.", "c1"),
		entityFromChunk("SpaceX", "Rockets.", "c2"),
	}
	if err := s.UpsertEntities(ctx, entities); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}
	rel := common.Relation{Source: "Tesla", Target: "SpaceX", Descriptions: []string{"same founder"}, Chunks: []string{"c2"}}
	if err := s.UpsertRelations(ctx, []common.Relation{rel}); err != nil {
		t.Fatalf("UpsertRelations() error = %v", err)
	}

	if err := s.RemoveChunks(ctx, []string{"c2"}); err != nil {
		t.Fatalf("RemoveChunks() error = %v", err)
	}

	if _, err := s.Entity(ctx, "SpaceX"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Entity(SpaceX) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Entity(ctx, "Tesla"); err != nil {
		t.Fatalf("Entity(Tesla) error = %v", err)
	}
	all, err := s.Relations(ctx)
	if err != nil {
		t.Fatalf("Relations() error = %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("len(Relations()) = %d, want 0 after cascade", len(all))
	}
}

func TestGraphPersistenceAcrossSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.gob")

	s := NewGraphStore(path)
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	if err := s.UpsertEntities(ctx, []common.Entity{entityFromChunk("Tesla", "first", "c1")}); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}
	if err := s.InsertDone(ctx); err != nil {
		t.Fatalf("InsertDone() error = %v", err)
	}

	// Second insert session must merge into persisted state.
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	if err := s.UpsertEntities(ctx, []common.Entity{entityFromChunk("Tesla", "second", "c2")}); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}
	if err := s.InsertDone(ctx); err != nil {
		t.Fatalf("InsertDone() error = %v", err)
	}

	if err := s.QueryStart(ctx); err != nil {
		t.Fatalf("QueryStart() error = %v", err)
	}
	defer s.QueryDone(ctx)
	e, err := s.Entity(ctx, "Tesla")
	if err != nil {
		t.Fatalf("Entity() error = %v", err)
	}
	if len(e.Descriptions) != 2 || len(e.Chunks) != 2 {
		t.Fatalf("merged entity = %+v, want 2 descriptions and 2 chunks", e)
	}
}
