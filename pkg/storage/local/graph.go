package local

import (
	"context"
	"os"
	"sort"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

type graphState struct {
	// Entities is keyed by normalized name, Relations by undirected
	// pair key.
	Entities  map[string]common.Entity
	Relations map[string]common.Relation
	NextSeq   int64
}

// GraphStore is the file-backed reference graph backend: entity and
// relation maps persisted as a gob file per namespace.
type GraphStore struct {
	session storage.Session
	path    string
	state   graphState
}

// NewGraphStore creates a graph store persisting to path.
func NewGraphStore(path string) *GraphStore {
	s := &GraphStore{path: path}
	s.session = storage.NewSession(storage.SessionHooks{
		Load:    s.loadState,
		Flush:   s.flushState,
		Release: s.releaseState,
	})
	return s
}

func (s *GraphStore) loadState(ctx context.Context) error {
	s.state = graphState{
		Entities:  make(map[string]common.Entity),
		Relations: make(map[string]common.Relation),
		NextSeq:   1,
	}
	if _, err := loadGob(s.path, &s.state); err != nil {
		return common.NewStorageError("local/graph", "load", err)
	}
	if s.state.Entities == nil {
		s.state.Entities = make(map[string]common.Entity)
	}
	if s.state.Relations == nil {
		s.state.Relations = make(map[string]common.Relation)
	}
	if s.state.NextSeq == 0 {
		s.state.NextSeq = 1
	}
	return nil
}

func (s *GraphStore) flushState(ctx context.Context) error {
	if err := saveGob(s.path, &s.state); err != nil {
		return common.NewStorageError("local/graph", "flush", err)
	}
	return nil
}

func (s *GraphStore) releaseState() {
	s.state = graphState{}
}

func (s *GraphStore) InsertStart(ctx context.Context) error { return s.session.InsertStart(ctx) }
func (s *GraphStore) InsertDone(ctx context.Context) error  { return s.session.InsertDone(ctx) }
func (s *GraphStore) QueryStart(ctx context.Context) error  { return s.session.QueryStart(ctx) }
func (s *GraphStore) QueryDone(ctx context.Context) error   { return s.session.QueryDone(ctx) }

// UpsertEntities merges entities into the graph by normalized name:
// descriptions and chunk evidence are unioned, the type of the first
// insertion wins.
func (s *GraphStore) UpsertEntities(ctx context.Context, entities []common.Entity) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/graph", "upsert entities", err)
	}
	for _, e := range entities {
		name := common.NormalizeName(e.Name)
		if name == "" {
			continue
		}
		existing, ok := s.state.Entities[name]
		if !ok {
			existing = common.Entity{
				Name: name,
				Type: e.Type,
				Seq:  s.state.NextSeq,
			}
			s.state.NextSeq++
		}
		existing.Descriptions = common.AppendUnique(existing.Descriptions, e.Descriptions...)
		existing.Chunks = common.AppendUnique(existing.Chunks, e.Chunks...)
		s.state.Entities[name] = existing
	}
	return nil
}

// UpsertRelations merges relations by undirected entity pair. Relations
// referencing entities not present in the graph are skipped.
func (s *GraphStore) UpsertRelations(ctx context.Context, relations []common.Relation) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/graph", "upsert relations", err)
	}
	for _, r := range relations {
		src := common.NormalizeName(r.Source)
		tgt := common.NormalizeName(r.Target)
		if _, ok := s.state.Entities[src]; !ok {
			continue
		}
		if _, ok := s.state.Entities[tgt]; !ok {
			continue
		}

		key := r.PairKey()
		existing, ok := s.state.Relations[key]
		if !ok {
			existing = common.Relation{
				Source:   src,
				Target:   tgt,
				Strength: r.Strength,
				Seq:      s.state.NextSeq,
			}
			s.state.NextSeq++
		} else if r.Strength > 0 {
			existing.Strength = (existing.Strength + r.Strength) / 2
		}
		existing.Descriptions = common.AppendUnique(existing.Descriptions, r.Descriptions...)
		existing.Chunks = common.AppendUnique(existing.Chunks, r.Chunks...)
		s.state.Relations[key] = existing
	}
	return nil
}

// Entity looks up one entity by normalized name.
func (s *GraphStore) Entity(ctx context.Context, name string) (*common.Entity, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/graph", "entity", err)
	}
	e, ok := s.state.Entities[common.NormalizeName(name)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

// Entities returns all entities ordered by insertion sequence.
func (s *GraphStore) Entities(ctx context.Context) ([]common.Entity, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/graph", "entities", err)
	}
	out := make([]common.Entity, 0, len(s.state.Entities))
	for _, e := range s.state.Entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Relations returns all relations ordered by insertion sequence.
func (s *GraphStore) Relations(ctx context.Context) ([]common.Relation, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/graph", "relations", err)
	}
	out := make([]common.Relation, 0, len(s.state.Relations))
	for _, r := range s.state.Relations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Neighbors returns the names adjacent to name over undirected edges.
func (s *GraphStore) Neighbors(ctx context.Context, name string) ([]string, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/graph", "neighbors", err)
	}
	name = common.NormalizeName(name)
	var out []string
	for _, r := range s.state.Relations {
		switch name {
		case r.Source:
			out = append(out, r.Target)
		case r.Target:
			out = append(out, r.Source)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RemoveChunks deletes chunk ids from all evidence lists and drops
// entities and relations left without evidence.
func (s *GraphStore) RemoveChunks(ctx context.Context, chunkIDs []string) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/graph", "remove chunks", err)
	}
	removed := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		removed[id] = struct{}{}
	}

	for name, e := range s.state.Entities {
		e.Chunks = withoutChunks(e.Chunks, removed)
		if len(e.Chunks) == 0 {
			delete(s.state.Entities, name)
			continue
		}
		s.state.Entities[name] = e
	}
	for key, r := range s.state.Relations {
		r.Chunks = withoutChunks(r.Chunks, removed)
		_, srcOK := s.state.Entities[r.Source]
		_, tgtOK := s.state.Entities[r.Target]
		if len(r.Chunks) == 0 || !srcOK || !tgtOK {
			delete(s.state.Relations, key)
			continue
		}
		s.state.Relations[key] = r
	}
	return nil
}

// Drop removes the persisted file and any in-memory state.
func (s *GraphStore) Drop(ctx context.Context) error {
	s.state = graphState{
		Entities:  make(map[string]common.Entity),
		Relations: make(map[string]common.Relation),
		NextSeq:   1,
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return common.NewStorageError("local/graph", "drop", err)
	}
	return nil
}

func withoutChunks(chunks []string, removed map[string]struct{}) []string {
	out := chunks[:0]
	for _, c := range chunks {
		if _, ok := removed[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
