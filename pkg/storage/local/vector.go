package local

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

type vectorState struct {
	Records map[string]storage.VectorRecord
}

// VectorStore is the file-backed reference vector backend: brute-force
// cosine search over an in-memory record map, persisted as a gob file
// per namespace. Suited to development and small graphs; production
// deployments use the pgvector backend.
type VectorStore struct {
	session storage.Session
	path    string
	state   vectorState
}

// NewVectorStore creates a vector store persisting to path.
func NewVectorStore(path string) *VectorStore {
	s := &VectorStore{path: path}
	s.session = storage.NewSession(storage.SessionHooks{
		Load:    s.loadState,
		Flush:   s.flushState,
		Release: s.releaseState,
	})
	return s
}

func (s *VectorStore) loadState(ctx context.Context) error {
	s.state = vectorState{Records: make(map[string]storage.VectorRecord)}
	if _, err := loadGob(s.path, &s.state); err != nil {
		return common.NewStorageError("local/vector", "load", err)
	}
	if s.state.Records == nil {
		s.state.Records = make(map[string]storage.VectorRecord)
	}
	return nil
}

func (s *VectorStore) flushState(ctx context.Context) error {
	if err := saveGob(s.path, &s.state); err != nil {
		return common.NewStorageError("local/vector", "flush", err)
	}
	return nil
}

func (s *VectorStore) releaseState() {
	s.state = vectorState{}
}

func (s *VectorStore) InsertStart(ctx context.Context) error { return s.session.InsertStart(ctx) }
func (s *VectorStore) InsertDone(ctx context.Context) error  { return s.session.InsertDone(ctx) }
func (s *VectorStore) QueryStart(ctx context.Context) error  { return s.session.QueryStart(ctx) }
func (s *VectorStore) QueryDone(ctx context.Context) error   { return s.session.QueryDone(ctx) }

// Upsert inserts or replaces records by id.
func (s *VectorStore) Upsert(ctx context.Context, records []storage.VectorRecord) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/vector", "upsert", err)
	}
	for _, r := range records {
		s.state.Records[r.ID] = r
	}
	return nil
}

// KNN returns up to topK records by cosine similarity, excluding any
// below threshold.
func (s *VectorStore) KNN(ctx context.Context, query []float32, topK int, threshold float64) ([]storage.Scored, error) {
	if err := s.session.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, common.NewStorageError("local/vector", "knn", err)
	}
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}

	scored := make([]storage.Scored, 0, len(s.state.Records))
	for id, r := range s.state.Records {
		score := cosine(query, r.Vector)
		if score < threshold {
			continue
		}
		scored = append(scored, storage.Scored{ID: id, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Delete removes records by id. Unknown ids are ignored.
func (s *VectorStore) Delete(ctx context.Context, ids []string) error {
	if err := s.session.Require(storage.ModeInsert); err != nil {
		return common.NewStorageError("local/vector", "delete", err)
	}
	for _, id := range ids {
		delete(s.state.Records, id)
	}
	return nil
}

// Drop removes the persisted file and any in-memory state.
func (s *VectorStore) Drop(ctx context.Context) error {
	s.state = vectorState{Records: make(map[string]storage.VectorRecord)}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return common.NewStorageError("local/vector", "drop", err)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
