package boltkv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/phanngoc/notebooklm/pkg/storage"
)

func TestFreeIndexReuse(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "kv.db"))
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	defer s.InsertDone(ctx)

	pairs := []storage.KVPair{
		{Key: "a", Value: []byte("va")},
		{Key: "b", Value: []byte("vb")},
		{Key: "c", Value: []byte("vc")},
	}
	if err := s.Upsert(ctx, pairs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	bIdx, found, err := s.Index(ctx, "b")
	if err != nil || !found {
		t.Fatalf("Index(b) = %d, %v, %v", bIdx, found, err)
	}
	if err := s.Delete(ctx, []string{"b"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Upsert(ctx, []storage.KVPair{{Key: "d", Value: []byte("vd")}}); err != nil {
		t.Fatalf("Upsert(d) error = %v", err)
	}

	dIdx, found, err := s.Index(ctx, "d")
	if err != nil || !found {
		t.Fatalf("Index(d) = %d, %v, %v", dIdx, found, err)
	}
	if dIdx != bIdx {
		t.Errorf("d was assigned index %d, want recycled index %d", dIdx, bIdx)
	}

	size, err := s.Size(ctx)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if size != 3 {
		t.Errorf("Size() = %d, want 3", size)
	}
}

func TestPersistenceAcrossSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s := New(path)
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	if err := s.Upsert(ctx, []storage.KVPair{{Key: "a", Value: []byte("va")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.InsertDone(ctx); err != nil {
		t.Fatalf("InsertDone() error = %v", err)
	}

	s2 := New(path)
	if err := s2.QueryStart(ctx); err != nil {
		t.Fatalf("QueryStart() error = %v", err)
	}
	defer s2.QueryDone(ctx)

	got, err := s2.Get(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got[0]) != "va" {
		t.Errorf("got[0] = %q, want va", got[0])
	}
	if got[1] != nil {
		t.Errorf("got[1] = %q, want nil", got[1])
	}
}

func TestKeysOrderedByIndex(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "kv.db"))
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	defer s.InsertDone(ctx)

	if err := s.Upsert(ctx, []storage.KVPair{
		{Key: "z", Value: []byte("1")},
		{Key: "a", Value: []byte("2")},
		{Key: "m", Value: []byte("3")},
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"z", "a", "m"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestModeGuard(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "kv.db"))
	if err := s.Upsert(ctx, []storage.KVPair{{Key: "a", Value: []byte("va")}}); err == nil {
		t.Fatal("Upsert() without session succeeded, want mode error")
	}
}
