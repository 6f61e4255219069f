package rediskv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/phanngoc/notebooklm/pkg/storage"
)

func newTestStore(t *testing.T, namespace string) *KVStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "graphrag", namespace)
}

func TestFreeIndexReuse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice_p1")
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}

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

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice_p1")
	if err := s.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	if err := s.Upsert(ctx, []storage.KVPair{{Key: "a", Value: []byte("va")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.Get(ctx, []string{"a", "missing"})
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

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	alice := New(client, "graphrag", "alice_p1")
	bob := New(client, "graphrag", "bob_p1")
	for _, s := range []*KVStore{alice, bob} {
		if err := s.InsertStart(ctx); err != nil {
			t.Fatalf("InsertStart() error = %v", err)
		}
	}

	if err := alice.Upsert(ctx, []storage.KVPair{{Key: "shared-key", Value: []byte("alice")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := bob.Upsert(ctx, []storage.KVPair{{Key: "shared-key", Value: []byte("bob")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := alice.Get(ctx, []string{"shared-key"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got[0]) != "alice" {
		t.Errorf("alice sees %q, want alice", got[0])
	}

	if err := bob.Drop(ctx); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	got, err = alice.Get(ctx, []string{"shared-key"})
	if err != nil {
		t.Fatalf("Get() after foreign Drop error = %v", err)
	}
	if string(got[0]) != "alice" {
		t.Errorf("alice data lost after bob Drop: %q", got[0])
	}
}

func TestModeGuard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice_p1")
	err := s.Upsert(ctx, []storage.KVPair{{Key: "a", Value: []byte("va")}})
	if err == nil {
		t.Fatal("Upsert() without session succeeded, want mode error")
	}
}
