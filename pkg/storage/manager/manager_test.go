package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

func TestUnknownBackendName(t *testing.T) {
	_, err := New(Config{DataRoot: t.TempDir(), KVBackend: "cassandra"})
	var cfgErr *common.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigurationError", err)
	}
}

func TestPGBackendRequiresPool(t *testing.T) {
	_, err := New(Config{DataRoot: t.TempDir(), VectorBackend: "pg"})
	var cfgErr *common.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigurationError", err)
	}
}

func TestInvalidNamespace(t *testing.T) {
	m, err := New(Config{DataRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = m.Workspace(common.Namespace{UserID: "alice"})
	var cfgErr *common.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Workspace() error = %v, want ConfigurationError", err)
	}
}

func TestWorkspaceCached(t *testing.T) {
	m, err := New(Config{DataRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ns := common.Namespace{UserID: "alice", ProjectID: "p1"}
	w1, err := m.Workspace(ns)
	if err != nil {
		t.Fatalf("Workspace() error = %v", err)
	}
	w2, err := m.Workspace(ns)
	if err != nil {
		t.Fatalf("Workspace() error = %v", err)
	}
	if w1 != w2 {
		t.Error("same namespace returned distinct workspaces")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	m, err := New(Config{DataRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	alice, err := m.Workspace(common.Namespace{UserID: "alice", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Workspace(alice) error = %v", err)
	}
	bob, err := m.Workspace(common.Namespace{UserID: "bob", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Workspace(bob) error = %v", err)
	}

	if err := alice.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	if err := alice.KV.Upsert(ctx, []storage.KVPair{{Key: "doc", Value: []byte("alice data")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := alice.InsertDone(ctx); err != nil {
		t.Fatalf("InsertDone() error = %v", err)
	}

	if err := bob.QueryStart(ctx); err != nil {
		t.Fatalf("QueryStart(bob) error = %v", err)
	}
	defer bob.QueryDone(ctx)
	got, err := bob.KV.Get(ctx, []string{"doc"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got[0] != nil {
		t.Errorf("bob can read alice's data: %q", got[0])
	}
}

func TestDeleteNamespace(t *testing.T) {
	ctx := context.Background()
	m, err := New(Config{DataRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ns := common.Namespace{UserID: "alice", ProjectID: "p1"}

	w, err := m.Workspace(ns)
	if err != nil {
		t.Fatalf("Workspace() error = %v", err)
	}
	if err := w.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart() error = %v", err)
	}
	if err := w.KV.Upsert(ctx, []storage.KVPair{{Key: "doc", Value: []byte("data")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := w.InsertDone(ctx); err != nil {
		t.Fatalf("InsertDone() error = %v", err)
	}

	if err := m.DeleteNamespace(ctx, ns); err != nil {
		t.Fatalf("DeleteNamespace() error = %v", err)
	}

	fresh, err := m.Workspace(ns)
	if err != nil {
		t.Fatalf("Workspace() after delete error = %v", err)
	}
	if fresh == w {
		t.Error("deleted workspace still cached")
	}
	if err := fresh.QueryStart(ctx); err != nil {
		t.Fatalf("QueryStart() error = %v", err)
	}
	defer fresh.QueryDone(ctx)
	size, err := fresh.KV.Size(ctx)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if size != 0 {
		t.Errorf("Size() after delete = %d, want 0", size)
	}
}
