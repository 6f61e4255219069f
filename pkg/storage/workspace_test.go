package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
	"github.com/phanngoc/notebooklm/pkg/storage/local"
)

func newWorkspace(t *testing.T) *storage.Workspace {
	t.Helper()
	dir := t.TempDir()
	return &storage.Workspace{
		Namespace: common.Namespace{UserID: "u1", ProjectID: "p1"},
		Vector:    local.NewVectorStore(filepath.Join(dir, "vectors.gob")),
		Graph:     local.NewGraphStore(filepath.Join(dir, "graph.gob")),
		KV:        local.NewKVStore(filepath.Join(dir, "kv.gob")),
		Blob:      local.NewBlobStore(filepath.Join(dir, "blobs")),
	}
}

func TestQueryWaitsForOpenInsert(t *testing.T) {
	ctx := context.Background()
	ws := newWorkspace(t)

	if err := ws.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart: %v", err)
	}
	if err := ws.KV.Upsert(ctx, []storage.KVPair{{Key: "chunk-a", Value: []byte("a")}}); err != nil {
		t.Fatalf("Upsert chunk-a: %v", err)
	}

	queryErr := make(chan error, 1)
	go func() { queryErr <- ws.QueryStart(ctx) }()

	select {
	case err := <-queryErr:
		t.Fatalf("query started during open insert (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The waiting query must not flip modes under the open insert.
	if err := ws.KV.Upsert(ctx, []storage.KVPair{{Key: "chunk-b", Value: []byte("b")}}); err != nil {
		t.Fatalf("Upsert chunk-b after query arrived: %v", err)
	}
	if err := ws.InsertDone(ctx); err != nil {
		t.Fatalf("InsertDone: %v", err)
	}

	if err := <-queryErr; err != nil {
		t.Fatalf("QueryStart after insert done: %v", err)
	}
	vals, err := ws.KV.Get(ctx, []string{"chunk-a", "chunk-b"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i, v := range vals {
		if v == nil {
			t.Fatalf("query missing chunk %d from the completed batch", i)
		}
	}
	if err := ws.QueryDone(ctx); err != nil {
		t.Fatalf("QueryDone: %v", err)
	}
}

func TestInsertWaitsForOpenQuery(t *testing.T) {
	ctx := context.Background()
	ws := newWorkspace(t)

	if err := ws.QueryStart(ctx); err != nil {
		t.Fatalf("QueryStart: %v", err)
	}

	insertErr := make(chan error, 1)
	go func() { insertErr <- ws.InsertStart(ctx) }()

	select {
	case err := <-insertErr:
		t.Fatalf("insert started during open query (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := ws.QueryDone(ctx); err != nil {
		t.Fatalf("QueryDone: %v", err)
	}
	if err := <-insertErr; err != nil {
		t.Fatalf("InsertStart after query done: %v", err)
	}
	if err := ws.InsertDone(ctx); err != nil {
		t.Fatalf("InsertDone: %v", err)
	}
}

func TestSessionWaitRespectsContext(t *testing.T) {
	ctx := context.Background()
	ws := newWorkspace(t)

	if err := ws.InsertStart(ctx); err != nil {
		t.Fatalf("InsertStart: %v", err)
	}
	defer ws.InsertDone(ctx)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := ws.QueryStart(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("QueryStart under open insert = %v, want deadline exceeded", err)
	}
}

func TestSharedInsertBrackets(t *testing.T) {
	ctx := context.Background()
	ws := newWorkspace(t)

	if err := ws.InsertStart(ctx); err != nil {
		t.Fatalf("first InsertStart: %v", err)
	}
	if err := ws.InsertStart(ctx); err != nil {
		t.Fatalf("second InsertStart: %v", err)
	}
	if err := ws.InsertDone(ctx); err != nil {
		t.Fatalf("first InsertDone: %v", err)
	}

	// One bracket is still open, so writes stay admitted.
	if err := ws.KV.Upsert(ctx, []storage.KVPair{{Key: "k", Value: []byte("v")}}); err != nil {
		t.Fatalf("Upsert with one bracket left: %v", err)
	}
	if err := ws.InsertDone(ctx); err != nil {
		t.Fatalf("last InsertDone: %v", err)
	}

	if err := ws.QueryStart(ctx); err != nil {
		t.Fatalf("QueryStart: %v", err)
	}
	defer ws.QueryDone(ctx)
	vals, err := ws.KV.Get(ctx, []string{"k"})
	if err != nil || len(vals) != 1 || vals[0] == nil {
		t.Fatalf("Get after close = %v, %v", vals, err)
	}
}
