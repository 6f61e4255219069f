package storage

import (
	"context"
	"testing"
)

func TestBuildManagerDefaults(t *testing.T) {
	t.Setenv("DATA_ROOT", t.TempDir())
	t.Setenv("VECTOR_BACKEND", "local")
	t.Setenv("GRAPH_BACKEND", "local")
	t.Setenv("KV_BACKEND", "local")
	t.Setenv("BLOB_BACKEND", "local")

	m, pool, blobs, err := BuildManager(context.Background())
	if err != nil {
		t.Fatalf("BuildManager: %v", err)
	}
	if m == nil {
		t.Fatal("expected a manager")
	}
	if pool != nil {
		t.Fatal("no postgres backend selected, pool must be nil")
	}
	if blobs != nil {
		t.Fatal("no s3 backend selected, blob getter must be nil")
	}
}
