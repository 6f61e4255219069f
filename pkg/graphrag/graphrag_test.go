package graphrag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage/manager"
)

// fakeClient scripts structured extraction by scanning the prompt for
// known markers; embeddings come from a keyword table so vector
// similarity is deterministic.
type fakeClient struct {
	mu          sync.Mutex
	completions int

	answer      string
	failMarkers []string
	// marker -> extraction payload JSON
	extractions map[string]string
	embeddings  map[string][]float32
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	f.completions++
	f.mu.Unlock()
	return f.answer, nil
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	switch name {
	case "knowledge_graph_extraction":
		for _, m := range f.failMarkers {
			if strings.Contains(prompt, m) {
				return errors.New("model refused the passage")
			}
		}
		for m, payload := range f.extractions {
			if strings.Contains(prompt, m) {
				return json.Unmarshal([]byte(payload), out)
			}
		}
		return json.Unmarshal([]byte(`{"entities":[],"relationships":[]}`), out)
	case "knowledge_graph_gleaning":
		return json.Unmarshal([]byte(`{"entities":[],"relationships":[],"status":"done"}`), out)
	}
	return fmt.Errorf("unexpected schema %q", name)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	text := strings.ToUpper(string(input))
	for key, vec := range f.embeddings {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec, err := f.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) completionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completions
}

func newTestEngine(t *testing.T, client ai.Client, opts Options) *Engine {
	t.Helper()
	stores, err := manager.New(manager.Config{DataRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	eng, err := New(client, stores, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

var testNS = common.Namespace{UserID: "u1", ProjectID: "p1"}

func TestQueryEmptyNamespace(t *testing.T) {
	client := &fakeClient{answer: "should never be produced"}
	eng := newTestEngine(t, client, Options{})

	res := eng.Query(context.Background(), QueryRequest{
		Namespace: testNS,
		Query:     "What do you know about Tesla?",
	})
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Response != ai.NoDataResponse {
		t.Fatalf("expected no-data response, got %q", res.Response)
	}
	if client.completionCalls() != 0 {
		t.Fatalf("model was called %d times on an empty namespace", client.completionCalls())
	}
}

const teslaExtraction = `{
	"entities": [
		{"entity_name": "TESLA", "entity_type": "organization", "entity_description": "An electric vehicle maker."},
		{"entity_name": "MODEL 3", "entity_type": "product", "entity_description": "A mass market electric sedan."}
	],
	"relationships": [
		{"source_entity": "TESLA", "target_entity": "MODEL 3", "relationship_description": "Tesla manufactures the Model 3.", "relationship_strength": 9}
	]
}`

func TestInsertThenQuery(t *testing.T) {
	client := &fakeClient{
		answer:      "Tesla is an electric vehicle maker; its Model 3 is a mass market sedan.",
		extractions: map[string]string{"Tesla": teslaExtraction},
		embeddings: map[string][]float32{
			"TESLA":   {1, 0, 0},
			"MODEL 3": {0.9, 0.1, 0},
		},
	}
	eng := newTestEngine(t, client, Options{MaxGleaning: 1})
	ctx := context.Background()

	ins := eng.Insert(ctx, InsertRequest{
		Namespace: testNS,
		Content:   "Tesla builds electric vehicles. The Model 3 is its mass market sedan.",
		SourceID:  "doc1",
	})
	if !ins.Success {
		t.Fatalf("insert failed: %q", ins.Error)
	}
	if ins.Chunks != 1 || ins.ChunksFailed != 0 {
		t.Fatalf("got %d chunks, %d failed", ins.Chunks, ins.ChunksFailed)
	}

	res := eng.Query(ctx, QueryRequest{
		Namespace: testNS,
		Query:     "Tell me about Tesla",
	})
	if !res.Success {
		t.Fatalf("query failed: %q", res.Error)
	}
	if res.Response != client.answer {
		t.Fatalf("got response %q", res.Response)
	}
	if res.Context == nil || len(res.Context.Entities) == 0 {
		t.Fatal("expected entities in the answer context")
	}
	if res.Context.Entities[0].Name != "TESLA" {
		t.Fatalf("expected TESLA ranked first, got %q", res.Context.Entities[0].Name)
	}
	if len(res.Context.Chunks) == 0 {
		t.Fatal("expected source passages in the answer context")
	}
}

func TestOptionsDefaultOverlap(t *testing.T) {
	o := Options{ChunkSize: 500}.withDefaults()
	if o.Overlap != 100 {
		t.Fatalf("explicit chunk size lost the overlap default: got %d", o.Overlap)
	}
	small := Options{ChunkSize: 40}.withDefaults()
	if small.Overlap <= 0 || small.Overlap >= small.ChunkSize {
		t.Fatalf("defaulted overlap %d out of range for chunk size %d", small.Overlap, small.ChunkSize)
	}
}

func TestQueryEntityTypeFilterIgnoresCase(t *testing.T) {
	client := &fakeClient{
		answer:      "Tesla is an organization.",
		extractions: map[string]string{"Tesla": teslaExtraction},
		embeddings: map[string][]float32{
			"TESLA":   {1, 0, 0},
			"MODEL 3": {0.9, 0.1, 0},
		},
	}
	eng := newTestEngine(t, client, Options{})
	ctx := context.Background()

	ins := eng.Insert(ctx, InsertRequest{
		Namespace: testNS,
		Content:   "Tesla builds electric vehicles. The Model 3 is its mass market sedan.",
		SourceID:  "doc1",
	})
	if !ins.Success {
		t.Fatalf("insert failed: %q", ins.Error)
	}

	// Stored types are lower-cased; the filter must still match.
	res := eng.Query(ctx, QueryRequest{
		Namespace:   testNS,
		Query:       "Tell me about Tesla",
		EntityTypes: []string{"Organization"},
	})
	if !res.Success {
		t.Fatalf("query failed: %q", res.Error)
	}
	if res.Response == ai.NoDataResponse {
		t.Fatal("type filter emptied the context for a matching type")
	}
	if len(res.Context.Entities) != 1 || res.Context.Entities[0].Name != "TESLA" {
		t.Fatalf("expected only TESLA after filtering, got %+v", res.Context.Entities)
	}
}

func TestInsertPartialExtractionFailure(t *testing.T) {
	client := &fakeClient{
		answer:      "answer",
		failMarkers: []string{"BETA"},
		extractions: map[string]string{
			"ALPHA": `{"entities":[{"entity_name":"ALPHA","entity_type":"concept","entity_description":"First topic."}],"relationships":[]}`,
			"GAMMA": `{"entities":[{"entity_name":"GAMMA","entity_type":"concept","entity_description":"Third topic."}],"relationships":[]}`,
		},
		embeddings: map[string][]float32{
			"ALPHA": {1, 0, 0},
			"GAMMA": {0, 1, 0},
		},
	}
	// Unknown encoder forces rune-count sizing, keeping chunk boundaries
	// deterministic: one paragraph per chunk.
	eng := newTestEngine(t, client, Options{ChunkSize: 40, Overlap: 0, Concurrency: 2, Encoder: "none"})
	ctx := context.Background()

	content := "ALPHA is the first topic here.\n\nBETA is the second topic here.\n\nGAMMA is the third topic here."
	ins := eng.Insert(ctx, InsertRequest{Namespace: testNS, Content: content, SourceID: "doc1"})
	if !ins.Success {
		t.Fatalf("partial failure should still succeed, got error %q", ins.Error)
	}
	if ins.Chunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", ins.Chunks)
	}
	if ins.ChunksFailed != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", ins.ChunksFailed)
	}

	res := eng.Query(ctx, QueryRequest{Namespace: testNS, Query: "ALPHA"})
	if !res.Success {
		t.Fatalf("query failed: %q", res.Error)
	}
	var names []string
	for _, e := range res.Context.Entities {
		names = append(names, e.Name)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "ALPHA") || !strings.Contains(joined, "GAMMA") {
		t.Fatalf("expected surviving chunks' entities, got %v", names)
	}
	if strings.Contains(joined, "BETA") {
		t.Fatalf("failed chunk leaked entities: %v", names)
	}
}

func TestInsertAllChunksFailed(t *testing.T) {
	client := &fakeClient{failMarkers: []string{"topic"}}
	eng := newTestEngine(t, client, Options{ChunkSize: 40, Overlap: 0, Encoder: "none"})

	content := "ALPHA is the first topic here.\n\nBETA is the second topic here."
	ins := eng.Insert(context.Background(), InsertRequest{Namespace: testNS, Content: content, SourceID: "doc1"})
	if ins.Success {
		t.Fatal("insert with zero successful chunks must fail")
	}
	if ins.Error == "" {
		t.Fatal("expected the first extraction error to be reported")
	}
	if ins.ChunksFailed != ins.Chunks {
		t.Fatalf("expected every chunk to fail, got %d of %d", ins.ChunksFailed, ins.Chunks)
	}
}

func TestInsertEmptyContent(t *testing.T) {
	eng := newTestEngine(t, &fakeClient{}, Options{})
	ins := eng.Insert(context.Background(), InsertRequest{Namespace: testNS, Content: "   \n  "})
	if !ins.Success {
		t.Fatalf("empty content insert should be a no-op success, got %q", ins.Error)
	}
	if ins.Chunks != 0 {
		t.Fatalf("expected no chunks, got %d", ins.Chunks)
	}
}

func TestDeleteSource(t *testing.T) {
	client := &fakeClient{
		answer:      "answer",
		extractions: map[string]string{"Tesla": teslaExtraction},
		embeddings:  map[string][]float32{"TESLA": {1, 0, 0}},
	}
	eng := newTestEngine(t, client, Options{})
	ctx := context.Background()

	ins := eng.Insert(ctx, InsertRequest{
		Namespace: testNS,
		Content:   "Tesla builds electric vehicles.",
		SourceID:  "doc1",
	})
	if !ins.Success {
		t.Fatalf("insert failed: %q", ins.Error)
	}
	if err := eng.DeleteSource(ctx, testNS, "doc1"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}

	res := eng.Query(ctx, QueryRequest{Namespace: testNS, Query: "Tesla"})
	if !res.Success {
		t.Fatalf("query failed: %q", res.Error)
	}
	if res.Response != ai.NoDataResponse {
		t.Fatalf("expected no-data response after deletion, got %q", res.Response)
	}
}
