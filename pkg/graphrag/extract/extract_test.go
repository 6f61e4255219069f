package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/common"
)

// fakeClient scripts GenerateCompletionWithFormat responses. Each entry
// either fills the out payload or returns an error.
type fakeClient struct {
	calls     int
	responses []func(out any) error
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("unexpected completion call")
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	if f.calls >= len(f.responses) {
		return errors.New("unexpected extra call")
	}
	fn := f.responses[f.calls]
	f.calls++
	return fn(out)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return []float32{0}, nil
}

func (f *fakeClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{0}
	}
	return out, nil
}

func (f *fakeClient) Close() error { return nil }

func initialResponse(entities []extractedEntity, relations []extractedRelation) func(out any) error {
	return func(out any) error {
		p := out.(*extractionPayload)
		p.Entities = entities
		p.Relations = relations
		return nil
	}
}

func gleanResponse(status string, entities []extractedEntity, relations []extractedRelation) func(out any) error {
	return func(out any) error {
		p := out.(*gleanPayload)
		p.Entities = entities
		p.Relations = relations
		p.Status = status
		return nil
	}
}

func failResponse(msg string) func(out any) error {
	return func(out any) error { return errors.New(msg) }
}

func testChunk() common.Chunk {
	return common.Chunk{ID: "chunk-1", Content: "Tesla produces the Model 3."}
}

func TestExtractMergesDuplicateNames(t *testing.T) {
	client := &fakeClient{responses: []func(any) error{
		initialResponse(
			[]extractedEntity{
				{Name: "Tesla", Type: "organization", Description: "An automaker."},
				{Name: "tesla ", Type: "company", Description: "Produces electric cars."},
				{Name: "MODEL 3", Type: "product", Description: "An electric sedan."},
			},
			[]extractedRelation{
				{Source: "Tesla", Target: "Model 3", Description: "Tesla produces the Model 3.", Strength: 9},
			},
		),
	}}
	x, err := New(Params{Client: client})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entities, relations, err := x.Extract(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2 (duplicate names merged)", len(entities))
	}

	var tesla *common.Entity
	for i := range entities {
		if entities[i].Name == "TESLA" {
			tesla = &entities[i]
		}
	}
	if tesla == nil {
		t.Fatal("entity TESLA missing")
	}
	if len(tesla.Descriptions) != 2 {
		t.Errorf("TESLA descriptions = %v, want both fragments", tesla.Descriptions)
	}
	if tesla.Type != "organization" {
		t.Errorf("TESLA type = %q, first type should win", tesla.Type)
	}
	if len(relations) != 1 {
		t.Fatalf("got %d relations, want 1", len(relations))
	}
	if relations[0].Source != "TESLA" || relations[0].Target != "MODEL 3" {
		t.Errorf("relation = %+v", relations[0])
	}
}

func TestGleaningStopsOnDone(t *testing.T) {
	client := &fakeClient{responses: []func(any) error{
		initialResponse([]extractedEntity{{Name: "Tesla", Type: "organization", Description: "Automaker."}}, nil),
		gleanResponse("done", []extractedEntity{{Name: "Model 3", Type: "product", Description: "A sedan."}}, nil),
	}}
	x, err := New(Params{Client: client, MaxGleaning: 5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entities, _, err := x.Extract(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if client.calls != 2 {
		t.Errorf("made %d model calls, want 2 (done stops gleaning)", client.calls)
	}
	if len(entities) != 2 {
		t.Errorf("got %d entities, want 2 (gleaned entity merged)", len(entities))
	}
}

func TestGleaningBudget(t *testing.T) {
	keepGoing := gleanResponse("continue", []extractedEntity{{Name: "More", Type: "concept", Description: "x"}}, nil)
	client := &fakeClient{responses: []func(any) error{
		initialResponse([]extractedEntity{{Name: "Tesla", Type: "organization", Description: "Automaker."}}, nil),
		keepGoing, keepGoing, keepGoing, keepGoing, keepGoing,
	}}
	x, err := New(Params{Client: client, MaxGleaning: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, _, err := x.Extract(context.Background(), testChunk()); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if client.calls != 4 {
		t.Errorf("made %d model calls, want 4 (1 initial + 3 gleaning)", client.calls)
	}
}

func TestGleaningFailureKeepsPriorResults(t *testing.T) {
	client := &fakeClient{responses: []func(any) error{
		initialResponse([]extractedEntity{{Name: "Tesla", Type: "organization", Description: "Automaker."}}, nil),
		failResponse("model returned garbage"),
	}}
	x, err := New(Params{Client: client, MaxGleaning: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entities, _, err := x.Extract(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("Extract() error = %v, failed gleaning must not fail extraction", err)
	}
	if len(entities) != 1 || entities[0].Name != "TESLA" {
		t.Errorf("entities = %v, want the first-pass result", entities)
	}
	if client.calls != 2 {
		t.Errorf("made %d calls, want 2 (failure stops gleaning)", client.calls)
	}
}

func TestFirstPassFailureIsExtractionError(t *testing.T) {
	client := &fakeClient{responses: []func(any) error{
		failResponse("provider unavailable"),
	}}
	x, err := New(Params{Client: client, MaxGleaning: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, err = x.Extract(context.Background(), testChunk())
	var extErr *common.ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("Extract() error = %v, want ExtractionError", err)
	}
	if extErr.ChunkID != "chunk-1" {
		t.Errorf("ChunkID = %q, want chunk-1", extErr.ChunkID)
	}
}

func TestRelationsAgainstSelfSkipped(t *testing.T) {
	client := &fakeClient{responses: []func(any) error{
		initialResponse(
			[]extractedEntity{{Name: "Tesla", Type: "organization", Description: "Automaker."}},
			[]extractedRelation{
				{Source: "Tesla", Target: "tesla", Description: "self loop", Strength: 5},
			},
		),
	}}
	x, err := New(Params{Client: client})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, relations, err := x.Extract(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(relations) != 0 {
		t.Errorf("relations = %v, want self loops dropped", relations)
	}
}
