// Package graphrag is the public entry point of the graph-augmented
// retrieval engine: insert raw text to grow a per-namespace knowledge
// graph, query it for grounded natural-language answers.
package graphrag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/graphrag/chunker"
	"github.com/phanngoc/notebooklm/pkg/graphrag/extract"
	"github.com/phanngoc/notebooklm/pkg/graphrag/state"
	"github.com/phanngoc/notebooklm/pkg/limiter"
	"github.com/phanngoc/notebooklm/pkg/logger"
	"github.com/phanngoc/notebooklm/pkg/storage/manager"
)

// Options configures the engine. Zero values take the documented
// defaults.
type Options struct {
	ChunkSize int // tokens per chunk, default 1200
	Overlap   int // token overlap between chunks, default 100
	Encoder   string

	Domain      string
	EntityTypes []string
	MaxGleaning int // extra extraction passes per chunk, default 1

	Hops        int
	Damping     float64
	Alpha       float64
	Beta        float64
	TopK        int
	Threshold   float64
	TokenBudget int

	Concurrency int           // concurrent chunk extractions, default 8
	Stagger     time.Duration // minimum interval between extraction starts
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = 1200
	}
	if o.Overlap == 0 {
		o.Overlap = 100
		// The defaulted overlap must stay below an explicit small chunk
		// size; an explicit overlap that does not is a caller error.
		if o.Overlap >= o.ChunkSize {
			o.Overlap = o.ChunkSize / 10
		}
	}
	if o.MaxGleaning == 0 {
		o.MaxGleaning = 1
	}
	if o.Concurrency == 0 {
		o.Concurrency = 8
	}
	return o
}

// Engine coordinates chunking, extraction and the state manager. One
// engine serves all namespaces; per-namespace state lives in the
// storage manager's workspaces.
type Engine struct {
	client  ai.Client
	stores  *manager.Manager
	limiter *limiter.Limiter
	chunker *chunker.Chunker
	opts    Options
}

// New validates the options and builds the engine. The AI client is
// shared across requests and closed by the caller at shutdown.
func New(client ai.Client, stores *manager.Manager, opts Options) (*Engine, error) {
	if client == nil {
		return nil, common.NewConfigurationError("engine requires an AI client")
	}
	if stores == nil {
		return nil, common.NewConfigurationError("engine requires a storage manager")
	}
	opts = opts.withDefaults()

	ch, err := chunker.New(opts.ChunkSize, opts.Overlap, opts.Encoder)
	if err != nil {
		return nil, err
	}
	lim, err := limiter.New(int64(opts.Concurrency), opts.Stagger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		client:  client,
		stores:  stores,
		limiter: lim,
		chunker: ch,
		opts:    opts,
	}, nil
}

// InsertRequest carries one document (or fragment) for ingestion.
type InsertRequest struct {
	Namespace common.Namespace
	Content   string
	// SourceID groups chunks for later per-source deletion. Empty means
	// the content hash of the whole text.
	SourceID string
	// EntityTypes overrides the engine's extraction vocabulary.
	EntityTypes []string
}

// InsertResult reports best-effort ingestion: chunks whose extraction
// failed are absent from the graph but do not fail the insert unless
// nothing succeeded.
type InsertResult struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Chunks       int    `json:"chunks"`
	ChunksFailed int    `json:"chunks_failed"`
}

// QueryRequest asks a natural-language question against one namespace.
type QueryRequest struct {
	Namespace           common.Namespace
	Query               string
	MaxResults          int
	SimilarityThreshold float64
	// EntityTypes filters the entities admitted into the answer context.
	EntityTypes []string
}

// QueryResult carries the synthesized answer and the context that
// grounded it.
type QueryResult struct {
	Response string         `json:"response"`
	Context  *state.Context `json:"context,omitempty"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
}

func (e *Engine) stateOptions(topK int, threshold float64) state.Options {
	if topK <= 0 {
		topK = e.opts.TopK
	}
	return state.Options{
		Hops:        e.opts.Hops,
		Damping:     e.opts.Damping,
		Alpha:       e.opts.Alpha,
		Beta:        e.opts.Beta,
		TopK:        topK,
		Threshold:   threshold,
		TokenBudget: e.opts.TokenBudget,
		Encoder:     e.opts.Encoder,
	}
}

func errString(err error) string {
	if common.IsTimeout(err) {
		return fmt.Sprintf("operation timed out: %v", err)
	}
	return err.Error()
}

// Insert chunks the content, extracts a subgraph per chunk with bounded
// concurrency, and merges everything into the namespace graph inside
// one insert session.
func (e *Engine) Insert(ctx context.Context, req InsertRequest) InsertResult {
	if req.Content == "" {
		return InsertResult{Success: true}
	}
	sourceID := req.SourceID
	if sourceID == "" {
		sourceID = chunker.ChunkID("", req.Content)
	}

	ws, err := e.stores.Workspace(req.Namespace)
	if err != nil {
		return InsertResult{Error: errString(err)}
	}
	mgr := state.NewManager(ws, e.client, e.stateOptions(0, e.opts.Threshold))

	chunks := e.chunker.Split(sourceID, req.Content)
	if len(chunks) == 0 {
		return InsertResult{Success: true}
	}

	extractor, err := extract.New(extract.Params{
		Client:      e.client,
		Domain:      e.opts.Domain,
		EntityTypes: firstNonEmpty(req.EntityTypes, e.opts.EntityTypes),
		MaxGleaning: e.opts.MaxGleaning,
	})
	if err != nil {
		return InsertResult{Error: errString(err)}
	}

	type chunkResult struct {
		entities  []common.Entity
		relations []common.Relation
		err       error
	}
	results := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			err := e.limiter.Do(gctx, func(ctx context.Context) error {
				entities, relations, err := extractor.Extract(ctx, chunk)
				if err != nil {
					return err
				}
				results[i] = chunkResult{entities: entities, relations: relations}
				return nil
			})
			if err != nil {
				var extErr *common.ExtractionError
				if common.IsTimeout(err) || errors.As(err, &extErr) {
					// Best effort: a failed chunk is skipped, siblings
					// keep going.
					logger.Warn("Chunk extraction failed, skipping", "chunk", chunk.ID, "err", err)
					results[i] = chunkResult{err: err}
					return nil
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return InsertResult{Error: errString(err), Chunks: len(chunks)}
	}

	var (
		okChunks  []common.Chunk
		entities  []common.Entity
		relations []common.Relation
		failed    int
		firstErr  error
	)
	for i, r := range results {
		if r.err != nil {
			failed++
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		okChunks = append(okChunks, chunks[i])
		entities = append(entities, r.entities...)
		relations = append(relations, r.relations...)
	}
	if len(okChunks) == 0 {
		return InsertResult{Error: errString(firstErr), Chunks: len(chunks), ChunksFailed: failed}
	}

	if err := mgr.InsertStart(ctx); err != nil {
		return InsertResult{Error: errString(err), Chunks: len(chunks), ChunksFailed: failed}
	}
	if err := ws.Blob.Put(ctx, sourceID, []byte(req.Content)); err != nil {
		mgr.InsertDone(ctx)
		return InsertResult{Error: errString(err), Chunks: len(chunks), ChunksFailed: failed}
	}
	if err := mgr.UpsertExtraction(ctx, okChunks, entities, relations); err != nil {
		mgr.InsertDone(ctx)
		return InsertResult{Error: errString(err), Chunks: len(chunks), ChunksFailed: failed}
	}
	if err := mgr.InsertDone(ctx); err != nil {
		return InsertResult{Error: errString(err), Chunks: len(chunks), ChunksFailed: failed}
	}

	return InsertResult{Success: true, Chunks: len(chunks), ChunksFailed: failed}
}

// Query answers a question from the namespace graph. An empty namespace
// is a successful "no data" result; the model is never called with zero
// grounding.
func (e *Engine) Query(ctx context.Context, req QueryRequest) QueryResult {
	ws, err := e.stores.Workspace(req.Namespace)
	if err != nil {
		return QueryResult{Error: errString(err)}
	}
	mgr := state.NewManager(ws, e.client, e.stateOptions(req.MaxResults, req.SimilarityThreshold))

	if err := mgr.QueryStart(ctx); err != nil {
		return QueryResult{Error: errString(err)}
	}
	defer mgr.QueryDone(ctx)

	hasData, err := mgr.HasData(ctx)
	if err != nil {
		return QueryResult{Error: errString(err)}
	}
	if !hasData {
		return QueryResult{Success: true, Response: ai.NoDataResponse, Context: &state.Context{}}
	}

	queryVec, err := e.client.GenerateEmbedding(ctx, []byte(req.Query))
	if err != nil {
		return QueryResult{Error: errString(err)}
	}
	scores, err := mgr.ScoreEntities(ctx, queryVec)
	if err != nil {
		return QueryResult{Error: errString(err)}
	}
	answerCtx, err := mgr.AssembleContext(ctx, scores)
	if err != nil {
		return QueryResult{Error: errString(err)}
	}
	if len(req.EntityTypes) > 0 {
		answerCtx.Entities = filterByType(answerCtx.Entities, req.EntityTypes)
	}
	if answerCtx.Empty() {
		return QueryResult{Success: true, Response: ai.NoDataResponse, Context: answerCtx}
	}

	response, err := e.client.GenerateCompletion(
		ctx,
		req.Query,
		ai.WithSystemPrompts(fmt.Sprintf(ai.QueryPrompt, answerCtx.Format())),
	)
	if err != nil {
		return QueryResult{Error: errString(err), Context: answerCtx}
	}
	return QueryResult{Success: true, Response: response, Context: answerCtx}
}

// DeleteSource removes one source document and all its derived data
// from the namespace.
func (e *Engine) DeleteSource(ctx context.Context, ns common.Namespace, sourceID string) error {
	ws, err := e.stores.Workspace(ns)
	if err != nil {
		return err
	}
	mgr := state.NewManager(ws, e.client, e.stateOptions(0, e.opts.Threshold))
	if err := mgr.InsertStart(ctx); err != nil {
		return err
	}
	if err := mgr.RemoveSource(ctx, sourceID); err != nil {
		mgr.InsertDone(ctx)
		return err
	}
	return mgr.InsertDone(ctx)
}

// DeleteNamespace wipes a project entirely.
func (e *Engine) DeleteNamespace(ctx context.Context, ns common.Namespace) error {
	return e.stores.DeleteNamespace(ctx, ns)
}

// Close flushes every open storage session.
func (e *Engine) Close(ctx context.Context) error {
	return e.stores.CloseAll(ctx)
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

// filterByType keeps entities whose type matches any of types, ignoring
// case: stored types are lower-cased at extraction time while callers
// send whatever casing their vocabulary uses.
func filterByType(entities []common.Entity, types []string) []common.Entity {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	out := entities[:0]
	for _, e := range entities {
		if _, ok := allowed[strings.ToLower(e.Type)]; ok {
			out = append(out, e)
		}
	}
	return out
}
