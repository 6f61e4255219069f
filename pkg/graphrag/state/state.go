// Package state orchestrates the storage workspace of one namespace: it
// owns the insert/query brackets, the entity scoring pipeline that fuses
// vector similarity with graph propagation, and budget-constrained
// context assembly.
package state

import (
	"context"
	"encoding/json"

	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/logger"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

// Options tunes scoring and context assembly. The propagation weights
// are design knobs, not fixed laws; the defaults favor direct vector
// similarity.
type Options struct {
	// Hops is the number of propagation iterations over the graph.
	Hops int
	// Damping is the fraction of a node's score redistributed to its
	// neighbors each hop; the remainder restarts at the seed set.
	Damping float64
	// Alpha weighs vector similarity, Beta the propagated graph score.
	Alpha float64
	Beta  float64
	// TopK bounds the vector search seeding the propagation.
	TopK int
	// Threshold excludes weak vector matches from the seed set.
	Threshold float64
	// TokenBudget caps the assembled context size.
	TokenBudget int
	// Encoder is the tiktoken encoding used for budget counting.
	Encoder string
}

// Defaults fills unset options.
func (o Options) withDefaults() Options {
	if o.Hops == 0 {
		o.Hops = 2
	}
	if o.Damping == 0 {
		o.Damping = 0.85
	}
	if o.Alpha == 0 && o.Beta == 0 {
		o.Alpha, o.Beta = 0.7, 0.3
	}
	if o.TopK == 0 {
		o.TopK = 10
	}
	if o.TokenBudget == 0 {
		o.TokenBudget = 4000
	}
	return o
}

// Manager drives one namespace's workspace. It is not safe for
// concurrent mode transitions; the workspace serializes those.
type Manager struct {
	ws     *storage.Workspace
	client ai.Client
	opts   Options
}

func NewManager(ws *storage.Workspace, client ai.Client, opts Options) *Manager {
	return &Manager{ws: ws, client: client, opts: opts.withDefaults()}
}

func (m *Manager) InsertStart(ctx context.Context) error { return m.ws.InsertStart(ctx) }
func (m *Manager) InsertDone(ctx context.Context) error  { return m.ws.InsertDone(ctx) }
func (m *Manager) QueryStart(ctx context.Context) error  { return m.ws.QueryStart(ctx) }
func (m *Manager) QueryDone(ctx context.Context) error   { return m.ws.QueryDone(ctx) }

// UpsertExtraction merges one batch of extraction output into the
// namespace: chunks into the key-value store, entities and relations
// into the graph, and a fresh embedding for every touched entity.
func (m *Manager) UpsertExtraction(
	ctx context.Context,
	chunks []common.Chunk,
	entities []common.Entity,
	relations []common.Relation,
) error {
	pairs := make([]storage.KVPair, 0, len(chunks))
	for _, c := range chunks {
		raw, err := json.Marshal(c)
		if err != nil {
			return common.NewStorageError("state", "encode chunk", err)
		}
		pairs = append(pairs, storage.KVPair{Key: c.ID, Value: raw})
	}
	if err := m.ws.KV.Upsert(ctx, pairs); err != nil {
		return err
	}

	if err := m.ws.Graph.UpsertEntities(ctx, entities); err != nil {
		return err
	}
	if err := m.ws.Graph.UpsertRelations(ctx, relations); err != nil {
		return err
	}

	// Embed the merged description, not the incoming fragment, so the
	// vector tracks everything known about the entity.
	inputs := make([][]byte, 0, len(entities))
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		merged, err := m.ws.Graph.Entity(ctx, e.Name)
		if err != nil {
			return err
		}
		names = append(names, merged.Name)
		inputs = append(inputs, []byte(merged.Name+"\n"+merged.Description()))
	}
	if len(inputs) == 0 {
		return nil
	}
	vectors, err := m.client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return err
	}
	records := make([]storage.VectorRecord, len(names))
	for i, name := range names {
		records[i] = storage.VectorRecord{
			ID:       name,
			Vector:   vectors[i],
			Metadata: map[string]string{"kind": "entity"},
		}
	}
	return m.ws.Vector.Upsert(ctx, records)
}

// RemoveSource deletes every chunk of one source and the graph evidence
// citing them. Entities left without evidence disappear entirely.
func (m *Manager) RemoveSource(ctx context.Context, sourceID string) error {
	keys, err := m.ws.KV.Keys(ctx)
	if err != nil {
		return err
	}
	var doomed []string
	for _, key := range keys {
		values, err := m.ws.KV.Get(ctx, []string{key})
		if err != nil {
			return err
		}
		if values[0] == nil {
			continue
		}
		var c common.Chunk
		if err := json.Unmarshal(values[0], &c); err != nil {
			continue
		}
		if c.SourceID == sourceID {
			doomed = append(doomed, key)
		}
	}
	if len(doomed) == 0 {
		return nil
	}

	before, err := m.ws.Graph.Entities(ctx)
	if err != nil {
		return err
	}
	if err := m.ws.Graph.RemoveChunks(ctx, doomed); err != nil {
		return err
	}
	after, err := m.ws.Graph.Entities(ctx)
	if err != nil {
		return err
	}
	alive := make(map[string]struct{}, len(after))
	for _, e := range after {
		alive[e.Name] = struct{}{}
	}
	var orphaned []string
	for _, e := range before {
		if _, ok := alive[e.Name]; !ok {
			orphaned = append(orphaned, e.Name)
		}
	}
	if len(orphaned) > 0 {
		if err := m.ws.Vector.Delete(ctx, orphaned); err != nil {
			return err
		}
	}
	if err := m.ws.KV.Delete(ctx, doomed); err != nil {
		return err
	}
	return m.ws.Blob.Delete(ctx, sourceID)
}

// HasData reports whether the namespace holds any indexed content.
func (m *Manager) HasData(ctx context.Context) (bool, error) {
	size, err := m.ws.KV.Size(ctx)
	if err != nil {
		return false, err
	}
	return size > 0, nil
}

// ScoreEntities fuses vector similarity with graph-propagated relevance:
// the top vector matches seed a bounded personalized-PageRank-style
// spread over undirected edges, and the final score is the weighted sum
// of both signals. When the graph cannot be read, scoring degrades to
// the vector signal alone.
func (m *Manager) ScoreEntities(ctx context.Context, queryVec []float32) (map[string]float64, error) {
	seeds, err := m.ws.Vector.KNN(ctx, queryVec, m.opts.TopK, m.opts.Threshold)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return map[string]float64{}, nil
	}

	vecScores := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		vecScores[s.ID] = s.Score
	}

	relations, err := m.ws.Graph.Relations(ctx)
	if err != nil {
		logger.Warn("Graph unreadable, falling back to pure vector scoring", "err", err)
		return vecScores, nil
	}
	adjacency := make(map[string][]string)
	for _, r := range relations {
		adjacency[r.Source] = append(adjacency[r.Source], r.Target)
		adjacency[r.Target] = append(adjacency[r.Target], r.Source)
	}

	graphScores := propagate(vecScores, adjacency, m.opts.Hops, m.opts.Damping)

	combined := make(map[string]float64, len(graphScores))
	for name, g := range graphScores {
		combined[name] = m.opts.Alpha*vecScores[name] + m.opts.Beta*g
	}
	for name, v := range vecScores {
		if _, ok := combined[name]; !ok {
			combined[name] = m.opts.Alpha * v
		}
	}
	return combined, nil
}

// propagate runs hops iterations of damped score spreading: each node
// keeps (1-damping) of its seed score and shares the damped remainder
// uniformly across its neighbors. The result is max-normalized.
func propagate(seed map[string]float64, adjacency map[string][]string, hops int, damping float64) map[string]float64 {
	cur := make(map[string]float64, len(seed))
	for n, s := range seed {
		cur[n] = s
	}

	for h := 0; h < hops; h++ {
		next := make(map[string]float64, len(cur))
		for n, s := range seed {
			next[n] += (1 - damping) * s
		}
		for n, s := range cur {
			neighbors := adjacency[n]
			if len(neighbors) == 0 {
				next[n] += damping * s
				continue
			}
			share := damping * s / float64(len(neighbors))
			for _, nb := range neighbors {
				next[nb] += share
			}
		}
		cur = next
	}

	max := 0.0
	for _, s := range cur {
		if s > max {
			max = s
		}
	}
	if max > 0 {
		for n := range cur {
			cur[n] /= max
		}
	}
	return cur
}
