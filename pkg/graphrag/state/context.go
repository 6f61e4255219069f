package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/logger"
)

// Context is the ranked, budget-constrained grounding for one answer.
type Context struct {
	Entities  []common.Entity   `json:"entities"`
	Relations []common.Relation `json:"relations"`
	Chunks    []common.Chunk    `json:"chunks"`
}

// Empty reports whether nothing survived scoring and budgeting.
func (c *Context) Empty() bool {
	return len(c.Entities) == 0 && len(c.Relations) == 0 && len(c.Chunks) == 0
}

// Format renders the context as the structured text block handed to the
// model for answer synthesis.
func (c *Context) Format() string {
	var b strings.Builder
	if len(c.Entities) > 0 {
		b.WriteString("## Entities\n")
		for _, e := range c.Entities {
			fmt.Fprintf(&b, "- %s (%s): %s\n", e.Name, e.Type, e.Description())
		}
	}
	if len(c.Relations) > 0 {
		b.WriteString("\n## Relationships\n")
		for _, r := range c.Relations {
			fmt.Fprintf(&b, "- %s -> %s: %s\n", r.Source, r.Target, r.Description())
		}
	}
	if len(c.Chunks) > 0 {
		b.WriteString("\n## Source passages\n")
		for i, ch := range c.Chunks {
			fmt.Fprintf(&b, "### Passage %d\n%s\n", i+1, ch.Content)
		}
	}
	return b.String()
}

type scoredItem struct {
	score float64
	seq   int64
}

// byScoreThenRecency orders best score first, most recent insertion
// breaking ties.
func byScoreThenRecency(a, b scoredItem) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.seq > b.seq
}

// AssembleContext scores relations and chunks from the entity scores,
// then greedily packs the best items of each category under the token
// budget. Relation score is the mean of its endpoints; chunk score is
// the best score among the entities and relations citing it.
func (m *Manager) AssembleContext(ctx context.Context, entityScores map[string]float64) (*Context, error) {
	out := &Context{}
	if len(entityScores) == 0 {
		return out, nil
	}

	entities, err := m.ws.Graph.Entities(ctx)
	if err != nil {
		logger.Warn("Graph unreadable, assembling context from chunks only", "err", err)
		entities = nil
	}
	var relations []common.Relation
	if entities != nil {
		relations, err = m.ws.Graph.Relations(ctx)
		if err != nil {
			logger.Warn("Graph relations unreadable", "err", err)
			relations = nil
		}
	}

	type rankedEntity struct {
		e common.Entity
		s scoredItem
	}
	var scoredEntities []rankedEntity
	for _, e := range entities {
		score, ok := entityScores[e.Name]
		if !ok {
			continue
		}
		scoredEntities = append(scoredEntities, rankedEntity{e, scoredItem{score, e.Seq}})
	}
	sort.Slice(scoredEntities, func(i, j int) bool {
		return byScoreThenRecency(scoredEntities[i].s, scoredEntities[j].s)
	})

	type rankedRelation struct {
		r common.Relation
		s scoredItem
	}
	var scoredRelations []rankedRelation
	for _, r := range relations {
		src, srcOK := entityScores[r.Source]
		tgt, tgtOK := entityScores[r.Target]
		if !srcOK && !tgtOK {
			continue
		}
		scoredRelations = append(scoredRelations, rankedRelation{r, scoredItem{(src + tgt) / 2, r.Seq}})
	}
	sort.Slice(scoredRelations, func(i, j int) bool {
		return byScoreThenRecency(scoredRelations[i].s, scoredRelations[j].s)
	})

	// Chunk score: best score among citing entities and relations.
	chunkScores := make(map[string]float64)
	cite := func(chunks []string, score float64) {
		for _, id := range chunks {
			if score > chunkScores[id] {
				chunkScores[id] = score
			}
		}
	}
	for _, se := range scoredEntities {
		cite(se.e.Chunks, se.s.score)
	}
	for _, sr := range scoredRelations {
		cite(sr.r.Chunks, sr.s.score)
	}

	type rankedChunk struct {
		id string
		s  scoredItem
	}
	var scoredChunks []rankedChunk
	for id, score := range chunkScores {
		seq := int64(0)
		if idx, ok, err := m.ws.KV.Index(ctx, id); err == nil && ok {
			seq = idx
		}
		scoredChunks = append(scoredChunks, rankedChunk{id, scoredItem{score, seq}})
	}
	sort.Slice(scoredChunks, func(i, j int) bool {
		if scoredChunks[i].s.score != scoredChunks[j].s.score {
			return scoredChunks[i].s.score > scoredChunks[j].s.score
		}
		if scoredChunks[i].s.seq != scoredChunks[j].s.seq {
			return scoredChunks[i].s.seq > scoredChunks[j].s.seq
		}
		return scoredChunks[i].id < scoredChunks[j].id
	})

	budget := m.opts.TokenBudget
	count := m.tokenCounter()

	for _, se := range scoredEntities {
		cost := count(se.e.Name + " " + se.e.Description())
		if cost > budget {
			break
		}
		budget -= cost
		out.Entities = append(out.Entities, se.e)
	}
	for _, sr := range scoredRelations {
		cost := count(sr.r.Source + " " + sr.r.Target + " " + sr.r.Description())
		if cost > budget {
			break
		}
		budget -= cost
		out.Relations = append(out.Relations, sr.r)
	}
	for _, sc := range scoredChunks {
		values, err := m.ws.KV.Get(ctx, []string{sc.id})
		if err != nil {
			return nil, err
		}
		if values[0] == nil {
			continue
		}
		var chunk common.Chunk
		if err := json.Unmarshal(values[0], &chunk); err != nil {
			continue
		}
		cost := count(chunk.Content)
		if cost > budget {
			break
		}
		budget -= cost
		out.Chunks = append(out.Chunks, chunk)
	}
	return out, nil
}

// tokenCounter returns the budget cost function, tiktoken when the
// encoder loads and rune count otherwise.
func (m *Manager) tokenCounter() func(string) int {
	encoder := m.opts.Encoder
	if encoder == "" {
		encoder = "o200k_base"
	}
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return func(s string) int { return len([]rune(s)) }
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }
}
