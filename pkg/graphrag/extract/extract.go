// Package extract drives the language model to pull entities and
// relationships out of chunks, refining each extraction with a bounded
// gleaning loop.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/logger"
)

// DefaultEntityTypes mirrors the extraction vocabulary the service
// shipped with; callers override per project.
var DefaultEntityTypes = []string{
	"organization", "person", "location", "event", "product",
	"technology", "industry", "mathematical_object", "concept",
}

// DefaultDomain is used when no project domain description is configured.
const DefaultDomain = "Analyze the documents and identify the entities and relationships they describe."

type extractedEntity struct {
	Name        string `json:"entity_name" jsonschema_description:"Name of the entity, all letters capitalized"`
	Type        string `json:"entity_type" jsonschema_description:"Type of the entity"`
	Description string `json:"entity_description" jsonschema_description:"Description of the entity grounded in the passage"`
}

type extractedRelation struct {
	Source      string  `json:"source_entity"`
	Target      string  `json:"target_entity"`
	Description string  `json:"relationship_description"`
	Strength    float64 `json:"relationship_strength" jsonschema_description:"Strength of the relationship, 1 to 10"`
}

type extractionPayload struct {
	Entities  []extractedEntity   `json:"entities"`
	Relations []extractedRelation `json:"relationships"`
}

type gleanPayload struct {
	Entities  []extractedEntity   `json:"entities"`
	Relations []extractedRelation `json:"relationships"`
	Status    string              `json:"status" jsonschema:"enum=continue,enum=done" jsonschema_description:"done when nothing further is missing"`
}

// Extractor extracts one chunk at a time. Safe for concurrent use.
type Extractor struct {
	client      ai.Client
	domain      string
	entityTypes []string
	maxGleaning int
}

// Params configures an Extractor. Zero values fall back to the package
// defaults; MaxGleaning of 0 disables gleaning entirely.
type Params struct {
	Client      ai.Client
	Domain      string
	EntityTypes []string
	MaxGleaning int
}

func New(p Params) (*Extractor, error) {
	if p.Client == nil {
		return nil, common.NewConfigurationError("extractor requires an AI client")
	}
	if p.MaxGleaning < 0 {
		return nil, common.NewConfigurationError("max gleaning steps cannot be negative, got %d", p.MaxGleaning)
	}
	if p.Domain == "" {
		p.Domain = DefaultDomain
	}
	if len(p.EntityTypes) == 0 {
		p.EntityTypes = DefaultEntityTypes
	}
	return &Extractor{
		client:      p.Client,
		domain:      p.Domain,
		entityTypes: p.EntityTypes,
		maxGleaning: p.MaxGleaning,
	}, nil
}

// Extract runs the initial extraction pass and up to maxGleaning
// follow-up passes over one chunk. A failed or malformed gleaning step
// keeps whatever was collected so far; a failed first pass is an
// ExtractionError for the chunk.
func (x *Extractor) Extract(ctx context.Context, chunk common.Chunk) ([]common.Entity, []common.Relation, error) {
	types := strings.Join(x.entityTypes, ", ")

	var first extractionPayload
	err := x.client.GenerateCompletionWithFormat(
		ctx,
		"knowledge_graph_extraction",
		"Entities and relationships extracted from a passage",
		chunk.Content,
		&first,
		ai.WithSystemPrompts(fmt.Sprintf(ai.ExtractPrompt, x.domain, types, types)),
	)
	if err != nil {
		return nil, nil, &common.ExtractionError{ChunkID: chunk.ID, Err: err}
	}

	entities := make(map[string]common.Entity)
	var relations []common.Relation
	mergeBatch(entities, &relations, first.Entities, first.Relations, chunk.ID)

	for step := 0; step < x.maxGleaning; step++ {
		var glean gleanPayload
		err := x.client.GenerateCompletionWithFormat(
			ctx,
			"knowledge_graph_gleaning",
			"Entities and relationships missed by the previous extraction",
			gleanUserPrompt(chunk.Content, entities),
			&glean,
			ai.WithSystemPrompts(fmt.Sprintf(ai.GleanPrompt, types)),
		)
		if err != nil {
			logger.Warn("Gleaning step failed, keeping prior results", "chunk", chunk.ID, "step", step, "err", err)
			break
		}
		mergeBatch(entities, &relations, glean.Entities, glean.Relations, chunk.ID)
		if glean.Status == "done" {
			break
		}
		if len(glean.Entities) == 0 && len(glean.Relations) == 0 {
			break
		}
	}

	out := make([]common.Entity, 0, len(entities))
	for _, e := range entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, mergeRelations(relations), nil
}

func gleanUserPrompt(content string, entities map[string]common.Entity) string {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n\n# Already extracted entities\n")
	b.WriteString(strings.Join(names, ", "))
	return b.String()
}

// mergeBatch folds one model response into the running per-chunk result,
// merging duplicate entity names so the state manager never sees two
// entries for the same name from one chunk.
func mergeBatch(
	entities map[string]common.Entity,
	relations *[]common.Relation,
	newEntities []extractedEntity,
	newRelations []extractedRelation,
	chunkID string,
) {
	for _, e := range newEntities {
		name := common.NormalizeName(e.Name)
		if name == "" {
			continue
		}
		existing, ok := entities[name]
		if !ok {
			existing = common.Entity{Name: name, Type: strings.ToLower(strings.TrimSpace(e.Type))}
		}
		existing.Descriptions = common.AppendUnique(existing.Descriptions, e.Description)
		existing.Chunks = common.AppendUnique(existing.Chunks, chunkID)
		entities[name] = existing
	}
	for _, r := range newRelations {
		src := common.NormalizeName(r.Source)
		tgt := common.NormalizeName(r.Target)
		if src == "" || tgt == "" || src == tgt {
			continue
		}
		*relations = append(*relations, common.Relation{
			Source:       src,
			Target:       tgt,
			Descriptions: common.AppendUnique(nil, r.Description),
			Strength:     r.Strength,
			Chunks:       []string{chunkID},
		})
	}
}

// mergeRelations collapses duplicate pairs within the chunk batch.
func mergeRelations(in []common.Relation) []common.Relation {
	byPair := make(map[string]int, len(in))
	out := make([]common.Relation, 0, len(in))
	for _, r := range in {
		key := r.PairKey()
		if idx, ok := byPair[key]; ok {
			out[idx].Descriptions = common.AppendUnique(out[idx].Descriptions, r.Descriptions...)
			out[idx].Chunks = common.AppendUnique(out[idx].Chunks, r.Chunks...)
			if r.Strength > 0 {
				out[idx].Strength = (out[idx].Strength + r.Strength) / 2
			}
			continue
		}
		byPair[key] = len(out)
		out = append(out, r)
	}
	return out
}

