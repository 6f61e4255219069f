// Package app assembles the engine from the environment: AI adapter
// selection and engine tuning knobs shared by the server and the
// worker.
package app

import (
	"strings"
	"time"

	"github.com/phanngoc/notebooklm/internal/util"
	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/ai/ollama"
	"github.com/phanngoc/notebooklm/pkg/ai/openai"
	"github.com/phanngoc/notebooklm/pkg/graphrag"
)

// NewAIClient builds the model client selected by AI_ADAPTER ("openai"
// by default, "ollama" for local serving).
func NewAIClient() (ai.Client, error) {
	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		client, err := ollama.New(ollama.Params{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			ExtractModel:   util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   int(util.GetEnvNumeric("AI_EMBED_DIM", 0)),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			APIKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 0)),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := openai.New(openai.Params{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			ExtractModel:   util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   int(util.GetEnvNumeric("AI_EMBED_DIM", 0)),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 0)),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// EngineOptions reads the engine tuning knobs. Unset variables keep the
// engine defaults.
func EngineOptions() graphrag.Options {
	var entityTypes []string
	if raw := util.GetEnv("ENTITY_TYPES"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				entityTypes = append(entityTypes, t)
			}
		}
	}

	return graphrag.Options{
		ChunkSize: int(util.GetEnvNumeric("CHUNK_SIZE", 0)),
		Overlap:   int(util.GetEnvNumeric("CHUNK_OVERLAP", 0)),
		Encoder:   util.GetEnv("TOKEN_ENCODER"),

		Domain:      util.GetEnv("GRAPH_DOMAIN"),
		EntityTypes: entityTypes,
		MaxGleaning: int(util.GetEnvNumeric("MAX_GLEANING", 0)),

		Hops:        int(util.GetEnvNumeric("GRAPH_HOPS", 0)),
		Damping:     util.GetEnvNumeric("GRAPH_DAMPING", 0),
		Alpha:       util.GetEnvNumeric("SCORE_ALPHA", 0),
		Beta:        util.GetEnvNumeric("SCORE_BETA", 0),
		TopK:        int(util.GetEnvNumeric("QUERY_TOP_K", 0)),
		Threshold:   util.GetEnvNumeric("QUERY_THRESHOLD", 0),
		TokenBudget: int(util.GetEnvNumeric("QUERY_TOKEN_BUDGET", 0)),

		Concurrency: int(util.GetEnvNumeric("EXTRACT_PARALLEL", 0)),
		Stagger:     time.Duration(util.GetEnvNumeric("EXTRACT_STAGGER_MS", 0)) * time.Millisecond,
	}
}
