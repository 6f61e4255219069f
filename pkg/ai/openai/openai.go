package openai

import (
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"

	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/common"
)

// Client implements ai.Client against an OpenAI-compatible API. Separate
// underlying clients are kept for chat and embeddings so the two
// capabilities can point at different endpoints.
//
// A Client should be created with New and closed at process shutdown.
type Client struct {
	chatModel      string
	extractModel   string
	embeddingModel string
	embeddingDim   int

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	chat      *openai.Client
	embedding *openai.Client
}

// Params configures a new Client.
//
// ChatModel is used for answer synthesis, ExtractModel for structured
// extraction (falls back to ChatModel when empty), EmbeddingModel for
// embeddings. EmbeddingDim is the expected vector dimensionality; short
// provider responses are zero-padded to it.
type Params struct {
	ChatModel      string
	ExtractModel   string
	EmbeddingModel string
	EmbeddingDim   int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	MaxConcurrentRequests int64
}

// New creates a Client. Missing credentials for either endpoint are a
// configuration error: the engine cannot operate without both chat and
// embedding capability.
func New(params Params) (*Client, error) {
	if params.ChatKey == "" {
		return nil, common.NewConfigurationError("openai: missing chat API key")
	}
	if params.EmbeddingKey == "" {
		params.EmbeddingKey = params.ChatKey
		params.EmbeddingURL = params.ChatURL
	}
	if params.ChatModel == "" || params.EmbeddingModel == "" {
		return nil, common.NewConfigurationError("openai: chat and embedding models are required")
	}
	if params.ExtractModel == "" {
		params.ExtractModel = params.ChatModel
	}
	if params.EmbeddingDim <= 0 {
		params.EmbeddingDim = 1536
	}
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 256
	}

	return &Client{
		chatModel:      params.ChatModel,
		extractModel:   params.ExtractModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,
		reqLock:        semaphore.NewWeighted(maxReq),
		chat:           newAPIClient(params.ChatURL, params.ChatKey),
		embedding:      newAPIClient(params.EmbeddingURL, params.EmbeddingKey),
	}, nil
}

func newAPIClient(baseURL, apiKey string) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(options...)
	return &client
}

// Metrics returns the accumulated token usage across all calls.
func (c *Client) Metrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *Client) addMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs
}

// Close releases the client. The underlying HTTP clients keep no
// persistent connections that need explicit teardown.
func (c *Client) Close() error {
	return nil
}
