package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"

	"github.com/phanngoc/notebooklm/pkg/ai"
	"github.com/phanngoc/notebooklm/pkg/common"
)

// Client implements ai.Client against an Ollama server, for fully local
// extraction and embedding.
type Client struct {
	chatModel      string
	extractModel   string
	embeddingModel string
	embeddingDim   int

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	api *api.Client
}

// Params configures a new Client.
type Params struct {
	ChatModel      string
	ExtractModel   string
	EmbeddingModel string
	EmbeddingDim   int

	BaseURL string
	APIKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// New creates a Client talking to the Ollama server at BaseURL (the
// default local address when empty).
func New(params Params) (*Client, error) {
	if params.ChatModel == "" || params.EmbeddingModel == "" {
		return nil, common.NewConfigurationError("ollama: chat and embedding models are required")
	}
	if params.ExtractModel == "" {
		params.ExtractModel = params.ChatModel
	}
	if params.EmbeddingDim <= 0 {
		params.EmbeddingDim = 1024
	}
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 4
	}

	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, common.NewConfigurationError("ollama: invalid base URL %q: %v", params.BaseURL, err)
		}
	} else {
		u = &url.URL{Scheme: "http", Host: "127.0.0.1:11434"}
	}

	httpClient := http.DefaultClient
	if params.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.APIKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	return &Client{
		chatModel:      params.ChatModel,
		extractModel:   params.ExtractModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,
		reqLock:        semaphore.NewWeighted(maxReq),
		api:            api.NewClient(u, httpClient),
	}, nil
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

// Close releases the client.
func (c *Client) Close() error {
	return nil
}
