// Package jina implements the embedding provider and tokenizer ports
// against a Jina-style long-context embedding API. One client serves both
// ports: /v1/embeddings for vectors and /v1/segment for provider-family
// token counting and splitting.
package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

var (
	_ driven.EmbeddingProvider = (*Client)(nil)
	_ driven.Tokenizer         = (*Client)(nil)
)

// Known context windows and dimensions per model. Unknown models fall back
// to the v3 values.
var modelDefaults = map[string]struct {
	dimensions    int
	contextTokens int
}{
	"jina-embeddings-v3":          {1024, 8192},
	"jina-embeddings-v2-base-en":  {768, 8192},
	"jina-embeddings-v2-small-en": {512, 8192},
}

// Config holds the provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Dimensions overrides the model's default embedding width when the
	// deployment requests truncated vectors.
	Dimensions int

	// MaxContextTokens overrides the model's context window.
	MaxContextTokens int

	// Timeout bounds each HTTP call.
	Timeout time.Duration

	// RateLimitRPS caps outgoing requests per second. Zero disables
	// client-side limiting.
	RateLimitRPS float64
}

// DefaultConfig returns the settings for the hosted v3 model.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:      "https://api.jina.ai/v1",
		APIKey:       apiKey,
		Model:        "jina-embeddings-v3",
		Timeout:      60 * time.Second,
		RateLimitRPS: 10,
	}
}

// Client talks to the embedding provider over REST.
type Client struct {
	baseURL          string
	apiKey           string
	model            string
	dimensions       int
	maxContextTokens int
	client           *http.Client
	limiter          *rate.Limiter
}

// NewClient creates the provider client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "jina-embeddings-v3"
	}
	defaults, ok := modelDefaults[model]
	if !ok {
		defaults = modelDefaults["jina-embeddings-v3"]
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = defaults.dimensions
	}
	contextTokens := cfg.MaxContextTokens
	if contextTokens <= 0 {
		contextTokens = defaults.contextTokens
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.jina.ai/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Client{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		apiKey:           cfg.APIKey,
		model:            model,
		dimensions:       dimensions,
		maxContextTokens: contextTokens,
		client:           &http.Client{Timeout: timeout},
		limiter:          limiter,
	}, nil
}

// embeddingRequest is the request body for /v1/embeddings.
type embeddingRequest struct {
	Model        string   `json:"model"`
	Task         string   `json:"task,omitempty"`
	LateChunking bool     `json:"late_chunking,omitempty"`
	Dimensions   int      `json:"dimensions,omitempty"`
	Input        []string `json:"input"`
}

// embeddingResponse is the response from /v1/embeddings.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed returns one vector per input text, in input order. With lateChunking
// set the provider encodes the whole batch as one context window before
// pooling per input, so each vector carries its neighbours' context.
func (c *Client) Embed(ctx context.Context, texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{
		Model:        c.model,
		Task:         string(task),
		LateChunking: lateChunking,
		Dimensions:   c.dimensions,
		Input:        texts,
	}

	var resp embeddingResponse
	if err := c.do(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d embeddings for %d inputs",
			domain.ErrExternal, len(resp.Data), len(texts))
	}

	// Index back into input order; the API reports the position per item.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrExternal, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: no embedding returned for input %d", domain.ErrExternal, i)
		}
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// MaxContextTokens returns the provider's context window in tokens.
func (c *Client) MaxContextTokens() int {
	return c.maxContextTokens
}

// Model returns the model name being used.
func (c *Client) Model() string {
	return c.model
}

// segmentRequest is the request body for /v1/segment.
type segmentRequest struct {
	Content        string `json:"content"`
	ReturnChunks   bool   `json:"return_chunks,omitempty"`
	MaxChunkLength int    `json:"max_chunk_length,omitempty"`
}

// segmentResponse is the response from /v1/segment.
type segmentResponse struct {
	NumTokens int      `json:"num_tokens"`
	Chunks    []string `json:"chunks,omitempty"`
}

// CountTokens returns the token count of one text in the model's own
// tokenizer family.
func (c *Client) CountTokens(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var resp segmentResponse
	if err := c.do(ctx, "/segment", segmentRequest{Content: text}, &resp); err != nil {
		return 0, err
	}
	return resp.NumTokens, nil
}

// CountBatch returns token counts for several texts.
func (c *Client) CountBatch(ctx context.Context, texts []string) ([]int, error) {
	counts := make([]int, len(texts))
	for i, text := range texts {
		n, err := c.CountTokens(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("count text %d: %w", i, err)
		}
		counts[i] = n
	}
	return counts, nil
}

// SplitByTokens splits text into pieces of at most maxTokens tokens, cut at
// token boundaries. The pieces must concatenate back to the input exactly;
// a provider response that loses or rewrites bytes is rejected.
func (c *Client) SplitByTokens(ctx context.Context, text string, maxTokens int) ([]string, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", domain.ErrValidation, maxTokens)
	}
	if text == "" {
		return nil, nil
	}

	req := segmentRequest{
		Content:        text,
		ReturnChunks:   true,
		MaxChunkLength: maxTokens,
	}
	var resp segmentResponse
	if err := c.do(ctx, "/segment", req, &resp); err != nil {
		return nil, err
	}

	if strings.Join(resp.Chunks, "") != text {
		return nil, fmt.Errorf("%w: segmented pieces do not reassemble the input", domain.ErrCorruption)
	}
	return resp.Chunks, nil
}

// HealthCheck verifies the provider is reachable and the key is accepted.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.CountTokens(ctx, "health check")
	return err
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// apiError is the provider's error envelope.
type apiError struct {
	Detail string `json:"detail"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e apiError) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error.Message
}

// do posts one JSON request and decodes the response, classifying failures
// into the retryable and permanent error classes.
func (c *Client) do(ctx context.Context, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: POST %s: %v", domain.ErrTimeout, path, err)
		}
		return fmt.Errorf("%w: POST %s: %v", domain.ErrExternal, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s response: %v", domain.ErrExternal, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", domain.ErrExternal, path, err)
	}
	return nil
}

// statusError maps HTTP statuses onto the error taxonomy: malformed input
// and rejected keys fail fast, provider-side quota exhaustion fails fast,
// everything else is retryable.
func statusError(path string, status int, body []byte) error {
	var envelope apiError
	_ = json.Unmarshal(body, &envelope)
	msg := envelope.message()
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusPaymentRequired:
		return fmt.Errorf("%w: provider: %s", domain.ErrQuotaExceeded, msg)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: provider status %d for %s: %s", domain.ErrTimeout, status, path, msg)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: provider status %d for %s: %s", domain.ErrValidation, status, path, msg)
	default:
		return fmt.Errorf("%w: provider status %d for %s: %s", domain.ErrExternal, status, path, msg)
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
