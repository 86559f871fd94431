package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ihavespoons/mci/internal/logutil"
)

// HTTPError is a non-retryable error status from an embeddings endpoint
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("embeddings HTTP error: %s %s", e.Status, strings.TrimSpace(e.Body))
}

// APIError is an error object returned in a successful HTTP response
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embeddings API error: %s %s", e.Code, e.Message)
}

// OpenAIProvider implements Provider for OpenAI-compatible embeddings APIs
type OpenAIProvider struct {
	config *Config
	client *http.Client
	url    string
}

// openAIEmbedRequest is the request format for OpenAI embeddings. Input is
// a string for a single text, a list otherwise.
type openAIEmbedRequest struct {
	Model      string `json:"model"`
	Input      any    `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// openAIEmbedResponse is the response format for OpenAI embeddings
type openAIEmbedResponse struct {
	Data []struct {
		Index     *int      `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAIProvider creates a new OpenAI-compatible embedding provider
func NewOpenAIProvider(config *Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := *config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfigs["openai"].BatchSize
	}
	cfg.Retry = cfg.Retry.withDefaults()
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIProvider{
		config: &cfg,
		client: &http.Client{Timeout: timeout},
		url:    EmbeddingsURL(cfg.Endpoint),
	}, nil
}

// EmbeddingsURL builds the endpoint for a base URL. Bases already ending in
// /v1 only get /embeddings appended.
func EmbeddingsURL(base string) string {
	root := strings.TrimRight(base, "/")
	if strings.HasSuffix(root, "/v1") {
		return root + "/embeddings"
	}
	return root + "/v1/embeddings"
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the configured model
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Embed generates embeddings for texts, batching by size and token budget
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	logger := logutil.FromContext(ctx)

	batches, err := Batches(texts, p.config.BatchSize, p.config.TokenLimit)
	if err != nil {
		return nil, err
	}
	logger.Debug("embed batching", "texts", len(texts), "batches", len(batches),
		"max_batch", p.config.BatchSize, "token_limit", p.config.TokenLimit)

	start := time.Now()
	vectors := make([][]float32, 0, len(texts))
	for i, batch := range batches {
		tokens := 0
		for _, t := range batch {
			tokens += EstimateTokens(t)
		}
		logger.Debug("embed batch", "batch", i+1, "texts", len(batch), "tokens", tokens, "model", p.config.Model)

		out, err := p.request(ctx, batch)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, out...)
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	logger.Debug("embed done", "vectors", len(vectors), "dim", dim, "elapsed", time.Since(start))
	return vectors, nil
}

func (p *OpenAIProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openAIEmbedRequest{
		Model:      p.config.Model,
		Input:      texts,
		Dimensions: p.config.Dimensions,
	}
	if len(texts) == 1 {
		reqBody.Input = texts[0]
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	logger := logutil.FromContext(ctx)
	return retryWithBackoff(ctx, p.config.Retry, func(attempt int) ([][]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("embeddings connection error", "error", err, "attempt", attempt+1, "max", p.config.Retry.MaxRetries)
			return nil, retryable(fmt.Errorf("failed to send request: %w", err), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retryable(fmt.Errorf("failed to read response: %w", err), 0)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			after := parseRetryAfter(resp.Header.Get("Retry-After"))
			logger.Warn("embeddings rate limited", "attempt", attempt+1, "max", p.config.Retry.MaxRetries, "retry_after", after)
			return nil, retryable(&HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}, after)
		case resp.StatusCode >= 500:
			logger.Warn("embeddings server error", "status", resp.StatusCode, "attempt", attempt+1, "max", p.config.Retry.MaxRetries)
			return nil, retryable(&HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}, 0)
		case resp.StatusCode >= 400:
			return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
		}

		return parseOpenAIResponse(body, len(texts))
	})
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

var errMalformedResponse = errors.New("invalid embeddings response")

// parseOpenAIResponse orders vectors by their index field and checks the count
func parseOpenAIResponse(body []byte, expected int) ([][]float32, error) {
	var result openAIEmbedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", errMalformedResponse, err)
	}
	if result.Error != nil {
		code := "unknown"
		if result.Error.Code != nil {
			code = fmt.Sprint(result.Error.Code)
		}
		return nil, &APIError{Code: code, Message: result.Error.Message}
	}
	if result.Data == nil {
		return nil, fmt.Errorf("%w: missing 'data' list", errMalformedResponse)
	}

	byIndex := make(map[int][]float32, len(result.Data))
	for _, item := range result.Data {
		if item.Index == nil || item.Embedding == nil {
			continue
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		byIndex[*item.Index] = vec
	}
	if len(byIndex) != expected {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", errMalformedResponse, expected, len(byIndex))
	}

	out := make([][]float32, expected)
	for i := range out {
		vec, ok := byIndex[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing vector %d", errMalformedResponse, i)
		}
		out[i] = vec
	}
	return out, nil
}

// Close releases resources
func (p *OpenAIProvider) Close() error {
	return nil
}

// CheckAvailable checks if the API is accessible
func (p *OpenAIProvider) CheckAvailable(ctx context.Context) error {
	if _, err := p.Embed(ctx, []string{"test"}); err != nil {
		return fmt.Errorf("embeddings API not accessible: %w", err)
	}
	return nil
}
