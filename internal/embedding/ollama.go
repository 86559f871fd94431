package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ihavespoons/mci/internal/logutil"
)

// OllamaProvider implements Provider using Ollama's local API
type OllamaProvider struct {
	config   *Config
	client   *http.Client
	endpoint string
}

// ollamaEmbedRequest is the request format for Ollama's batch embed endpoint
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the response format for Ollama's batch embed endpoint
type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewOllamaProvider creates a new Ollama embedding provider
func NewOllamaProvider(config *Config) (*OllamaProvider, error) {
	cfg := *config
	def := DefaultConfigs["ollama"]
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	cfg.Retry = cfg.Retry.withDefaults()
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = def.Timeout
	}

	return &OllamaProvider{
		config:   &cfg,
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the configured model
func (p *OllamaProvider) Model() string {
	return p.config.Model
}

// Embed generates embeddings for texts, one request per batch
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batches, err := Batches(texts, p.config.BatchSize, p.config.TokenLimit)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, 0, len(texts))
	for i, batch := range batches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		out, err := p.request(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", i+1, err)
		}
		embeddings = append(embeddings, out...)
	}

	return embeddings, nil
}

func (p *OllamaProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	logger := logutil.FromContext(ctx)
	url := p.endpoint + "/api/embed"
	return retryWithBackoff(ctx, p.config.Retry, func(attempt int) ([][]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("ollama connection error", "error", err, "attempt", attempt+1)
			return nil, retryable(fmt.Errorf("failed to send request to Ollama: %w", err), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
			if resp.StatusCode >= 500 {
				return nil, retryable(httpErr, 0)
			}
			return nil, httpErr
		}

		var result ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if result.Error != "" {
			return nil, &APIError{Code: "ollama", Message: result.Error}
		}
		if len(result.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", errMalformedResponse, len(texts), len(result.Embeddings))
		}

		out := make([][]float32, len(result.Embeddings))
		for i, emb := range result.Embeddings {
			vec := make([]float32, len(emb))
			for j, v := range emb {
				vec[j] = float32(v)
			}
			out[i] = vec
		}
		return out, nil
	})
}

// Close releases resources
func (p *OllamaProvider) Close() error {
	return nil
}

// CheckAvailable checks if Ollama is available
func (p *OllamaProvider) CheckAvailable(ctx context.Context) error {
	url := p.endpoint + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not running at %s: %w", p.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode model list: %w", err)
	}

	for _, model := range result.Models {
		if model.Name == p.config.Model || model.Name == p.config.Model+":latest" {
			return nil
		}
	}

	return fmt.Errorf("model %s not found in Ollama. Run: ollama pull %s", p.config.Model, p.config.Model)
}

// compile-time interface checks
var (
	_ Provider = (*OllamaProvider)(nil)
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*HuggingFaceProvider)(nil)
	_ Provider = (*CachedProvider)(nil)
)
