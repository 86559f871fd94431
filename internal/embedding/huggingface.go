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

// HuggingFaceProvider implements Provider using Hugging Face's Inference API
type HuggingFaceProvider struct {
	config *Config
	client *http.Client
	url    string
}

// huggingFaceRequest is the request format for Hugging Face embeddings
type huggingFaceRequest struct {
	Inputs  interface{}            `json:"inputs"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// NewHuggingFaceProvider creates a new Hugging Face embedding provider
func NewHuggingFaceProvider(config *Config) (*HuggingFaceProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := *config
	def := DefaultConfigs["huggingface"]
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
		// cold starts on the hosted API are slow
		timeout = def.Timeout
	}

	return &HuggingFaceProvider{
		config: &cfg,
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Model,
	}, nil
}

// Name returns the provider name
func (p *HuggingFaceProvider) Name() string {
	return "huggingface"
}

// Model returns the configured model
func (p *HuggingFaceProvider) Model() string {
	return p.config.Model
}

// Embed generates embeddings for texts, one request per batch
func (p *HuggingFaceProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batches, err := Batches(texts, p.config.BatchSize, p.config.TokenLimit)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, 0, len(texts))
	for i, batch := range batches {
		out, err := p.request(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", i+1, err)
		}
		embeddings = append(embeddings, out...)
	}
	return embeddings, nil
}

func (p *HuggingFaceProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := huggingFaceRequest{
		Inputs:  texts,
		Options: map[string]interface{}{"wait_for_model": true},
	}
	if len(texts) == 1 {
		reqBody.Inputs = texts[0]
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
			logger.Warn("hugging face connection error", "error", err, "attempt", attempt+1)
			return nil, retryable(fmt.Errorf("failed to send request to Hugging Face: %w", err), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retryable(fmt.Errorf("failed to read response: %w", err), 0)
		}

		if resp.StatusCode != http.StatusOK {
			var errResp struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
				body = []byte(errResp.Error)
			}
			httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, retryable(httpErr, parseRetryAfter(resp.Header.Get("Retry-After")))
			case resp.StatusCode >= 500:
				return nil, retryable(httpErr, 0)
			}
			return nil, httpErr
		}

		return parseHuggingFaceResponse(body, len(texts))
	})
}

// parseHuggingFaceResponse accepts sentence vectors, a single vector, or
// token-level vectors which are mean pooled
func parseHuggingFaceResponse(body []byte, expected int) ([][]float32, error) {
	var out [][]float32

	var batch [][]float64
	var single []float64
	var tokens [][][]float64
	switch {
	case json.Unmarshal(body, &single) == nil:
		out = [][]float32{toFloat32(single)}
	case json.Unmarshal(body, &batch) == nil:
		if expected == 1 && len(batch) != 1 {
			// token vectors for a single input
			out = [][]float32{meanPool(batch)}
			break
		}
		out = make([][]float32, len(batch))
		for i, v := range batch {
			out[i] = toFloat32(v)
		}
	case json.Unmarshal(body, &tokens) == nil:
		out = make([][]float32, len(tokens))
		for i, t := range tokens {
			out[i] = meanPool(t)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected format", errMalformedResponse)
	}

	if len(out) != expected {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", errMalformedResponse, expected, len(out))
	}
	return out, nil
}

// meanPool averages token embeddings into one vector
func meanPool(tokens [][]float64) []float32 {
	if len(tokens) == 0 {
		return nil
	}
	dim := len(tokens[0])
	pooled := make([]float32, dim)
	for _, tok := range tokens {
		for i, v := range tok {
			if i < dim {
				pooled[i] += float32(v)
			}
		}
	}
	n := float32(len(tokens))
	for i := range pooled {
		pooled[i] /= n
	}
	return pooled
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Close releases resources
func (p *HuggingFaceProvider) Close() error {
	return nil
}

// CheckAvailable checks if the Inference API is accessible
func (p *HuggingFaceProvider) CheckAvailable(ctx context.Context) error {
	if _, err := p.Embed(ctx, []string{"test"}); err != nil {
		return fmt.Errorf("hugging face API not accessible: %w", err)
	}
	return nil
}
