package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestOpenAI(t *testing.T, url string, mutate func(*Config)) *OpenAIProvider {
	t.Helper()
	cfg := &Config{
		Provider:  "openai",
		Model:     "test-model",
		Endpoint:  url,
		APIKey:    "test-key",
		BatchSize: 8,
		Retry:     fastRetry(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	p, err := NewOpenAIProvider(cfg)
	require.NoError(t, err)
	return p
}

// embeddingServer answers with one vector per input, echoing the input
// position in the first component. Items are returned in reverse order.
func embeddingServer(t *testing.T, requests *[]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if requests != nil {
			*requests = append(*requests, body)
		}

		n := 1
		if list, ok := body["input"].([]any); ok {
			n = len(list)
		}
		data := make([]map[string]any, 0, n)
		for i := n - 1; i >= 0; i-- {
			data = append(data, map[string]any{"index": i, "embedding": []float64{float64(i), 0.5}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestEmbeddingsURL(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1/embeddings", EmbeddingsURL("https://api.openai.com"))
	assert.Equal(t, "https://api.openai.com/v1/embeddings", EmbeddingsURL("https://api.openai.com/"))
	assert.Equal(t, "https://openrouter.ai/api/v1/embeddings", EmbeddingsURL("https://openrouter.ai/api/v1"))
	assert.Equal(t, "https://openrouter.ai/api/v1/embeddings", EmbeddingsURL("https://openrouter.ai/api/v1/"))
}

func TestOpenAIProviderEmbed(t *testing.T) {
	t.Run("preserves input order by index", func(t *testing.T) {
		var requests []map[string]any
		server := embeddingServer(t, &requests)
		defer server.Close()

		p := newTestOpenAI(t, server.URL, nil)
		vecs, err := p.Embed(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		for i, v := range vecs {
			assert.Equal(t, float32(i), v[0])
		}
		require.Len(t, requests, 1)
		assert.Equal(t, "test-model", requests[0]["model"])
		assert.NotContains(t, requests[0], "dimensions")
	})

	t.Run("single input is sent as a string", func(t *testing.T) {
		var requests []map[string]any
		server := embeddingServer(t, &requests)
		defer server.Close()

		p := newTestOpenAI(t, server.URL, func(c *Config) { c.Dimensions = 64 })
		_, err := p.Embed(context.Background(), []string{"only"})
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, "only", requests[0]["input"])
		assert.EqualValues(t, 64, requests[0]["dimensions"])
	})

	t.Run("batches by size", func(t *testing.T) {
		var requests []map[string]any
		server := embeddingServer(t, &requests)
		defer server.Close()

		p := newTestOpenAI(t, server.URL, func(c *Config) { c.BatchSize = 2 })
		vecs, err := p.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
		require.NoError(t, err)
		assert.Len(t, vecs, 5)
		assert.Len(t, requests, 3)
	})

	t.Run("empty input makes no request", func(t *testing.T) {
		p := newTestOpenAI(t, "http://127.0.0.1:1", nil)
		vecs, err := p.Embed(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, vecs)
	})

	t.Run("oversized input fails before any request", func(t *testing.T) {
		p := newTestOpenAI(t, "http://127.0.0.1:1", func(c *Config) { c.TokenLimit = 2 })
		_, err := p.Embed(context.Background(), []string{"short", "this text is far too long"})
		var tle *TokenLimitError
		require.ErrorAs(t, err, &tle)
		assert.Equal(t, 1, tle.Index)
	})
}

func TestOpenAIProviderRetries(t *testing.T) {
	t.Run("retries rate limits and server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch calls.Add(1) {
			case 1:
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
			case 2:
				w.WriteHeader(http.StatusBadGateway)
			default:
				_ = json.NewEncoder(w).Encode(map[string]any{
					"data": []map[string]any{{"index": 0, "embedding": []float64{1}}},
				})
			}
		}))
		defer server.Close()

		p := newTestOpenAI(t, server.URL, nil)
		vecs, err := p.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1}}, vecs)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad key"}`))
		}))
		defer server.Close()

		p := newTestOpenAI(t, server.URL, nil)
		_, err := p.Embed(context.Background(), []string{"x"})
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		p := newTestOpenAI(t, server.URL, nil)
		_, err := p.Embed(context.Background(), []string{"x"})
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.EqualValues(t, 3, calls.Load())
	})
}

func TestOpenAIProviderErrorPayloads(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "error object",
			body: `{"error":{"code":"invalid_model","message":"no such model"}}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "invalid_model", apiErr.Code)
			},
		},
		{
			name: "missing data",
			body: `{"object":"list"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, errMalformedResponse))
			},
		},
		{
			name: "count mismatch",
			body: `{"data":[{"index":0,"embedding":[1]}]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "expected 2 vectors, got 1")
			},
		},
		{
			name: "not json",
			body: `<html>`,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, errMalformedResponse))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := newTestOpenAI(t, server.URL, nil)
			_, err := p.Embed(context.Background(), []string{"a", "b"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(&Config{Provider: "openai"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewProvider(&Config{Provider: "cohere"})
	assert.Error(t, err)

	p, err := NewProvider(&Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "nomic-embed-text", p.Model())

	p, err = NewProvider(&Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", p.Model())
}
