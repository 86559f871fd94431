package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider(t *testing.T) {
	var batches [][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "nomic-embed-text", req.Model)
			batches = append(batches, req.Input)

			embeddings := make([][]float64, len(req.Input))
			for i, in := range req.Input {
				embeddings[i] = []float64{float64(len(in))}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "nomic-embed-text:latest"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p, err := NewOllamaProvider(&Config{Endpoint: server.URL + "/", BatchSize: 2, Retry: fastRetry()})
	require.NoError(t, err)

	vecs, err := p.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, batches)

	require.NoError(t, p.CheckAvailable(context.Background()))
}

func TestOllamaProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{}})
		}
	}))
	defer server.Close()

	p, err := NewOllamaProvider(&Config{Endpoint: server.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"x"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)

	assert.ErrorContains(t, p.CheckAvailable(context.Background()), "ollama pull")
}
