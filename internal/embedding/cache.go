package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ComputeHash computes the SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// CachedProvider serves repeated texts from an in-memory LRU cache and only
// sends misses to the wrapped provider.
type CachedProvider struct {
	Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps p with a cache of at most size vectors
func NewCachedProvider(p Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedProvider{Provider: p, cache: cache}, nil
}

// Embed returns cached vectors where possible. Returned slices are copies.
func (c *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []string
	var missingIdx []int
	seen := make(map[string]int)

	for i, t := range texts {
		keys[i] = ComputeHash(t)
		if vec, ok := c.cache.Get(keys[i]); ok {
			out[i] = clone(vec)
			continue
		}
		if _, dup := seen[keys[i]]; dup {
			continue
		}
		seen[keys[i]] = len(missing)
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vecs, err := c.Provider.Embed(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", errMalformedResponse, len(missing), len(vecs))
		}
		for j, vec := range vecs {
			c.cache.Add(keys[missingIdx[j]], clone(vec))
		}
		for i := range out {
			if out[i] == nil {
				out[i] = clone(vecs[seen[keys[i]]])
			}
		}
	}

	return out, nil
}

// Len returns the number of cached vectors
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
