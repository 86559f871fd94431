package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider returns the text length as a one-element vector
type countingProvider struct {
	calls [][]string
	err   error
}

func (c *countingProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingProvider) Name() string  { return "counting" }
func (c *countingProvider) Model() string { return "len" }
func (c *countingProvider) Close() error  { return nil }

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{}
	p, err := NewCachedProvider(inner, 16)
	require.NoError(t, err)

	vecs, err := p.Embed(context.Background(), []string{"a", "bb", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {1}}, vecs)
	require.Len(t, inner.calls, 1)
	assert.Equal(t, []string{"a", "bb"}, inner.calls[0], "duplicates are embedded once")

	vecs, err = p.Embed(context.Background(), []string{"bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}}, vecs)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"ccc"}, inner.calls[1], "only misses reach the provider")
	assert.Equal(t, 3, p.Len())

	// mutating a result must not change the cache
	vecs[0][0] = 99
	again, err := p.Embed(context.Background(), []string{"bb"})
	require.NoError(t, err)
	assert.Equal(t, float32(2), again[0][0])
	assert.Len(t, inner.calls, 2)

	assert.Equal(t, "counting", p.Name())
}

func TestCachedProviderError(t *testing.T) {
	inner := &countingProvider{err: assert.AnError}
	p, err := NewCachedProvider(inner, 0)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, p.Len())
}
