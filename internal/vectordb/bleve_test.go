package vectordb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBleveStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keywords.bleve")

	s, err := NewBleveStore(path, "col")
	require.NoError(t, err)
	assert.True(t, s.Ping(ctx))

	meta, err := s.GetOneByPath(ctx, "/src/a.py")
	require.NoError(t, err)
	assert.Nil(t, meta)

	ids, docs, embs, metas := records("/src/a.py", "abc", 3)
	require.NoError(t, s.Upsert(ctx, ids, docs, embs, metas))
	ids, docs, embs, metas = records("/src/b.py", "def", 2)
	require.NoError(t, s.Upsert(ctx, ids, docs, embs, metas))

	meta, err = s.GetOneByPath(ctx, "/src/a.py")
	require.NoError(t, err)
	assert.Equal(t, "abc", meta.String("sha256"))

	paths, err := s.Paths(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/src/a.py", "/src/b.py"}, paths)

	require.NoError(t, s.DeleteByPath(ctx, "/src/a.py"))
	n, err := s.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, s.Close())

	reopened, err := NewBleveStore(path, "col")
	require.NoError(t, err)
	defer reopened.Close()
	meta, err = reopened.GetOneByPath(ctx, "/src/b.py")
	require.NoError(t, err)
	assert.Equal(t, "def", meta.String("sha256"))
}

func TestBleveStoreLengthMismatch(t *testing.T) {
	s, err := NewBleveStore(filepath.Join(t.TempDir(), "k.bleve"), "col")
	require.NoError(t, err)
	defer s.Close()

	err = s.Upsert(context.Background(), []string{"a"}, []string{"x"}, nil, []Metadata{{}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestBleveStoreCollectionsShareIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.bleve")

	first, err := NewBleveStore(path, "first")
	require.NoError(t, err)
	ids, docs, embs, metas := records("/one/a.py", "abc", 2)
	require.NoError(t, first.Upsert(ctx, ids, docs, embs, metas))
	require.NoError(t, first.Close())

	second, err := NewBleveStore(path, "second")
	require.NoError(t, err)
	ids, docs, embs, metas = records("/two/b.py", "def", 1)
	require.NoError(t, second.Upsert(ctx, ids, docs, embs, metas))

	paths, err := second.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/two/b.py"}, paths)

	meta, err := second.GetOneByPath(ctx, "/one/a.py")
	require.NoError(t, err)
	assert.Nil(t, meta, "other collections are invisible")

	// pruning from the second collection leaves the first intact
	require.NoError(t, second.DeleteByPath(ctx, "/one/a.py"))
	n, err := second.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, second.Close())

	first, err = NewBleveStore(path, "first")
	require.NoError(t, err)
	defer first.Close()
	paths, err = first.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/one/a.py"}, paths)
	n, err = first.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestBleveStoreOpenErrorKeepsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.bleve")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("not json"), 0o644))

	_, err := NewBleveStore(path, "col")
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	require.NoError(t, err)
	assert.Equal(t, "not json", string(data))
}
