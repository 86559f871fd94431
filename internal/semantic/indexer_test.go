package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihavespoons/mci/internal/chunk"
)

func opsFor(ops []string, base string) []string {
	var out []string
	for _, op := range ops {
		if strings.HasSuffix(op, ":"+base) {
			out = append(out, op)
		}
	}
	return out
}

func TestNewIndexerRequiresBackends(t *testing.T) {
	root := t.TempDir()

	_, err := NewIndexer(nil, nil, nil, nil, Options{})
	assert.Error(t, err)

	scanner := newTestIndexer(t, root, chunk.DefaultConfig(), nil, nil, Options{DryRun: true}).scanner
	chunker := newTestIndexer(t, root, chunk.DefaultConfig(), nil, nil, Options{DryRun: true}).chunker

	_, err = NewIndexer(scanner, chunker, nil, newFakeStore(), Options{})
	assert.Error(t, err)
	_, err = NewIndexer(scanner, chunker, &fakeEmbedder{}, nil, Options{})
	assert.Error(t, err)

	idx, err := NewIndexer(scanner, chunker, &fakeEmbedder{}, newFakeStore(), Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, idx.opts.BatchSize)
	assert.Equal(t, DefaultConcurrency, idx.opts.Concurrency)
}

func TestIndexerSkipsUnchangedAndForceReindexes(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.py":     "def f():\n    return 1\n",
		"empty.py": "",
	})
	ctx := testContext()
	emb := &fakeEmbedder{}
	store := newFakeStore()

	stats, err := newTestIndexer(t, root, chunk.DefaultConfig(), emb, store, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesSeen)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Zero(t, stats.FilesFailed)
	assert.Positive(t, stats.ChunksEmitted)
	first := emb.Calls()
	assert.Positive(t, first)

	ops := store.Ops()
	assert.Equal(t, []string{"get:empty.py"}, opsFor(ops, "empty.py"))
	assert.NotContains(t, ops, "delete:a.py")
	assert.Contains(t, ops, "upsert:a.py")

	// unchanged content is not embedded again
	stats, err = newTestIndexer(t, root, chunk.DefaultConfig(), emb, store, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, first, emb.Calls())
	assert.Equal(t, []string{"get:a.py"}, opsFor(store.Ops(), "a.py"))

	// force re-embeds exactly the one non-empty file, deleting first
	stats, err = newTestIndexer(t, root, chunk.DefaultConfig(), emb, store, Options{Force: true}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Greater(t, emb.Calls(), first)

	ops = store.Ops()
	assert.Equal(t, []string{"get:a.py", "delete:a.py", "upsert:a.py"}, opsFor(ops, "a.py"))
	assert.Equal(t, []string{"get:empty.py"}, opsFor(ops, "empty.py"))
}

func TestIndexerReindexesChangedFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.py": "x = 1\n"})
	ctx := testContext()
	store := newFakeStore()

	_, err := newTestIndexer(t, root, chunk.DefaultConfig(), &fakeEmbedder{}, store, Options{}).Run(ctx)
	require.NoError(t, err)
	store.Ops()

	writeFiles(t, root, map[string]string{"a.py": "x = 2\n"})
	stats, err := newTestIndexer(t, root, chunk.DefaultConfig(), &fakeEmbedder{}, store, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, []string{"get:a.py", "delete:a.py", "upsert:a.py"}, store.Ops())

	sum := sha256.Sum256([]byte("x = 2\n"))
	for _, r := range store.ForPath(filepath.Join(root, "a.py")) {
		assert.Equal(t, hex.EncodeToString(sum[:]), r.meta.String("sha256"))
	}
}

func TestIndexerDryRun(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.py":   "def f():\n    return 1\n",
		"b.txt":  "notes\n",
		"c.bin":  "\x00\x01\x02",
		"d/e.go": "package d\n",
	})

	stats, err := newTestIndexer(t, root, chunk.DefaultConfig(), nil, nil, Options{DryRun: true}).Run(testContext())
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Equal(t, 4, stats.FilesSeen)
	assert.Equal(t, 3, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
	// one code chunk and one relpath descriptor per file at least
	assert.GreaterOrEqual(t, stats.ChunksEmitted, 6)
}

func TestIndexerIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"good.py": "print('ok')\n",
		"bad.py":  "print('EXPLODE')\n",
	})
	store := newFakeStore()
	emb := &fakeEmbedder{failMarker: "EXPLODE"}

	stats, err := newTestIndexer(t, root, chunk.DefaultConfig(), emb, store, Options{}).Run(testContext())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, filepath.Join(root, "bad.py"), stats.Errors[0].Path)
	assert.Contains(t, stats.Errors[0].Error, "embedding rejected")

	assert.NotEmpty(t, store.ForPath(filepath.Join(root, "good.py")))
	assert.Empty(t, store.ForPath(filepath.Join(root, "bad.py")))
}

func TestIndexerRemovesPartialWrites(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"two.py": "def one():\n    return 1\n\n\ndef two():\n    return 'BOOM'\n",
	})
	path := filepath.Join(root, "two.py")
	ctx := testContext()
	store := newFakeStore()
	cfg := chunk.DefaultConfig()
	cfg.ChunkSize = 30

	opts := Options{BatchSize: 1}
	stats, err := newTestIndexer(t, root, cfg, &fakeEmbedder{failMarker: "BOOM"}, store, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Zero(t, stats.FilesIndexed)
	assert.Empty(t, store.ForPath(path), "batches stored before the failure must be removed")

	emb := &fakeEmbedder{}
	stats, err = newTestIndexer(t, root, cfg, emb, store, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Zero(t, stats.FilesSkipped)
	assert.Positive(t, emb.Calls())
	assert.NotEmpty(t, store.ForPath(path))
}

func TestIndexerPrune(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"keep.py": "a = 1\n",
		"gone.py": "b = 2\n",
	})
	ctx := testContext()
	store := newFakeStore()

	_, err := newTestIndexer(t, root, chunk.DefaultConfig(), &fakeEmbedder{}, store, Options{}).Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, store.ForPath(filepath.Join(root, "gone.py")))

	require.NoError(t, os.Remove(filepath.Join(root, "gone.py")))

	stats, err := newTestIndexer(t, root, chunk.DefaultConfig(), &fakeEmbedder{}, store, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesPruned)
	assert.NotEmpty(t, store.ForPath(filepath.Join(root, "gone.py")))

	stats, err = newTestIndexer(t, root, chunk.DefaultConfig(), &fakeEmbedder{}, store, Options{Prune: true}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesPruned)
	assert.Empty(t, store.ForPath(filepath.Join(root, "gone.py")))
	assert.NotEmpty(t, store.ForPath(filepath.Join(root, "keep.py")))
}

func TestIndexerMetadata(t *testing.T) {
	root := t.TempDir()
	content := "def f():\n    return 1\n"
	writeFiles(t, root, map[string]string{"pkg/mod.py": content})
	store := newFakeStore()

	idx := newTestIndexer(t, root, chunk.DefaultConfig(), &fakeEmbedder{}, store, Options{})
	idx.now = func() time.Time { return time.Unix(1700000000, 0) }
	_, err := idx.Run(testContext())
	require.NoError(t, err)

	path := filepath.Join(root, "pkg", "mod.py")
	sum := sha256.Sum256([]byte(content))

	var code, rel []fakeRecord
	for _, r := range store.ForPath(path) {
		assert.Equal(t, "pkg/mod.py", r.meta.String("relpath"))
		assert.Equal(t, hex.EncodeToString(sum[:]), r.meta.String("sha256"))
		assert.Equal(t, "python", r.meta.String("language"))
		assert.EqualValues(t, 1700000000, r.meta["created_at"])
		switch r.meta.String("chunk_kind") {
		case KindCode:
			code = append(code, r)
		case KindRelPath:
			rel = append(rel, r)
		}
	}
	require.NotEmpty(t, code)
	require.Len(t, rel, 1)
	assert.Equal(t, "relpath: pkg/mod.py", rel[0].document)

	whole := code[0]
	assert.Contains(t, whole.document, "return 1")
	assert.Equal(t, 1, whole.meta["start_line"])
	assert.Equal(t, 1, whole.meta["scope_depth"])
	assert.NotContains(t, whole.meta, "group_id")
}

func TestIndexerGroupsSplitFunction(t *testing.T) {
	root := t.TempDir()
	var body strings.Builder
	body.WriteString("def long_function():\n")
	for i := 0; i < 12; i++ {
		body.WriteString("    value = compute_something(value)\n")
	}
	writeFiles(t, root, map[string]string{"long.py": body.String()})

	cfg := chunk.DefaultConfig()
	cfg.Mode = chunk.ModeFunction
	cfg.ChunkSize = 120
	cfg.Overlap = 0
	store := newFakeStore()

	_, err := newTestIndexer(t, root, cfg, &fakeEmbedder{}, store, Options{BatchSize: 2}).Run(testContext())
	require.NoError(t, err)

	var grouped []fakeRecord
	var scopeDescriptors int
	for _, r := range store.ForPath(filepath.Join(root, "long.py")) {
		switch r.meta.String("chunk_kind") {
		case KindCode:
			require.Contains(t, r.meta, "group_id")
			grouped = append(grouped, r)
		case KindScopePath:
			scopeDescriptors++
			assert.True(t, strings.HasPrefix(r.document, "scope_path: "))
			assert.Contains(t, r.document, "function:long_function")
		}
	}
	require.Greater(t, len(grouped), 1)
	assert.Equal(t, len(grouped), scopeDescriptors)

	id := grouped[0].meta.String("group_id")
	indices := make(map[int]bool)
	for _, r := range grouped {
		assert.Equal(t, id, r.meta.String("group_id"))
		indices[r.meta["group_index"].(int)] = true
	}
	for i := range grouped {
		assert.True(t, indices[i], "missing group index %d", i)
	}
}

func TestIndexerCancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.py": "a = 1\n"})
	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := newTestIndexer(t, root, chunk.DefaultConfig(), &fakeEmbedder{}, newFakeStore(), Options{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
