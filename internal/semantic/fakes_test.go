package semantic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/embedding"
	"github.com/ihavespoons/mci/internal/logutil"
	"github.com/ihavespoons/mci/internal/scan"
	"github.com/ihavespoons/mci/internal/vectordb"
)

// fakeEmbedder returns the text length as a one-element vector and fails
// for any text containing failMarker.
type fakeEmbedder struct {
	mu         sync.Mutex
	calls      int
	texts      int
	failMarker string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failMarker != "" && strings.Contains(t, f.failMarker) {
			return nil, fmt.Errorf("embedding rejected")
		}
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecord struct {
	document string
	meta     vectordb.Metadata
}

// fakeStore keeps records in memory and logs every operation
type fakeStore struct {
	mu      sync.Mutex
	records map[string]fakeRecord
	ops     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]fakeRecord)}
}

func (s *fakeStore) Ping(context.Context) bool { return true }

func (s *fakeStore) GetOneByPath(_ context.Context, path string) (vectordb.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "get:"+filepath.Base(path))
	for _, r := range s.records {
		if r.meta.String("path") == path {
			return r.meta, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) DeleteByPath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "delete:"+filepath.Base(path))
	for id, r := range s.records {
		if r.meta.String("path") == path {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *fakeStore) Upsert(_ context.Context, ids, documents []string, embeddings [][]float32, metadatas []vectordb.Metadata) error {
	if len(ids) != len(documents) || len(ids) != len(embeddings) || len(ids) != len(metadatas) {
		return vectordb.ErrLengthMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) > 0 {
		s.ops = append(s.ops, "upsert:"+filepath.Base(metadatas[0].String("path")))
	}
	for i, id := range ids {
		s.records[id] = fakeRecord{document: documents[i], meta: metadatas[i]}
	}
	return nil
}

func (s *fakeStore) Paths(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var paths []string
	for _, r := range s.records {
		p := r.meta.String("path")
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (s *fakeStore) Close() error { return nil }

// Ops returns and clears the operation log
func (s *fakeStore) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.ops
	s.ops = nil
	return ops
}

// ForPath returns the records stored for path
func (s *fakeStore) ForPath(path string) []fakeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fakeRecord
	for _, r := range s.records {
		if r.meta.String("path") == path {
			out = append(out, r)
		}
	}
	return out
}

func testContext() context.Context {
	return logutil.WithLogger(context.Background(), logutil.Discard())
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func newTestIndexer(t *testing.T, root string, cfg chunk.Config, embedder embedding.Embedder, store vectordb.Store, opts Options) *Indexer {
	t.Helper()
	scanner, err := scan.New(scan.DefaultConfig(root))
	require.NoError(t, err)
	chunker, err := chunk.NewTreeChunker(cfg, chunk.WithLogger(logutil.Discard()))
	require.NoError(t, err)
	idx, err := NewIndexer(scanner, chunker, embedder, store, opts)
	require.NoError(t, err)
	return idx
}
