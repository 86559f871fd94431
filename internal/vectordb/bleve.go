package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const blevePage = 1000

// BleveStore is a keyword-only backend: chunk text goes into a bleve
// full-text index and embeddings are not kept. Several collections may
// share one index; every document carries its collection and every query
// is restricted to it.
type BleveStore struct {
	index      bleve.Index
	path       string
	collection string
	mu         sync.RWMutex
}

// chunkDocument is the indexed form of a record
type chunkDocument struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
	RelPath    string `json:"relpath"`
	Language   string `json:"language"`
	Kind       string `json:"chunk_kind"`
	Text       string `json:"text"`
	Metadata   string `json:"metadata"`
}

// NewBleveStore creates or opens an index at path and scopes the store to
// collection
func NewBleveStore(path, collection string) (*BleveStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bleve path is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	index, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create keyword index: %w", err)
		}
	} else if err != nil {
		// the index may hold other collections, so it is never discarded here
		return nil, fmt.Errorf("failed to open keyword index %s: %w", path, err)
	}

	return &BleveStore{index: index, path: path, collection: collection}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "standard"

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = "keyword"

	storedFieldMapping := bleve.NewTextFieldMapping()
	storedFieldMapping.Index = false
	storedFieldMapping.IncludeInAll = false

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("collection", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("path", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("relpath", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("language", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("chunk_kind", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("text", textFieldMapping)
	chunkMapping.AddFieldMappingsAt("metadata", storedFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = chunkMapping
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// Ping reports whether the index is open and readable
func (s *BleveStore) Ping(context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.index.DocCount()
	return err == nil
}

func (s *BleveStore) collectionQuery() *query.TermQuery {
	q := bleve.NewTermQuery(s.collection)
	q.SetField("collection")
	return q
}

func (s *BleveStore) pathQuery(path string) query.Query {
	q := bleve.NewTermQuery(path)
	q.SetField("path")
	return bleve.NewConjunctionQuery(s.collectionQuery(), q)
}

// GetOneByPath returns the stored metadata of one document for path
func (s *BleveStore) GetOneByPath(ctx context.Context, path string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(s.pathQuery(path), 1, 0, false)
	req.Fields = []string{"metadata"}
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}

	raw, _ := res.Hits[0].Fields["metadata"].(string)
	meta := Metadata{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return meta, nil
}

// DeleteByPath removes all documents for path
func (s *BleveStore) DeleteByPath(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		req := bleve.NewSearchRequestOptions(s.pathQuery(path), blevePage, 0, false)
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		batch := s.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete documents for %s: %w", path, err)
		}
	}
}

// Upsert indexes the documents in one batch. Embeddings are checked for
// length only.
func (s *BleveStore) Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []Metadata) error {
	if err := checkLengths(ids, documents, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for i, id := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", id, err)
		}
		doc := chunkDocument{
			Collection: s.collection,
			Path:       metadatas[i].String("path"),
			RelPath:    metadatas[i].String("relpath"),
			Language:   metadatas[i].String("language"),
			Kind:       metadatas[i].String("chunk_kind"),
			Text:       documents[i],
			Metadata:   string(meta),
		}
		if err := batch.Index(s.docID(id), doc); err != nil {
			return fmt.Errorf("failed to index record %s: %w", id, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.index.Batch(batch)
}

// docID keeps equal record ids of different collections apart
func (s *BleveStore) docID(id string) string {
	return s.collection + "/" + id
}

// Paths pages through the collection's documents and returns the distinct
// paths
func (s *BleveStore) Paths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var paths []string
	for from := 0; ; from += blevePage {
		req := bleve.NewSearchRequestOptions(s.collectionQuery(), blevePage, from, false)
		req.Fields = []string{"path"}
		req.SortBy([]string{"_id"})
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		for _, hit := range res.Hits {
			p, _ := hit.Fields["path"].(string)
			if p != "" && !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
		if len(res.Hits) < blevePage {
			return paths, nil
		}
	}
}

// DocCount returns the number of documents in the collection
func (s *BleveStore) DocCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err := s.index.Search(bleve.NewSearchRequestOptions(s.collectionQuery(), 0, 0, false))
	if err != nil {
		return 0, fmt.Errorf("search failed: %w", err)
	}
	return res.Total, nil
}

// Close closes the index
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

var (
	_ Store      = (*BleveStore)(nil)
	_ PathLister = (*BleveStore)(nil)
)
