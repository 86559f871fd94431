package vectordb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
)

// Metadata is the flat attribute map stored alongside each record
type Metadata map[string]any

// String returns the string value for key, or "" when absent
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

var (
	// ErrLengthMismatch is returned by Upsert when its slices differ in length
	ErrLengthMismatch = errors.New("ids, documents, embeddings and metadatas must have equal lengths")
	// ErrUnknownBackend is returned for an unsupported store name
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Store is the interface for record storage backends. A record is an id, the
// chunk text, its embedding and its metadata; records are grouped by the
// "path" metadata key.
type Store interface {
	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) bool

	// GetOneByPath returns the metadata of any record for path, nil when none exists
	GetOneByPath(ctx context.Context, path string) (Metadata, error)

	// DeleteByPath removes every record for path
	DeleteByPath(ctx context.Context, path string) error

	// Upsert inserts or replaces records. All slices must have equal lengths.
	Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []Metadata) error

	// Close releases resources
	Close() error
}

// PathLister is implemented by stores that can enumerate indexed paths
type PathLister interface {
	Paths(ctx context.Context) ([]string, error)
}

// Backend names
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
	BackendBleve  = "bleve"
)

// Config selects and configures a backend
type Config struct {
	Backend string
	// Collection scopes records to one indexed root
	Collection string
	SQLitePath string
	QdrantURL  string
	BlevePath  string
}

// New opens the configured backend
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.SQLitePath, cfg.Collection)
	case BackendQdrant:
		return NewQdrantStore(ctx, cfg.QdrantURL, cfg.Collection)
	case BackendBleve:
		return NewBleveStore(cfg.BlevePath, cfg.Collection)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// CollectionName derives a stable collection name from a root directory:
// the first 63 hex characters of the sha256 of its absolute cleaned path.
func CollectionName(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(sum[:])[:63], nil
}

func checkLengths(ids, documents []string, embeddings [][]float32, metadatas []Metadata) error {
	n := len(ids)
	if len(documents) != n || len(embeddings) != n || len(metadatas) != n {
		return fmt.Errorf("%w: %d ids, %d documents, %d embeddings, %d metadatas",
			ErrLengthMismatch, n, len(documents), len(embeddings), len(metadatas))
	}
	return nil
}
