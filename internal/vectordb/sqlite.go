package vectordb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/viterin/vek/vek32"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a local SQLite database. Several collections
// can share one database file.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	collection string
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path, collection string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:         db,
		path:       path,
		collection: collection,
	}

	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// init creates the database schema
func (s *SQLiteStore) init() error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			id TEXT NOT NULL,
			collection TEXT NOT NULL,
			path TEXT NOT NULL,
			document TEXT NOT NULL,
			embedding BLOB,
			metadata TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_records_path ON records(collection, path);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping reports whether the database answers queries
func (s *SQLiteStore) Ping(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// GetOneByPath returns the metadata of one record for path
func (s *SQLiteStore) GetOneByPath(ctx context.Context, path string) (Metadata, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM records WHERE collection = ? AND path = ? LIMIT 1`,
		s.collection, path,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

// DeleteByPath removes all records for path
func (s *SQLiteStore) DeleteByPath(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND path = ?`, s.collection, path)
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Upsert inserts or replaces records in one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []Metadata) error {
	if err := checkLengths(ids, documents, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO records (id, collection, path, document, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, id := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx,
			id,
			s.collection,
			metadatas[i].String("path"),
			documents[i],
			encodeVector(normalize(embeddings[i])),
			string(meta),
		); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Paths returns every indexed path in the collection
func (s *SQLiteStore) Paths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT path FROM records WHERE collection = ? ORDER BY path`, s.collection)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Count returns the number of records in the collection
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, s.collection).Scan(&count)
	return count, err
}

// Embedding returns the stored (normalized) vector for id
func (s *SQLiteStore) Embedding(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM records WHERE collection = ? AND id = ?`, s.collection, id,
	).Scan(&blob)
	if err != nil {
		return nil, err
	}
	return decodeVector(blob)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// normalize scales v to unit length; zero vectors are returned unchanged
func normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	norm := float32(math.Sqrt(float64(vek32.Dot(v, v))))
	if norm == 0 {
		return v
	}
	return vek32.MulNumber(v, 1/norm)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

var (
	_ Store      = (*SQLiteStore)(nil)
	_ PathLister = (*SQLiteStore)(nil)
)
