package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/embedding"
	"github.com/ihavespoons/mci/internal/logutil"
	"github.com/ihavespoons/mci/internal/scan"
	"github.com/ihavespoons/mci/internal/vectordb"
)

// Defaults for Options
const (
	DefaultBatchSize   = 16
	DefaultConcurrency = 4
)

// Options controls an indexing run
type Options struct {
	// DryRun scans and chunks without touching the embedder or the store
	DryRun bool
	// Force re-embeds files whose content hash is unchanged
	Force bool
	// BatchSize is the number of records embedded and upserted together
	BatchSize int
	// Concurrency bounds the number of files processed at once
	Concurrency int
	// Prune deletes records of paths no longer found by the scan
	Prune bool
}

// FileError records a file that failed to index
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Stats summarizes an indexing run
type Stats struct {
	Root          string        `json:"root"`
	DryRun        bool          `json:"dry_run"`
	FilesSeen     int           `json:"files_seen"`
	FilesIndexed  int           `json:"files_indexed"`
	FilesSkipped  int           `json:"files_skipped"`
	FilesFailed   int           `json:"files_failed"`
	FilesPruned   int           `json:"files_pruned"`
	ChunksEmitted int           `json:"chunks_emitted"`
	Errors        []FileError   `json:"errors,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// outcome of processing one file
type outcome int

const (
	outcomeEmpty outcome = iota
	outcomeIndexed
	outcomeSkipped
)

// Indexer drives scan, hash, chunk, embed and upsert for a source tree
type Indexer struct {
	scanner  *scan.Scanner
	chunker  *chunk.TreeChunker
	embedder embedding.Embedder
	store    vectordb.Store
	opts     Options

	// storeMu serializes every store call across files
	storeMu sync.Mutex
	newID   func() string
	now     func() time.Time
}

// NewIndexer creates an indexer. The embedder and store may be nil for a
// dry run only.
func NewIndexer(scanner *scan.Scanner, chunker *chunk.TreeChunker, embedder embedding.Embedder, store vectordb.Store, opts Options) (*Indexer, error) {
	if scanner == nil || chunker == nil {
		return nil, fmt.Errorf("scanner and chunker are required")
	}
	if !opts.DryRun && (embedder == nil || store == nil) {
		return nil, fmt.Errorf("embedder and store are required unless running dry")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Indexer{
		scanner:  scanner,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		opts:     opts,
		newID:    newID,
		now:      time.Now,
	}, nil
}

// Run indexes every candidate file under the scan root. Per-file failures
// are collected in the stats; the returned error is only set when the run
// itself could not complete.
func (idx *Indexer) Run(ctx context.Context) (*Stats, error) {
	logger := logutil.FromContext(ctx)
	start := time.Now()
	cfg := idx.chunker.Config()
	stats := &Stats{Root: idx.scanner.Root(), DryRun: idx.opts.DryRun}

	logger.Info("indexing start",
		"root", stats.Root, "mode", cfg.Mode, "chunk_size", cfg.ChunkSize,
		"overlap", cfg.Overlap, "dry_run", idx.opts.DryRun, "force", idx.opts.Force)

	files, err := idx.scanner.Files(ctx)
	if err != nil {
		return nil, err
	}
	stats.FilesSeen = len(files)

	var (
		indexed, skipped, failed, chunks atomic.Int32
		mu                               sync.Mutex
	)
	sem := semaphore.NewWeighted(int64(idx.opts.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, f := range files {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			res, n, err := idx.processFile(gctx, f)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				logutil.FromContext(gctx).Error("file failed", "path", f.Path, "error", err)
				mu.Lock()
				stats.Errors = append(stats.Errors, FileError{Path: f.Path, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			switch res {
			case outcomeIndexed:
				indexed.Add(1)
				chunks.Add(int32(n))
			case outcomeSkipped:
				skipped.Add(1)
			}
			return nil
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	stats.FilesIndexed = int(indexed.Load())
	stats.FilesSkipped = int(skipped.Load())
	stats.FilesFailed = int(failed.Load())
	stats.ChunksEmitted = int(chunks.Load())

	if runErr == nil && idx.opts.Prune && !idx.opts.DryRun {
		pruned, err := idx.prune(ctx, files)
		if err != nil {
			logger.Warn("prune failed", "error", err)
		}
		stats.FilesPruned = pruned
	}

	stats.Duration = time.Since(start)
	logger.Info("indexing complete",
		"files_seen", stats.FilesSeen, "files_indexed", stats.FilesIndexed,
		"files_skipped", stats.FilesSkipped, "files_failed", stats.FilesFailed,
		"files_pruned", stats.FilesPruned, "chunks", stats.ChunksEmitted,
		"elapsed", stats.Duration)

	if runErr != nil {
		return stats, fmt.Errorf("indexing interrupted: %w", runErr)
	}
	return stats, nil
}

// IndexFile processes a single candidate file outside a full run. It
// reports whether records were written (or would be, in a dry run) and how
// many.
func (idx *Indexer) IndexFile(ctx context.Context, f scan.File) (bool, int, error) {
	res, n, err := idx.processFile(ctx, f)
	return res == outcomeIndexed, n, err
}

// RemoveFile deletes all records for path
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	if idx.opts.DryRun {
		return nil
	}
	idx.storeMu.Lock()
	defer idx.storeMu.Unlock()
	return idx.store.DeleteByPath(ctx, path)
}

func (idx *Indexer) processFile(ctx context.Context, f scan.File) (outcome, int, error) {
	logger := logutil.FromContext(ctx).With("path", f.Path)
	cfg := idx.chunker.Config()

	if !scan.IsText(f.Path, cfg.Encoding) {
		logger.Debug("[SKIP] non-text file")
		return outcomeSkipped, 0, nil
	}

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return outcomeEmpty, 0, fmt.Errorf("failed to read file: %w", err)
	}
	sum := sha256.Sum256(raw)
	sha := hex.EncodeToString(sum[:])
	fileStart := time.Now()
	logger.Info("[FILE] processing", "relpath", f.RelPath)

	if !idx.opts.DryRun {
		existing, err := idx.existing(ctx, f.Path)
		if err != nil {
			return outcomeEmpty, 0, err
		}
		existingSHA := existing.String("sha256")

		if existing != nil && !idx.opts.Force && existingSHA == sha {
			logger.Info("[SKIP] unchanged (sha256 match)", "elapsed", time.Since(fileStart))
			return outcomeSkipped, 0, nil
		}

		if existing != nil {
			if err := idx.RemoveFile(ctx, f.Path); err != nil {
				return outcomeEmpty, 0, fmt.Errorf("failed to delete existing records: %w", err)
			}
			if existingSHA == sha {
				logger.Info("[UPDATE] force reindex: deleted existing vectors")
			} else {
				logger.Info("[UPDATE] deleted existing vectors")
			}
		} else {
			logger.Info("[UPDATE] no existing vectors found")
		}
	}

	seq, err := idx.chunker.ChunkBytes(ctx, raw, chunk.Source{Path: f.Path, RelPath: f.RelPath})
	if err != nil {
		return outcomeEmpty, 0, err
	}
	chunks := slices.Collect(seq)
	if err := ctx.Err(); err != nil {
		return outcomeEmpty, 0, err
	}
	if len(chunks) == 0 {
		logger.Debug("no chunks emitted")
		return outcomeEmpty, 0, nil
	}

	records := idx.prepare(logger, chunks, f.RelPath)
	logChunking(logger, records, len(chunks))

	if idx.opts.DryRun {
		logger.Info("[DRY_RUN] skipping embedding and upsert", "elapsed", time.Since(fileStart))
		return outcomeIndexed, len(records), nil
	}

	embedTime, upsertTime, err := idx.write(ctx, f, sha, records)
	if err != nil {
		// a file is either stored completely or not at all
		if rmErr := idx.RemoveFile(context.WithoutCancel(ctx), f.Path); rmErr != nil {
			logger.Error("failed to remove partially written records", "error", rmErr)
			return outcomeEmpty, 0, errors.Join(err, fmt.Errorf("failed to remove partial records: %w", rmErr))
		}
		logger.Warn("[UPDATE] removed partially written records", "error", err)
		return outcomeEmpty, 0, err
	}

	logger.Info("[FILE_SUMMARY] chunks processed",
		"chunks", len(records), "elapsed", time.Since(fileStart),
		"embedding", embedTime, "upsert", upsertTime)
	return outcomeIndexed, len(records), nil
}

func (idx *Indexer) existing(ctx context.Context, path string) (vectordb.Metadata, error) {
	idx.storeMu.Lock()
	defer idx.storeMu.Unlock()
	meta, err := idx.store.GetOneByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing records: %w", err)
	}
	return meta, nil
}

// prepare groups code chunks in type and function modes, then appends the
// descriptor chunks
func (idx *Indexer) prepare(logger *slog.Logger, chunks []chunk.Chunk, relPath string) []record {
	records := make([]record, len(chunks))
	for i, c := range chunks {
		records[i] = record{chunk: c, kind: KindCode}
	}

	mode := idx.chunker.Config().Mode
	if mode == chunk.ModeType || mode == chunk.ModeFunction {
		groupRecords(records, idx.newID)
	}
	return expandRecords(logger, records, relPath)
}

// write embeds and upserts records batch by batch
func (idx *Indexer) write(ctx context.Context, f scan.File, sha string, records []record) (time.Duration, time.Duration, error) {
	logger := logutil.FromContext(ctx).With("path", f.Path)
	created := idx.now().Unix()

	n := len(records)
	ids := make([]string, n)
	docs := make([]string, n)
	metas := make([]vectordb.Metadata, n)
	for i, r := range records {
		ids[i] = idx.newID()
		docs[i] = r.chunk.Text
		metas[i] = buildMetadata(r, f.Path, f.RelPath, sha, created)
	}

	logger.Info("[EMBEDDING] processing chunks", "count", n)
	size := idx.opts.BatchSize
	batches := (n + size - 1) / size
	var embedTotal, upsertTotal time.Duration

	for b, i := 1, 0; i < n; b, i = b+1, i+size {
		j := min(i+size, n)
		logger.Info(fmt.Sprintf("[BATCH %d/%d] embedding and upserting", b, batches),
			"from", i, "to", j-1, "count", j-i)

		embedStart := time.Now()
		vecs, err := idx.embedder.Embed(ctx, docs[i:j])
		if err != nil {
			return embedTotal, upsertTotal, fmt.Errorf("failed to embed batch %d: %w", b, err)
		}
		if len(vecs) != j-i {
			return embedTotal, upsertTotal, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), j-i)
		}
		embedElapsed := time.Since(embedStart)
		embedTotal += embedElapsed

		upsertStart := time.Now()
		idx.storeMu.Lock()
		err = idx.store.Upsert(ctx, ids[i:j], docs[i:j], vecs, metas[i:j])
		idx.storeMu.Unlock()
		if err != nil {
			return embedTotal, upsertTotal, fmt.Errorf("failed to upsert batch %d: %w", b, err)
		}
		upsertElapsed := time.Since(upsertStart)
		upsertTotal += upsertElapsed

		logger.Info(fmt.Sprintf("[BATCH %d] done", b),
			"embed", embedElapsed, "upsert", upsertElapsed)
	}

	return embedTotal, upsertTotal, nil
}

// prune deletes records of paths the scan no longer returns
func (idx *Indexer) prune(ctx context.Context, files []scan.File) (int, error) {
	lister, ok := idx.store.(vectordb.PathLister)
	if !ok {
		return 0, nil
	}

	idx.storeMu.Lock()
	paths, err := lister.Paths(ctx)
	idx.storeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to list indexed paths: %w", err)
	}

	current := make(map[string]bool, len(files))
	for _, f := range files {
		current[f.Path] = true
	}

	logger := logutil.FromContext(ctx)
	var pruned int
	var errs []error
	for _, p := range paths {
		if current[p] {
			continue
		}
		if err := idx.RemoveFile(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		logger.Info("[UPDATE] pruned vectors for removed file", "path", p)
		pruned++
	}
	return pruned, errors.Join(errs...)
}

// logChunking reports size statistics overall and per record kind
func logChunking(logger *slog.Logger, records []record, base int) {
	byKind := make(map[string][]int)
	total, lo, hi := 0, -1, 0
	for _, r := range records {
		n := len([]rune(r.chunk.Text))
		byKind[r.kind] = append(byKind[r.kind], n)
		total += n
		if lo < 0 || n < lo {
			lo = n
		}
		hi = max(hi, n)
	}
	logger.Info("[CHUNKING] chunks emitted",
		"base", base, "expanded", len(records),
		"ratio", fmt.Sprintf("%.2f", float64(len(records))/float64(base)),
		"chars", fmt.Sprintf("%d/%d/%d", lo, total/len(records), hi),
		"types", kindSummary(records))

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		lengths := byKind[k]
		sum := 0
		for _, n := range lengths {
			sum += n
		}
		logger.Debug("[CHUNKING] kind stats", "kind", k, "count", len(lengths),
			"chars", fmt.Sprintf("%d/%d/%d", slices.Min(lengths), sum/len(lengths), slices.Max(lengths)))
	}
}
