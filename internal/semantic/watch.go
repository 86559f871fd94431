package semantic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ihavespoons/mci/internal/logutil"
	"github.com/ihavespoons/mci/internal/scan"
)

// DefaultDebounce is the quiet period before pending changes are indexed
const DefaultDebounce = 500 * time.Millisecond

// Watcher keeps an index current by re-indexing files as they change
type Watcher struct {
	idx      *Indexer
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
	flush   chan struct{}
}

// NewWatcher creates a watcher for the indexer's scan root
func NewWatcher(idx *Indexer, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		idx:      idx,
		debounce: debounce,
		pending:  make(map[string]bool),
		flush:    make(chan struct{}, 1),
	}
}

// Run watches until ctx is cancelled. ready, when set, is called once all
// directories are registered.
func (w *Watcher) Run(ctx context.Context, ready func()) error {
	logger := logutil.FromContext(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dirs, err := w.idx.scanner.Dirs()
	if err != nil {
		return fmt.Errorf("failed to list watch directories: %w", err)
	}
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	logger.Info("watching", "root", w.idx.scanner.Root(), "dirs", len(dirs), "debounce", w.debounce)
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		case <-w.flush:
			w.process(ctx)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, err := w.idx.scanner.Rel(event.Name)
	if err != nil {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.idx.scanner.SkipDir(rel) {
				if err := watcher.Add(event.Name); err != nil {
					logutil.FromContext(ctx).Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return
		}
	}

	if !w.idx.scanner.Matches(rel) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[event.Name] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.flush <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// process indexes or removes every pending path
func (w *Watcher) process(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()
	sort.Strings(paths)

	logger := logutil.FromContext(ctx)
	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		if err := w.sync(ctx, p); err != nil {
			logger.Error("failed to update index", "path", p, "error", err)
		}
	}
}

func (w *Watcher) sync(ctx context.Context, path string) error {
	logger := logutil.FromContext(ctx)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := w.idx.RemoveFile(ctx, path); err != nil {
			return err
		}
		logger.Info("[UPDATE] removed vectors for deleted file", "path", path)
		return nil
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	rel, err := w.idx.scanner.Rel(path)
	if err != nil {
		return err
	}
	indexed, n, err := w.idx.IndexFile(ctx, scan.File{Path: filepath.Clean(path), RelPath: rel})
	if err != nil {
		return err
	}
	if indexed {
		logger.Info("reindexed", "path", path, "chunks", n)
	}
	return nil
}
