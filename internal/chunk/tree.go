package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

const defaultCacheSize = 256

// Source describes where a piece of content came from
type Source struct {
	// Path is the file path; it drives language resolution and the file scope
	Path string
	// RelPath is the path shown on the file scope
	RelPath string
	// Language is used when the path does not resolve to a grammar
	Language string
	// Start is the position of the first character; the zero value means (1, 0)
	Start Position
}

// Option configures a TreeChunker
type Option func(*TreeChunker)

// WithLogger sets the logger used for warnings
func WithLogger(logger *slog.Logger) Option {
	return func(t *TreeChunker) {
		t.logger = logger
	}
}

// WithCacheSize bounds the language-guess and filter-pattern caches
func WithCacheSize(n int) Option {
	return func(t *TreeChunker) {
		if n > 0 {
			t.cacheSize = n
		}
	}
}

// TreeChunker splits source files along syntax-tree boundaries, falling back
// to fixed windows when no grammar is available.
type TreeChunker struct {
	cfg       Config
	window    *WindowChunker
	langs     *languageResolver
	filters   *filterSet
	logger    *slog.Logger
	cacheSize int
}

// NewTreeChunker validates cfg and builds a chunker. An unknown or empty mode
// falls back to auto_ast with a warning.
func NewTreeChunker(cfg Config, opts ...Option) (*TreeChunker, error) {
	t := &TreeChunker{logger: slog.Default(), cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(t)
	}

	mode, ok := ParseMode(string(cfg.Mode))
	if !ok {
		t.logger.Warn("unknown chunking mode, defaulting to auto_ast", "mode", cfg.Mode, "valid", ValidModes)
	}
	cfg.Mode = mode
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingUTF8
	}
	if cfg.FiletypeMap == nil {
		cfg.FiletypeMap = DefaultConfig().FiletypeMap
	}

	window, err := NewWindowChunker(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}
	langs, err := newLanguageResolver(cfg.FiletypeMap, t.cacheSize)
	if err != nil {
		return nil, err
	}
	filters, err := newFilterSet(cfg.ChunkFilters, t.cacheSize)
	if err != nil {
		return nil, err
	}

	t.cfg = cfg
	t.window = window
	t.langs = langs
	t.filters = filters
	return t, nil
}

// Config returns the effective configuration
func (t *TreeChunker) Config() Config {
	return t.cfg
}

// ChunkFile reads, decodes and chunks a file. Decoding failures are returned
// as *DecodeError.
func (t *TreeChunker) ChunkFile(ctx context.Context, path, relPath string) (iter.Seq[Chunk], error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t.ChunkBytes(ctx, raw, Source{Path: path, RelPath: relPath})
}

// ChunkBytes decodes raw file content with the configured encoding and
// chunks it. Chunks carry the sha256 of raw.
func (t *TreeChunker) ChunkBytes(ctx context.Context, raw []byte, src Source) (iter.Seq[Chunk], error) {
	text, _, err := Decode(raw, t.cfg.Encoding)
	if err != nil {
		if de, ok := err.(*DecodeError); ok {
			de.Path = src.Path
		}
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return t.chunkContent(ctx, text, hex.EncodeToString(sum[:]), src), nil
}

// ChunkString chunks in-memory content. Chunks carry a content hash only when
// src names a path.
func (t *TreeChunker) ChunkString(ctx context.Context, content string, src Source) iter.Seq[Chunk] {
	sum := ""
	if src.Path != "" {
		h := sha256.Sum256([]byte(content))
		sum = hex.EncodeToString(h[:])
	}
	return t.chunkContent(ctx, content, sum, src)
}

func (t *TreeChunker) chunkContent(ctx context.Context, content, sum string, src Source) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		start := src.Start
		if start == (Position{}) {
			start = Position{Row: 1}
		}
		fileScopes := fileScopePath(src)
		lang, grammar := t.langs.resolve(src.Path, content, src.Language)

		out := func(c Chunk) bool {
			c.Path = src.Path
			c.SHA256 = sum
			c.Language = lang
			return yield(c)
		}

		if t.cfg.ChunkSize < 0 && content != "" {
			out(Chunk{Text: content, Start: start, End: wholeTextEnd(content, start), ScopePath: fileScopes})
			return
		}

		fallback := func() {
			for c := range t.window.Chunks(content, start) {
				c.ScopePath = fileScopes
				if !out(c) {
					return
				}
			}
		}
		if grammar == nil {
			fallback()
			return
		}

		code := []byte(content)
		parser := sitter.NewParser()
		defer parser.Close()
		parser.SetLanguage(grammar)
		tree, err := parser.ParseCtx(ctx, nil, code)
		if err != nil || tree == nil {
			t.logger.Warn("parse failed, using fixed windows", "path", src.Path, "language", lang, "error", err)
			fallback()
			return
		}
		defer tree.Close()

		w := &walker{
			cfg:    t.cfg,
			window: t.window,
			src:    code,
			rec:    recognizerFor(lang),
		}
		rx := t.filters.matcher(lang)
		root := tree.RootNode()

		if t.cfg.Mode == ModeFile {
			w.fileMode(root, maskLines(content, rx), start, fileScopes, out)
			return
		}

		emit := out
		if rx != nil {
			emit = func(c Chunk) bool {
				if rx.MatchString(c.Text) {
					return true
				}
				return out(c)
			}
		}

		if t.cfg.Mode == ModeAutoAST {
			if !t.cfg.TrimGapBlankLines && rx == nil {
				tl := newTiler(code, fileScopes, emit)
				if w.autoNode(root, fileScopes, tl.push) {
					tl.finish()
				}
				return
			}
			w.autoNode(root, fileScopes, emit)
			return
		}
		w.node(root, fileScopes, emit)
	}
}

// fileScopePath returns the file scope for src, if it names a path
func fileScopePath(src Source) []Scope {
	if src.Path == "" {
		return nil
	}
	rel := src.RelPath
	if rel == "" {
		rel = src.Path
		if abs, err := filepath.Abs(src.Path); err == nil {
			if wd, err := os.Getwd(); err == nil {
				if r, err := filepath.Rel(wd, abs); err == nil {
					rel = r
				}
			}
		}
		rel = filepath.ToSlash(rel)
		for strings.HasPrefix(rel, "../") {
			rel = rel[3:]
		}
	}
	return []Scope{{Kind: ScopeFile, Name: filepath.Base(src.Path), RawType: "file", RelPath: rel}}
}

// wholeTextEnd is the end position of a single chunk covering all of text
func wholeTextEnd(text string, start Position) Position {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	col := utf8.RuneCountInString(lines[len(lines)-1]) - 1
	if len(lines) <= 1 {
		col += start.Column
	}
	return Position{Row: start.Row + len(lines) - 1, Column: col}
}
