package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultInclude matches every file
var DefaultInclude = []string{"**/*"}

// DefaultExclude skips VCS metadata, virtualenvs, caches and the index directory
var DefaultExclude = []string{
	"**/.git/**",
	"**/.venv/**",
	"**/__pycache__/**",
	"**/.pytest_cache/**",
	"**/node_modules/**",
	"**/.mci/**",
}

// Config controls which files are candidates for indexing
type Config struct {
	Root          string
	Recursive     bool
	IncludeHidden bool
	Include       []string
	Exclude       []string
}

// DefaultConfig returns a recursive scan of root with the default globs
func DefaultConfig(root string) Config {
	return Config{
		Root:      root,
		Recursive: true,
		Include:   append([]string(nil), DefaultInclude...),
		Exclude:   append([]string(nil), DefaultExclude...),
	}
}

// File is a candidate found under the scan root
type File struct {
	Path    string `json:"path"`
	RelPath string `json:"rel_path"`
}

// Scanner enumerates candidate files
type Scanner struct {
	cfg     Config
	root    string
	include *GlobSet
	exclude *GlobSet
}

// New validates the globs and resolves the root to an absolute path
func New(cfg Config) (*Scanner, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	include, err := NewGlobSet(cfg.Include)
	if err != nil {
		return nil, fmt.Errorf("invalid include glob: %w", err)
	}
	exclude, err := NewGlobSet(cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude glob: %w", err)
	}

	return &Scanner{cfg: cfg, root: root, include: include, exclude: exclude}, nil
}

// Root returns the absolute scan root
func (s *Scanner) Root() string {
	return s.root
}

// Matches reports whether a root-relative, slash-separated path is a candidate
func (s *Scanner) Matches(rel string) bool {
	if !s.cfg.IncludeHidden && isHidden(rel) {
		return false
	}
	if s.exclude.Match(rel) {
		return false
	}
	return s.include.Match(rel)
}

// Rel returns the slash-separated path of abs relative to the scan root
func (s *Scanner) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Files walks the root and returns every candidate in walk order
func (s *Scanner) Files(ctx context.Context) ([]File, error) {
	var files []File

	if !s.cfg.Recursive {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.root, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if s.Matches(e.Name()) {
				files = append(files, File{Path: filepath.Join(s.root, e.Name()), RelPath: e.Name()})
			}
		}
		return files, nil
	}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, not fatal
			if d != nil && d.IsDir() && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != s.root && !s.cfg.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := s.Rel(path)
		if err != nil {
			return nil
		}
		if s.Matches(rel) {
			files = append(files, File{Path: path, RelPath: rel})
		}
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}

	return files, nil
}

// Dirs returns the root and every directory a recursive scan would enter
func (s *Scanner) Dirs() ([]string, error) {
	dirs := []string{s.root}
	if !s.cfg.Recursive {
		return dirs, nil
	}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == s.root {
			return nil
		}
		if rel, err := s.Rel(path); err == nil && s.SkipDir(rel) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// SkipDir reports whether a root-relative directory is hidden or excluded
func (s *Scanner) SkipDir(rel string) bool {
	if !s.cfg.IncludeHidden && isHidden(rel) {
		return true
	}
	return s.exclude.Match(rel + "/")
}

func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// GlobSet matches paths against shell-style patterns. A '*' also crosses
// '/', and a leading "**/" is optional so root-level files match too.
type GlobSet struct {
	patterns []glob.Glob
}

// NewGlobSet compiles patterns
func NewGlobSet(patterns []string) (*GlobSet, error) {
	gs := &GlobSet{}
	for _, p := range patterns {
		g, err := compileGlob(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		gs.patterns = append(gs.patterns, g)
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			g, err := compileGlob(rest)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", p, err)
			}
			gs.patterns = append(gs.patterns, g)
		}
	}
	return gs, nil
}

// Match reports whether any pattern matches the whole path
func (g *GlobSet) Match(path string) bool {
	for _, p := range g.patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// compileGlob compiles without separators so wildcards span directories.
// An unterminated character class is taken literally.
func compileGlob(pattern string) (glob.Glob, error) {
	if strings.LastIndex(pattern, "[") > strings.LastIndex(pattern, "]") {
		pattern = glob.QuoteMeta(pattern)
	}
	return glob.Compile(pattern)
}
