package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the primary chunking unit
type Mode string

const (
	// ModeFile splits the whole file as plain text
	ModeFile Mode = "file"
	// ModeType makes type containers the primary unit
	ModeType Mode = "type"
	// ModeFunction makes functions the primary unit; small types stay whole
	ModeFunction Mode = "function"
	// ModeAutoAST packs sibling syntax nodes up to the size budget
	ModeAutoAST Mode = "auto_ast"
)

// ValidModes contains all chunking modes
var ValidModes = []Mode{ModeFile, ModeType, ModeFunction, ModeAutoAST}

// ParseMode returns the matching mode. Unknown or empty names return
// ModeAutoAST and false.
func ParseMode(name string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(name)))
	for _, valid := range ValidModes {
		if m == valid {
			return m, true
		}
	}
	return ModeAutoAST, false
}

// Depth is the maximum scope path length the mode produces
func (m Mode) Depth() int {
	switch m {
	case ModeType:
		return 2
	case ModeFunction:
		return 3
	default:
		return 1
	}
}

// allows reports whether scopes of kind k may appear in the mode's boundary prefix
func (m Mode) allows(k ScopeKind) bool {
	switch m {
	case ModeType:
		return k == ScopeFile || k == ScopeType
	case ModeFunction:
		return true
	default:
		return k == ScopeFile
	}
}

// FiletypeRule maps extension patterns to a language. Patterns are regular
// expressions searched in the extension without its leading dot.
type FiletypeRule struct {
	Language string   `yaml:"language" json:"language"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// DefaultFiletypeMap is consulted in order; the first matching rule wins.
var DefaultFiletypeMap = []FiletypeRule{
	{Language: "python", Patterns: []string{`^(py|pyi)$`}},
	{Language: "lua", Patterns: []string{`^lua$`}},
	{Language: "javascript", Patterns: []string{`^(js|mjs|cjs)$`}},
	{Language: "typescript", Patterns: []string{`^(ts|tsx)$`}},
	{Language: "java", Patterns: []string{`^java$`}},
	{Language: "go", Patterns: []string{`^go$`}},
	{Language: "rust", Patterns: []string{`^rs$`}},
	{Language: "c", Patterns: []string{`^c$`}},
	{Language: "cpp", Patterns: []string{`^(cc|cpp|cxx|hpp|hh|hxx)$`}},
	{Language: "html", Patterns: []string{`^(html|htm)$`}},
	{Language: "css", Patterns: []string{`^css$`}},
	{Language: "sql", Patterns: []string{`^sql$`}},
	{Language: "php", Patterns: []string{`^(php|phtml)$`}},
	{Language: "ruby", Patterns: []string{`^rb$`}},
	{Language: "json", Patterns: []string{`^json$`}},
	{Language: "toml", Patterns: []string{`^toml$`}},
	{Language: "yaml", Patterns: []string{`^(yml|yaml)$`}},
	{Language: "bash", Patterns: []string{`^(sh|bash)$`}},
	{Language: "markdown", Patterns: []string{`^(md|markdown)$`}},
}

// Encoding names with special meaning
const (
	EncodingUTF8 = "utf8"
	EncodingAuto = "_auto"
)

var (
	// ErrInvalidOverlap is returned when the overlap ratio is outside [0, 1)
	ErrInvalidOverlap = errors.New("overlap must be in [0, 1)")
	// ErrInvalidChunkSize is returned for a zero chunk size
	ErrInvalidChunkSize = errors.New("chunk size must be positive, or negative for whole-file chunks")
)

// Config controls how source text is split
type Config struct {
	// ChunkSize is the budget in characters. Negative means one chunk per file.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// Overlap is the fraction of a window shared with the next one
	Overlap float64 `yaml:"overlap" json:"overlap"`
	// Encoding is utf8, _auto, or any WHATWG encoding label
	Encoding string `yaml:"encoding" json:"encoding"`
	// ChunkFilters maps a language (or "*") to regexes; matching chunks are dropped
	ChunkFilters map[string][]string `yaml:"chunk_filters,omitempty" json:"chunk_filters,omitempty"`
	// FiletypeMap resolves languages from file extensions
	FiletypeMap []FiletypeRule `yaml:"filetype_map,omitempty" json:"filetype_map,omitempty"`
	// TrimGapBlankLines drops blank lines between packed siblings
	TrimGapBlankLines bool `yaml:"trim_gap_blank_lines" json:"trim_gap_blank_lines"`
	Mode              Mode `yaml:"mode" json:"mode"`
}

// DefaultConfig returns the default chunking configuration
func DefaultConfig() Config {
	ft := make([]FiletypeRule, len(DefaultFiletypeMap))
	for i, r := range DefaultFiletypeMap {
		ft[i] = FiletypeRule{Language: r.Language, Patterns: append([]string(nil), r.Patterns...)}
	}
	return Config{
		ChunkSize:         2500,
		Overlap:           0.2,
		Encoding:          EncodingUTF8,
		ChunkFilters:      map[string][]string{},
		FiletypeMap:       ft,
		TrimGapBlankLines: true,
		Mode:              ModeAutoAST,
	}
}

// Validate checks the size and overlap settings
func (c Config) Validate() error {
	if !(c.Overlap >= 0 && c.Overlap < 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidOverlap, c.Overlap)
	}
	if c.ChunkSize == 0 {
		return ErrInvalidChunkSize
	}
	return nil
}
