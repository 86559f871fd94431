package chunk

import (
	"fmt"
	"strings"
)

// ScopeKind represents the lexical level a scope belongs to
type ScopeKind string

const (
	// ScopeFile represents the source file itself
	ScopeFile ScopeKind = "file"
	// ScopeType represents a type container (class, interface, enum, record, struct, trait...)
	ScopeType ScopeKind = "type"
	// ScopeFunction represents a function, method or constructor
	ScopeFunction ScopeKind = "function"
)

// ValidScopeKinds contains all valid scope kinds, outermost first
var ValidScopeKinds = []ScopeKind{
	ScopeFile,
	ScopeType,
	ScopeFunction,
}

// IsValidScopeKind checks if a scope kind is valid
func IsValidScopeKind(k ScopeKind) bool {
	for _, valid := range ValidScopeKinds {
		if k == valid {
			return true
		}
	}
	return false
}

// Position is a point in source text. Rows are 1-indexed, columns 0-indexed.
//
// A span that ends right after a line break reports column -1 on the row of
// the following line.
type Position struct {
	Row    int `json:"row" yaml:"row"`
	Column int `json:"column" yaml:"column"`
}

// Before reports whether p sorts strictly before o
func (p Position) Before(o Position) bool {
	if p.Row != o.Row {
		return p.Row < o.Row
	}
	return p.Column < o.Column
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.Row, p.Column)
}

// Scope is a named lexical region: a file, a type or a function.
type Scope struct {
	Kind ScopeKind `json:"kind" yaml:"kind"`
	Name string    `json:"name" yaml:"name"`
	// RawType is the syntax node label that produced the scope
	RawType string `json:"raw_type,omitempty" yaml:"raw_type,omitempty"`
	// RelPath is only set on file scopes
	RelPath string `json:"rel_path,omitempty" yaml:"rel_path,omitempty"`

	// Start and End delimit the node that produced the scope.
	Start Position `json:"-" yaml:"-"`
	End   Position `json:"-" yaml:"-"`
}

// SameSymbol reports whether two scopes name the same symbol (kind and name)
func (s Scope) SameSymbol(o Scope) bool {
	return s.Kind == o.Kind && s.Name == o.Name
}

// String formats the scope as kind:name<raw>, with @relpath for file scopes
func (s Scope) String() string {
	raw := s.RawType
	if raw == "" {
		raw = "?"
	}
	if s.Kind == ScopeFile && s.RelPath != "" {
		return fmt.Sprintf("%s:%s<%s>@%s", s.Kind, s.Name, raw, s.RelPath)
	}
	return fmt.Sprintf("%s:%s<%s>", s.Kind, s.Name, raw)
}

// FormatScopes joins scopes with " / ", or returns <empty>
func FormatScopes(scopes []Scope) string {
	if len(scopes) == 0 {
		return "<empty>"
	}
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = s.String()
	}
	return strings.Join(parts, " / ")
}

// appendUnique appends scopes that are not yet present by (kind, name)
func appendUnique(dst []Scope, scopes ...Scope) []Scope {
	for _, s := range scopes {
		dup := false
		for _, x := range dst {
			if x.SameSymbol(s) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}

// Chunk represents a contiguous piece of source text with its lexical context
type Chunk struct {
	// Text is the chunk content
	Text string `json:"text" yaml:"text"`
	// Start is the position of the first character
	Start Position `json:"start" yaml:"start"`
	// End is the position of the last character
	End Position `json:"end" yaml:"end"`
	// Path is the file the chunk came from
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// SHA256 is the hex digest of the raw file bytes
	SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	// Language is the resolved language label
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	// ScopePath runs outermost to innermost, truncated to the mode's depth
	ScopePath []Scope `json:"scope_path" yaml:"scope_path"`
	// ContainedScopes lists distinct inner scopes covered by the chunk
	ContainedScopes []Scope `json:"contained_scopes" yaml:"contained_scopes"`

	// byte span in the source, only tracked while tiling
	byteStart, byteEnd int
}

// Header returns a one-line summary of the chunk. idx <= 0 omits the index.
func (c Chunk) Header(idx int) string {
	prefix := ""
	if idx > 0 {
		prefix = fmt.Sprintf("[%02d] ", idx)
	}
	return fmt.Sprintf("%s%s -> %s  chars=%d  scope_path=%s  contained=%s",
		prefix, c.Start, c.End, len([]rune(c.Text)),
		FormatScopes(c.ScopePath), FormatScopes(c.ContainedScopes))
}

// Format returns the header, optionally followed by the chunk text
func (c Chunk) Format(idx int, includeText bool) string {
	header := c.Header(idx)
	if !includeText {
		return header
	}
	return strings.Join([]string{
		header,
		"----- chunk text -----",
		c.Text,
		"----- /chunk text -----",
	}, "\n")
}
