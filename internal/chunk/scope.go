package chunk

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// recognizer decides whether a syntax node opens a type or function scope.
// The set is closed: python, java and a generic fallback.
type recognizer interface {
	recognize(n *sitter.Node, src []byte) (Scope, bool)
}

func recognizerFor(lang string) recognizer {
	switch strings.ToLower(lang) {
	case "":
		return nil
	case "python":
		return pythonRecognizer{}
	case "java":
		return javaRecognizer{}
	default:
		return genericRecognizer{}
	}
}

type pythonRecognizer struct{}

func (pythonRecognizer) recognize(n *sitter.Node, src []byte) (Scope, bool) {
	switch n.Type() {
	case "class_definition":
		return newScope(ScopeType, n, src)
	case "function_definition", "async_function_definition":
		return newScope(ScopeFunction, n, src)
	}
	return genericRecognizer{}.recognize(n, src)
}

type javaRecognizer struct{}

func (javaRecognizer) recognize(n *sitter.Node, src []byte) (Scope, bool) {
	switch n.Type() {
	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
		return newScope(ScopeType, n, src)
	case "method_declaration", "constructor_declaration":
		return newScope(ScopeFunction, n, src)
	}
	return genericRecognizer{}.recognize(n, src)
}

var (
	typeMarkers     = []string{"class", "interface", "enum", "record", "struct", "trait", "protocol"}
	functionMarkers = []string{"function", "method", "constructor"}
)

// genericRecognizer matches declaration-like node labels in any grammar
type genericRecognizer struct{}

func (genericRecognizer) recognize(n *sitter.Node, src []byte) (Scope, bool) {
	t := strings.ToLower(n.Type())
	if hasMarker(t, typeMarkers) && (containsAny(t, "declaration", "definition", "specifier") || isMarker(t, typeMarkers)) {
		return newScope(ScopeType, n, src)
	}
	if hasMarker(t, functionMarkers) && (containsAny(t, "declaration", "definition", "item") || isMarker(t, functionMarkers)) {
		return newScope(ScopeFunction, n, src)
	}
	return Scope{}, false
}

func hasMarker(t string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

func isMarker(t string, markers []string) bool {
	for _, m := range markers {
		if t == m {
			return true
		}
	}
	return false
}

func containsAny(t string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

// newScope names the node; unnamed nodes are not scopes.
func newScope(kind ScopeKind, n *sitter.Node, src []byte) (Scope, bool) {
	name := nodeName(n, src)
	if name == "" {
		return Scope{}, false
	}
	return Scope{
		Kind:    kind,
		Name:    name,
		RawType: n.Type(),
		Start:   startOf(n),
		End:     endOf(n),
	}, true
}

func nodeName(n *sitter.Node, src []byte) string {
	if field := n.ChildByFieldName("name"); field != nil {
		if name := field.Content(src); name != "" {
			return name
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		if ch == nil {
			continue
		}
		switch ch.Type() {
		case "identifier", "type_identifier", "property_identifier":
			return ch.Content(src)
		}
	}
	return ""
}

func startOf(n *sitter.Node) Position {
	p := n.StartPoint()
	return Position{Row: int(p.Row) + 1, Column: int(p.Column)}
}

func endOf(n *sitter.Node) Position {
	p := n.EndPoint()
	return Position{Row: int(p.Row) + 1, Column: int(p.Column)}
}

// boundary splits a scope path for the mode. The path is cut after the
// innermost scope the mode allows, and the cut keeps only the innermost scope
// of each allowed kind, so prefix never exceeds the mode's depth. inner holds
// the scopes dropped from the cut followed by the first scope beyond it.
func boundary(mode Mode, path []Scope) (prefix, inner []Scope) {
	last := -1
	for i, s := range path {
		if mode.allows(s.Kind) {
			last = i
		}
	}

	keep := make([]bool, last+1)
	seen := make(map[ScopeKind]bool, 3)
	for i := last; i >= 0; i-- {
		if k := path[i].Kind; mode.allows(k) && !seen[k] {
			seen[k] = true
			keep[i] = true
		}
	}
	for i := 0; i <= last; i++ {
		if keep[i] {
			prefix = append(prefix, path[i])
		} else {
			inner = appendUnique(inner, path[i])
		}
	}
	if last+1 < len(path) {
		inner = appendUnique(inner, path[last+1])
	}
	return prefix, inner
}

func equalScopes(a, b []Scope) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func pushScope(stack []Scope, s Scope) []Scope {
	out := make([]Scope, len(stack), len(stack)+1)
	copy(out, stack)
	return append(out, s)
}
