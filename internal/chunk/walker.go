package chunk

import (
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

var containerTypes = map[string]bool{
	"block":              true,
	"body":               true,
	"class_body":         true,
	"interface_body":     true,
	"enum_body":          true,
	"record_body":        true,
	"declaration_list":   true,
	"statement_block":    true,
	"compound_statement": true,
	"module":             true,
	"program":            true,
	"source_file":        true,
	"translation_unit":   true,
}

// isContainer reports whether a node usually wraps nested declarations
func isContainer(nodeType string) bool {
	t := strings.ToLower(nodeType)
	return containerTypes[t] ||
		strings.HasSuffix(t, "_body") ||
		strings.HasSuffix(t, "_block") ||
		strings.HasSuffix(t, "_list") ||
		strings.Contains(t, "declaration_list")
}

// walker holds the per-file state shared by the tree walks. Every walk
// method returns false once the consumer stops.
type walker struct {
	cfg    Config
	window *WindowChunker
	src    []byte
	rec    recognizer
}

func (w *walker) recognize(n *sitter.Node) (Scope, bool) {
	if w.rec == nil {
		return Scope{}, false
	}
	return w.rec.recognize(n, w.src)
}

func (w *walker) fits(runes int) bool {
	return w.cfg.ChunkSize < 0 || runes <= w.cfg.ChunkSize
}

func (w *walker) gap(from, to uint32) string {
	if to <= from {
		return ""
	}
	g := string(w.src[from:to])
	if w.cfg.TrimGapBlankLines {
		return normalizeGap(g)
	}
	return g
}

// windows re-splits text that starts at pos and byte offset base
func (w *walker) windows(text string, pos Position, base int, prefix, contained []Scope, emit func(Chunk) bool) bool {
	for c := range w.window.Chunks(text, pos) {
		c.ScopePath = prefix
		c.ContainedScopes = contained
		c.byteStart += base
		c.byteEnd += base
		if !emit(c) {
			return false
		}
	}
	return true
}

// emitNode emits a node whole when it fits, or as fixed windows otherwise
func (w *walker) emitNode(n *sitter.Node, prefix, contained []Scope, emit func(Chunk) bool) bool {
	text := n.Content(w.src)
	if text == "" {
		return true
	}
	if w.fits(utf8.RuneCountInString(text)) {
		return emit(Chunk{
			Text:            text,
			Start:           startOf(n),
			End:             endOf(n),
			ScopePath:       prefix,
			ContainedScopes: contained,
			byteStart:       int(n.StartByte()),
			byteEnd:         int(n.EndByte()),
		})
	}
	return w.windows(text, startOf(n), int(n.StartByte()), prefix, contained, emit)
}

// node walks n in type or function mode
func (w *walker) node(n *sitter.Node, stack []Scope, emit func(Chunk) bool) bool {
	if s, ok := w.recognize(n); ok {
		stack = pushScope(stack, s)
	}

	if n.ChildCount() == 0 {
		text := n.Content(w.src)
		if text == "" {
			return true
		}
		prefix, inner := boundary(w.cfg.Mode, stack)
		return w.windows(text, startOf(n), int(n.StartByte()), prefix, inner, emit)
	}

	var buf packer
	flush := func() bool {
		if c, ok := buf.take(); ok {
			return emit(c)
		}
		return true
	}
	var prevEnd uint32
	hasPrev := false

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		childText := child.Content(w.src)
		childRunes := utf8.RuneCountInString(childText)
		childScope, isScope := w.recognize(child)

		switch {
		case isScope && childScope.Kind == ScopeType && w.cfg.Mode == ModeFunction && w.fits(childRunes):
			if !flush() {
				return false
			}
			prefix, inner := boundary(w.cfg.Mode, pushScope(stack, childScope))
			contained := appendUnique(inner, w.collect(child, func(s Scope) bool { return s.Kind == ScopeFunction })...)
			if !w.emitNode(child, prefix, contained, emit) {
				return false
			}
			prevEnd, hasPrev = child.EndByte(), true
			continue

		case isScope && childScope.Kind == ScopeType && w.cfg.Mode == ModeType:
			if !flush() {
				return false
			}
			prefix, inner := boundary(w.cfg.Mode, pushScope(stack, childScope))
			if !w.emitNode(child, prefix, inner, emit) {
				return false
			}
			prevEnd, hasPrev = child.EndByte(), true
			continue

		case isScope && childScope.Kind == ScopeType && w.cfg.Mode == ModeFunction:
			if !flush() || !w.node(child, stack, emit) {
				return false
			}
			prevEnd, hasPrev = child.EndByte(), true
			continue

		case isScope && childScope.Kind == ScopeFunction && w.cfg.Mode == ModeFunction:
			if !flush() {
				return false
			}
			prefix, inner := boundary(w.cfg.Mode, pushScope(stack, childScope))
			if !w.emitNode(child, prefix, inner, emit) {
				return false
			}
			prevEnd, hasPrev = child.EndByte(), true
			continue

		case (w.cfg.Mode == ModeType || w.cfg.Mode == ModeFunction) && isContainer(child.Type()):
			if !flush() || !w.node(child, stack, emit) {
				return false
			}
			prevEnd, hasPrev = child.EndByte(), true
			continue

		case !w.fits(childRunes):
			if !flush() {
				return false
			}
			hasPrev = false
			if !w.node(child, stack, emit) {
				return false
			}
			continue
		}

		path := stack
		if isScope {
			path = pushScope(stack, childScope)
		}
		prefix, inner := boundary(w.cfg.Mode, path)

		if !buf.empty() {
			gap := ""
			if hasPrev {
				gap = w.gap(prevEnd, child.StartByte())
			}
			if w.fits(buf.runes+utf8.RuneCountInString(gap)+childRunes) && equalScopes(buf.prefix, prefix) {
				buf.extend(gap, childText, endOf(child), int(child.EndByte()), inner)
				prevEnd, hasPrev = child.EndByte(), true
				continue
			}
			if !flush() {
				return false
			}
		}
		buf.begin(childText, startOf(child), endOf(child), int(child.StartByte()), int(child.EndByte()), prefix, inner)
		prevEnd, hasPrev = child.EndByte(), true
	}
	return flush()
}

// collect gathers distinct scopes in the subtree rooted at n, n included
func (w *walker) collect(n *sitter.Node, keep func(Scope) bool) []Scope {
	var found []Scope
	var dfs func(x *sitter.Node)
	dfs = func(x *sitter.Node) {
		if s, ok := w.recognize(x); ok && keep(s) {
			found = appendUnique(found, s)
		}
		for i := 0; i < int(x.ChildCount()); i++ {
			if ch := x.Child(i); ch != nil {
				dfs(ch)
			}
		}
	}
	dfs(n)
	return found
}

func typeOrFunction(s Scope) bool {
	return s.Kind == ScopeType || s.Kind == ScopeFunction
}

// autoNode packs sibling nodes up to the size budget. The scope path is the
// file scope only; type and function scopes go to the contained list.
func (w *walker) autoNode(n *sitter.Node, stack []Scope, emit func(Chunk) bool) bool {
	if s, ok := w.recognize(n); ok {
		stack = pushScope(stack, s)
	}
	var filePath []Scope
	for _, s := range stack {
		if s.Kind == ScopeFile {
			filePath = append(filePath, s)
		}
	}

	if n.ChildCount() == 0 {
		text := n.Content(w.src)
		if text == "" {
			return true
		}
		contained := w.collect(n, typeOrFunction)
		return w.windows(text, startOf(n), int(n.StartByte()), filePath, contained, emit)
	}

	var buf packer
	flush := func() bool {
		if c, ok := buf.take(); ok {
			return emit(c)
		}
		return true
	}
	var prevEnd uint32
	hasPrev := false

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		childText := child.Content(w.src)
		childRunes := utf8.RuneCountInString(childText)

		if !w.fits(childRunes) {
			if !flush() || !w.autoNode(child, stack, emit) {
				return false
			}
			prevEnd, hasPrev = child.EndByte(), true
			continue
		}

		contained := w.collect(child, typeOrFunction)
		if !buf.empty() {
			gap := ""
			if hasPrev {
				gap = w.gap(prevEnd, child.StartByte())
			}
			if w.fits(buf.runes + utf8.RuneCountInString(gap) + childRunes) {
				buf.extend(gap, childText, endOf(child), int(child.EndByte()), contained)
				prevEnd, hasPrev = child.EndByte(), true
				continue
			}
			if !flush() {
				return false
			}
		}
		buf.begin(childText, startOf(child), endOf(child), int(child.StartByte()), int(child.EndByte()), filePath, contained)
		prevEnd, hasPrev = child.EndByte(), true
	}
	return flush()
}

type scopeRange struct {
	scope      Scope
	start, end Position
}

// fileMode splits the (masked) text into fixed windows and annotates each
// with the type and function scopes whose nodes overlap it.
func (w *walker) fileMode(root *sitter.Node, text string, start Position, filePath []Scope, emit func(Chunk) bool) bool {
	var ranges []scopeRange
	var dfs func(x *sitter.Node)
	dfs = func(x *sitter.Node) {
		if s, ok := w.recognize(x); ok {
			ranges = append(ranges, scopeRange{scope: s, start: startOf(x), end: endOf(x)})
		}
		for i := 0; i < int(x.ChildCount()); i++ {
			if ch := x.Child(i); ch != nil {
				dfs(ch)
			}
		}
	}
	dfs(root)

	for c := range w.window.Chunks(text, start) {
		var contained []Scope
		for _, r := range ranges {
			if !(c.End.Before(r.start) || r.end.Before(c.Start)) {
				contained = appendUnique(contained, r.scope)
			}
		}
		c.ScopePath = filePath
		c.ContainedScopes = contained
		if !emit(c) {
			return false
		}
	}
	return true
}
