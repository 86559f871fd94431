package chunk

import (
	"sort"
)

// tiler makes consecutive chunks cover the source without holes. Bytes that
// no chunk covered are prepended to the next chunk, and trailing bytes are
// appended to the last one, so the texts concatenate back to the source when
// windows do not overlap. Positions it rewrites use byte columns, like the
// syntax tree.
type tiler struct {
	src     []byte
	lines   []int
	scopes  []Scope
	emit    func(Chunk) bool
	cursor  int
	pending Chunk
	has     bool
}

func newTiler(src []byte, scopes []Scope, emit func(Chunk) bool) *tiler {
	lines := []int{0}
	for i, b := range src {
		if b == '\n' {
			lines = append(lines, i+1)
		}
	}
	return &tiler{src: src, lines: lines, scopes: scopes, emit: emit}
}

// pointAt is the position of byte offset off
func (t *tiler) pointAt(off int) Position {
	idx := sort.Search(len(t.lines), func(k int) bool { return t.lines[k] > off }) - 1
	return Position{Row: idx + 1, Column: off - t.lines[idx]}
}

// endAt is the inclusive end position of a span ending at byte offset off
func (t *tiler) endAt(off int) Position {
	if off > 0 && t.src[off-1] == '\n' {
		return Position{Row: t.pointAt(off).Row, Column: -1}
	}
	return t.pointAt(off - 1)
}

func (t *tiler) push(c Chunk) bool {
	if c.byteStart > t.cursor {
		c.Text = string(t.src[t.cursor:c.byteStart]) + c.Text
		c.Start = t.pointAt(t.cursor)
		c.byteStart = t.cursor
	}
	if c.byteEnd > t.cursor {
		t.cursor = c.byteEnd
	}
	if t.has {
		if !t.emit(t.pending) {
			t.has = false
			return false
		}
	}
	t.pending, t.has = c, true
	return true
}

// finish flushes the held chunk, extended to the end of the source. A source
// that produced no chunk at all becomes a single chunk.
func (t *tiler) finish() {
	if !t.has {
		if len(t.src) > 0 {
			t.emit(Chunk{
				Text:      string(t.src),
				Start:     Position{Row: 1},
				End:       t.endAt(len(t.src)),
				ScopePath: t.scopes,
				byteEnd:   len(t.src),
			})
		}
		return
	}
	c := t.pending
	t.has = false
	if t.cursor < len(t.src) {
		c.Text += string(t.src[t.cursor:])
		c.End = t.endAt(len(t.src))
		c.byteEnd = len(t.src)
	}
	t.emit(c)
}
