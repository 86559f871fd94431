package chunk

import (
	"iter"
	"sort"
	"strings"
	"unicode/utf8"
)

// WindowChunker splits text into fixed-size overlapping windows of characters.
type WindowChunker struct {
	size    int
	overlap float64
}

// NewWindowChunker creates a window chunker. A negative size yields the whole
// text as one chunk.
func NewWindowChunker(size int, overlap float64) (*WindowChunker, error) {
	cfg := Config{ChunkSize: size, Overlap: overlap}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Step is the distance between consecutive window starts
func (w *WindowChunker) Step() int {
	step := int(float64(w.size) * (1 - w.overlap))
	if step < 1 {
		return 1
	}
	return step
}

// Chunks yields the windows of text. start is the position of the first
// character; its column only offsets the first line.
func (w *WindowChunker) Chunks(text string, start Position) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if text == "" {
			return
		}
		if w.size < 0 {
			last := text[strings.LastIndexByte(text, '\n')+1:]
			yield(Chunk{
				Text:    text,
				Start:   start,
				End:     Position{Row: start.Row + strings.Count(text, "\n"), Column: utf8.RuneCountInString(last) - 1},
				byteEnd: len(text),
			})
			return
		}

		runes := []rune(text)
		n := len(runes)
		byteAt := make([]int, n+1)
		for i, r := range runes {
			byteAt[i+1] = byteAt[i] + utf8.RuneLen(r)
		}
		offs := lineOffsets(runes)
		lineOf := func(i int) int {
			return sort.Search(len(offs), func(k int) bool { return offs[k] > i }) - 1
		}
		pos := func(line, col int) Position {
			if line == 0 {
				col += start.Column
			}
			return Position{Row: start.Row + line, Column: col}
		}

		step := w.Step()
		for i := 0; i < n; i += step {
			endPos := min(i+w.size, n)

			// the end is located from the exclusive offset, so a window that
			// reaches a line break or the end of text reports -1 on the next row
			startLine := lineOf(i)
			endLine := lineOf(endPos)
			end := pos(endLine, endPos-offs[endLine]-1)

			c := Chunk{
				Text:      string(runes[i:endPos]),
				Start:     pos(startLine, i-offs[startLine]),
				End:       end,
				byteStart: byteAt[i],
				byteEnd:   byteAt[endPos],
			}
			if !yield(c) {
				return
			}
			if i+w.size >= n {
				return
			}
		}
	}
}

// lineOffsets returns the rune offset of every line start, followed by len(runes)
// when the text does not end with a line break.
func lineOffsets(runes []rune) []int {
	offs := []int{0}
	for i, r := range runes {
		if r == '\n' {
			offs = append(offs, i+1)
		}
	}
	if offs[len(offs)-1] != len(runes) {
		offs = append(offs, len(runes))
	}
	return offs
}
