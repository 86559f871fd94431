package chunk

import (
	"strings"
	"unicode/utf8"
)

// packer accumulates sibling nodes into one chunk. It is Empty while its text
// is "", Accumulating otherwise.
type packer struct {
	text      strings.Builder
	runes     int
	start     Position
	end       Position
	prefix    []Scope
	contained []Scope
	byteStart int
	byteEnd   int
}

func (p *packer) empty() bool {
	return p.text.Len() == 0
}

func (p *packer) begin(text string, start, end Position, byteStart, byteEnd int, prefix, contained []Scope) {
	p.text.Reset()
	p.text.WriteString(text)
	p.runes = utf8.RuneCountInString(text)
	p.start, p.end = start, end
	p.byteStart, p.byteEnd = byteStart, byteEnd
	p.prefix = prefix
	p.contained = appendUnique(nil, contained...)
}

func (p *packer) extend(gap, text string, end Position, byteEnd int, contained []Scope) {
	p.text.WriteString(gap)
	p.text.WriteString(text)
	p.runes += utf8.RuneCountInString(gap) + utf8.RuneCountInString(text)
	p.end = end
	p.byteEnd = byteEnd
	p.contained = appendUnique(p.contained, contained...)
}

// take returns the buffered chunk and resets the packer
func (p *packer) take() (Chunk, bool) {
	if p.empty() {
		return Chunk{}, false
	}
	c := Chunk{
		Text:            p.text.String(),
		Start:           p.start,
		End:             p.end,
		ScopePath:       p.prefix,
		ContainedScopes: p.contained,
		byteStart:       p.byteStart,
		byteEnd:         p.byteEnd,
	}
	*p = packer{}
	return c, true
}

// normalizeGap keeps only the non-blank lines of a gap. A gap with nothing
// left collapses to one line break, or one space if it had no line break.
func normalizeGap(gap string) string {
	if gap == "" {
		return ""
	}
	var kept strings.Builder
	for _, line := range strings.SplitAfter(gap, "\n") {
		if strings.TrimSpace(line) != "" {
			kept.WriteString(line)
		}
	}
	if kept.Len() > 0 {
		return kept.String()
	}
	if strings.Contains(gap, "\n") {
		return "\n"
	}
	return " "
}
