package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultFilterKey holds the patterns used by languages without their own entry
const DefaultFilterKey = "*"

// filterSet compiles per-language drop patterns on demand
type filterSet struct {
	filters map[string][]string
	cache   *lru.Cache[string, *regexp.Regexp]
}

func newFilterSet(filters map[string][]string, cacheSize int) (*filterSet, error) {
	cache, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter cache: %w", err)
	}
	f := &filterSet{filters: filters, cache: cache}
	for lang := range filters {
		if _, err := f.compile(lang); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// patterns returns the language's list; a language entry replaces the default
func (f *filterSet) patterns(lang string) []string {
	if lang != "" {
		if ps, ok := f.filters[lang]; ok {
			return ps
		}
	}
	return f.filters[DefaultFilterKey]
}

// FilterPattern OR-combines patterns as (?:(?:p1)|(?:p2)). Empty input yields "".
func FilterPattern(patterns []string) string {
	if len(patterns) == 0 {
		return ""
	}
	wrapped := make([]string, len(patterns))
	for i, p := range patterns {
		wrapped[i] = "(?:" + p + ")"
	}
	return "(?:" + strings.Join(wrapped, "|") + ")"
}

// matcher returns the anchored pattern for lang, or nil when nothing filters it
func (f *filterSet) matcher(lang string) *regexp.Regexp {
	if rx, ok := f.cache.Get(lang); ok {
		return rx
	}
	rx, err := f.compile(lang)
	if err != nil {
		// patterns were checked at construction
		return nil
	}
	return rx
}

func (f *filterSet) compile(lang string) (*regexp.Regexp, error) {
	pattern := FilterPattern(f.patterns(lang))
	var rx *regexp.Regexp
	if pattern != "" {
		var err error
		rx, err = regexp.Compile("^" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk filter for %q: %w", lang, err)
		}
	}
	f.cache.Add(lang, rx)
	return rx, nil
}

// maskLines blanks every line whose left-trimmed text matches rx. Lengths and
// line breaks are kept so positions stay aligned with the original text.
func maskLines(text string, rx *regexp.Regexp) string {
	if rx == nil {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if !rx.MatchString(strings.TrimLeftFunc(line, unicode.IsSpace)) {
			b.WriteString(line)
			continue
		}
		body, nl := line, ""
		if strings.HasSuffix(line, "\n") {
			body, nl = line[:len(line)-1], "\n"
		}
		b.WriteString(strings.Repeat(" ", len([]rune(body))))
		b.WriteString(nl)
	}
	return b.String()
}
