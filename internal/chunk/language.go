package chunk

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-enry/go-enry/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	tsc "github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/lua"
	tsmarkdown "github.com/smacker/go-tree-sitter/markdown/tree-sitter-markdown"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/sql"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	tstype "github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/smacker/go-tree-sitter/yaml"
	"github.com/zeebo/xxh3"
)

var grammars = map[string]func() *sitter.Language{
	"bash":       bash.GetLanguage,
	"c":          tsc.GetLanguage,
	"cpp":        cpp.GetLanguage,
	"csharp":     csharp.GetLanguage,
	"css":        css.GetLanguage,
	"go":         golang.GetLanguage,
	"html":       html.GetLanguage,
	"java":       java.GetLanguage,
	"javascript": javascript.GetLanguage,
	"kotlin":     kotlin.GetLanguage,
	"lua":        lua.GetLanguage,
	"markdown":   tsmarkdown.GetLanguage,
	"php":        php.GetLanguage,
	"python":     python.GetLanguage,
	"ruby":       ruby.GetLanguage,
	"rust":       rust.GetLanguage,
	"scala":      scala.GetLanguage,
	"sql":        sql.GetLanguage,
	"swift":      swift.GetLanguage,
	"toml":       toml.GetLanguage,
	"tsx":        tsx.GetLanguage,
	"typescript": tstype.GetLanguage,
	"yaml":       yaml.GetLanguage,
}

// guesser names that differ from grammar names
var guessAliases = map[string]string{
	"shell":   "bash",
	"sh":      "bash",
	"c++":     "cpp",
	"c#":      "csharp",
	"golang":  "go",
	"js":      "javascript",
	"python3": "python",
	"yml":     "yaml",
}

// Grammar returns the tree-sitter language registered under lang
func Grammar(lang string) (*sitter.Language, bool) {
	get, ok := grammars[strings.ToLower(lang)]
	if !ok {
		return nil, false
	}
	return get(), true
}

// HasGrammar reports whether a parser exists for lang
func HasGrammar(lang string) bool {
	_, ok := grammars[strings.ToLower(lang)]
	return ok
}

type compiledRule struct {
	language string
	patterns []*regexp.Regexp
}

type guessKey struct {
	path string
	sum  uint64
}

// languageResolver picks a language label and grammar for a file. Guess
// results are memoized per (path, content).
type languageResolver struct {
	rules   []compiledRule
	guesses *lru.Cache[guessKey, string]
}

func newLanguageResolver(rules []FiletypeRule, cacheSize int) (*languageResolver, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{language: strings.ToLower(r.Language)}
		for _, p := range r.Patterns {
			rx, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid filetype pattern %q for %s: %w", p, r.Language, err)
			}
			cr.patterns = append(cr.patterns, rx)
		}
		compiled = append(compiled, cr)
	}
	guesses, err := lru.New[guessKey, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create guess cache: %w", err)
	}
	return &languageResolver{rules: compiled, guesses: guesses}, nil
}

// byExtension returns the first language whose patterns match the extension
func (r *languageResolver) byExtension(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, rule := range r.rules {
		for _, rx := range rule.patterns {
			if rx.MatchString(ext) {
				return rule.language
			}
		}
	}
	return ""
}

// guess asks the content/name guesser. Only languages with a grammar count.
func (r *languageResolver) guess(path, content string) string {
	key := guessKey{path: path, sum: xxh3.HashString(content)}
	if lang, ok := r.guesses.Get(key); ok {
		return lang
	}
	name := strings.ToLower(enry.GetLanguage(filepath.Base(path), []byte(content)))
	if alias, ok := guessAliases[name]; ok {
		name = alias
	}
	if !HasGrammar(name) {
		name = ""
	}
	r.guesses.Add(key, name)
	return name
}

// resolve returns the language label and, when one exists, its grammar.
// A path is tried against the extension map first, then the guesser; the
// explicit language is used only when neither yields a grammar.
func (r *languageResolver) resolve(path, content, explicit string) (string, *sitter.Language) {
	label := ""
	if path != "" {
		label = r.byExtension(path)
		if g, ok := Grammar(label); ok {
			return label, g
		}
		if guessed := r.guess(path, content); guessed != "" {
			g, _ := Grammar(guessed)
			return guessed, g
		}
	}
	if label == "" && explicit != "" {
		label = strings.ToLower(explicit)
	}
	if g, ok := Grammar(label); ok {
		return label, g
	}
	return label, nil
}
