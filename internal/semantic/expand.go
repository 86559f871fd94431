package semantic

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/vectordb"
)

// Record kinds stored in the chunk_kind metadata key
const (
	KindCode      = "code"
	KindRelPath   = "relpath"
	KindScopePath = "scope_path"
)

// record is one chunk on its way to the store
type record struct {
	chunk      chunk.Chunk
	kind       string
	groupID    string
	groupIndex int
	grouped    bool
}

// newID returns a random uuid as 32 hex characters
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// groupKey identifies the innermost type or function scope of a chunk
type groupKey struct {
	kind, name, raw string
	start, end      chunk.Position
}

func scopeGroupKey(c chunk.Chunk) (groupKey, bool) {
	if len(c.ScopePath) == 0 {
		return groupKey{}, false
	}
	last := c.ScopePath[len(c.ScopePath)-1]
	if last.Kind != chunk.ScopeType && last.Kind != chunk.ScopeFunction {
		return groupKey{}, false
	}
	return groupKey{
		kind:  string(last.Kind),
		name:  last.Name,
		raw:   last.RawType,
		start: last.Start,
		end:   last.End,
	}, true
}

// groupRecords links chunks that split the same type or function: each
// group of two or more gets a shared id and a position-ordered index.
func groupRecords(records []record, ids func() string) {
	groups := make(map[groupKey][]int)
	var order []groupKey
	for i, r := range records {
		key, ok := scopeGroupKey(r.chunk)
		if !ok {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	for _, key := range order {
		members := groups[key]
		if len(members) <= 1 {
			continue
		}
		sort.SliceStable(members, func(a, b int) bool {
			return records[members[a]].chunk.Start.Before(records[members[b]].chunk.Start)
		})
		id := ids()
		for n, i := range members {
			records[i].groupID = id
			records[i].groupIndex = n
			records[i].grouped = true
		}
	}
}

func joinScopes(scopes []chunk.Scope, sep string) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = s.String()
	}
	return strings.Join(parts, sep)
}

// describe copies the position, scopes and provenance of source into a
// descriptor chunk carrying text.
func describe(text string, source chunk.Chunk) chunk.Chunk {
	return chunk.Chunk{
		Text:            text,
		Start:           source.Start,
		End:             source.End,
		Path:            source.Path,
		SHA256:          source.SHA256,
		Language:        source.Language,
		ScopePath:       slices.Clone(source.ScopePath),
		ContainedScopes: slices.Clone(source.ContainedScopes),
	}
}

// expandRecords appends one relpath descriptor for the file and one
// scope_path descriptor per chunk nested deeper than the file scope.
func expandRecords(logger *slog.Logger, records []record, relPath string) []record {
	if len(records) == 0 {
		return records
	}
	base := len(records)
	out := slices.Clip(records)

	out = append(out, record{
		chunk: describe("relpath: "+relPath, records[0].chunk),
		kind:  KindRelPath,
	})

	for _, r := range records[:base] {
		if len(r.chunk.ScopePath) <= 1 {
			continue
		}
		text := "scope_path: " + joinScopes(r.chunk.ScopePath, " -> ")
		if len(r.chunk.ContainedScopes) > 0 {
			text += " | containers: " + joinScopes(r.chunk.ContainedScopes, ", ")
		}
		out = append(out, record{chunk: describe(text, r.chunk), kind: KindScopePath})
	}

	logger.Info("[EXPAND] expanded chunks",
		"base", base, "expanded", len(out), "added", len(out)-base, "types", kindSummary(out))
	return out
}

// kindSummary formats per-kind counts as "code=3, relpath=1"
func kindSummary(records []record) string {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.kind]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

// scopeJSON is the serialized form of a scope in metadata
type scopeJSON struct {
	Kind    string  `json:"kind"`
	Name    string  `json:"name"`
	RawType string  `json:"raw_type"`
	RelPath *string `json:"rel_path"`
}

func scopesJSON(scopes []chunk.Scope) string {
	out := make([]scopeJSON, len(scopes))
	for i, s := range scopes {
		out[i] = scopeJSON{Kind: string(s.Kind), Name: s.Name, RawType: s.RawType}
		if s.RelPath != "" {
			rel := s.RelPath
			out[i].RelPath = &rel
		}
	}
	return mustJSON(out)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain strings and slices are marshalled here
		panic(err)
	}
	return string(b)
}

// buildMetadata produces the flat metadata stored with a record
func buildMetadata(r record, path, relPath, sha string, createdAt int64) vectordb.Metadata {
	c := r.chunk

	symbols := make([]string, 0, len(c.ScopePath))
	signature := make([]string, 0, len(c.ScopePath))
	for _, s := range c.ScopePath {
		if s.Name != "" {
			symbols = append(symbols, s.Name)
		}
		signature = append(signature, string(s.Kind)+" "+s.Name)
	}

	meta := vectordb.Metadata{
		"path":                  path,
		"relpath":               relPath,
		"sha256":                sha,
		"created_at":            createdAt,
		"chunk_kind":            r.kind,
		"scope_path":            scopesJSON(c.ScopePath),
		"contained_scopes":      scopesJSON(c.ContainedScopes),
		"scope_path_str":        joinScopes(c.ScopePath, " -> "),
		"contained_scopes_str":  joinScopes(c.ContainedScopes, ", "),
		"scope_depth":           len(c.ScopePath),
		"symbol_names":          mustJSON(symbols),
		"scope_signature":       strings.Join(signature, " -> "),
		"contained_scope_count": len(c.ContainedScopes),
		"start_line":            c.Start.Row,
		"start_col":             c.Start.Column,
		"end_line":              c.End.Row,
		"end_col":               c.End.Column,
	}
	if r.grouped {
		meta["group_id"] = r.groupID
		meta["group_index"] = r.groupIndex
	}
	if c.Language != "" {
		meta["language"] = c.Language
	}
	return meta
}
