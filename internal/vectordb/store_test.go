package vectordb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionName(t *testing.T) {
	dir := t.TempDir()

	name, err := CollectionName(dir)
	require.NoError(t, err)
	assert.Len(t, name, 63)
	assert.Regexp(t, `^[0-9a-f]+$`, name)

	again, err := CollectionName(dir + string(filepath.Separator) + ".")
	require.NoError(t, err)
	assert.Equal(t, name, again, "paths are cleaned before hashing")

	other, err := CollectionName(t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, name, other)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{Backend: "chroma", Collection: "c"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(ctx, Config{Backend: BackendSQLite})
	assert.Error(t, err)

	s, err := New(ctx, Config{Backend: BackendSQLite, Collection: "c", SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.True(t, s.Ping(ctx))
	require.NoError(t, s.Close())
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "0123456789ab4def8123456789abcdef", stripDashes(pointID("0123456789ab4def8123456789abcdef")))
	assert.Equal(t, pointID("not-a-uuid"), pointID("not-a-uuid"))
	assert.NotEqual(t, pointID("a"), pointID("b"))
}

func stripDashes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func TestConvertPayloadToMap(t *testing.T) {
	values, err := qdrant.TryValueMap(map[string]any{
		"path":        "/a.py",
		"scope_depth": 2,
		"flags":       []any{"x", true},
	})
	require.NoError(t, err)

	meta := convertPayloadToMap(values)
	assert.Equal(t, "/a.py", meta.String("path"))
	assert.EqualValues(t, 2, meta["scope_depth"])
	assert.Equal(t, []any{"x", true}, meta["flags"])
	assert.Equal(t, "", meta.String("missing"))
}
