package settingsfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

func TestStoreRoundTripsExportSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.toml")
	s, err := Open(path)
	require.NoError(t, err)

	var missing worlddomain.ExportSettings
	found, err := s.Get("world-to-obsidian", "lastsettings", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	want := worlddomain.ExportSettings{Scenes: true, Items: true, TargetUserID: "p1"}
	require.NoError(t, s.Set("world-to-obsidian", "lastsettings", want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "[world-to-obsidian"), "namespace is stored as a table:\n%s", raw)

	reopened, err := Open(path)
	require.NoError(t, err)
	var got worlddomain.ExportSettings
	found, err = reopened.Get("world-to-obsidian", "lastsettings", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestStoreKeepsOtherNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("a", "k", map[string]any{"n": 1, "skip": nil}))
	require.NoError(t, s.Set("b", "k", "value"))

	reopened, err := Open(path)
	require.NoError(t, err)

	var a map[string]any
	found, err := reopened.Get("a", "k", &a)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 1, a["n"])
	assert.NotContains(t, a, "skip")

	var b string
	found, err = reopened.Get("b", "k", &b)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "value", b)
}

func TestOpenRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))

	_, err := Open(path)
	require.Error(t, err)
}
