package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedTrees(t *testing.T) {
	pages, err := fs.Glob(Templates(), "*.html")
	require.NoError(t, err)
	assert.Contains(t, pages, "layout.html")
	assert.Contains(t, pages, "results_healthy.html")
	assert.Contains(t, pages, "ergot_detected.html")

	_, err = fs.Stat(Static(), "css/style.css")
	require.NoError(t, err)

	locales, err := fs.Glob(Locales(), "active.*.toml")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"active.en.toml", "active.hi.toml"}, locales)
}

func TestExtractKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "active.en.toml")
	require.NoError(t, os.WriteFile(custom, []byte(`AppTitle = "mine"`), 0o644))

	written, err := Extract(Locales(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "active.hi.toml")}, written)

	data, err := os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, `AppTitle = "mine"`, string(data))

	written, err = Extract(Locales(), dir, true)
	require.NoError(t, err)
	assert.Len(t, written, 2)
}
