package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadURLs(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{}

	_, err := New(dir, "/no/scheme/at/all", cfg)
	assert.Error(t, err)

	_, err = New(dir, "ftp://example.com/content", cfg)
	assert.Error(t, err)
}

func TestFileSourceSync(t *testing.T) {
	origin := t.TempDir()
	dest := filepath.Join(t.TempDir(), "source")

	require.NoError(t, os.MkdirAll(filepath.Join(origin, "snippets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(origin, "MANIFEST.toml"), []byte("name = \"lab\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(origin, "snippets", "motd.snippet"), []byte("kind: snippet\nname: motd\nhello\n"), 0o644))

	src, err := New(dest, "file://"+origin, &Config{})
	require.NoError(t, err)
	require.NoError(t, src.Sync(t.Context()))

	body, err := os.ReadFile(filepath.Join(dest, "MANIFEST.toml"))
	require.NoError(t, err)
	assert.Equal(t, "name = \"lab\"\n", string(body))

	// stale files disappear on the next sync
	require.NoError(t, os.WriteFile(filepath.Join(dest, "leftover.repo"), []byte("[old]\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(origin, "snippets", "motd.snippet")))
	require.NoError(t, src.Sync(t.Context()))

	_, err = os.Stat(filepath.Join(dest, "leftover.repo"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dest, "snippets", "motd.snippet"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, src.Clean())
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestFileSourceMissingOrigin(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "source")
	src, err := New(dest, "file:///definitely/not/here", &Config{})
	require.NoError(t, err)
	assert.Error(t, src.Sync(t.Context()))
}
