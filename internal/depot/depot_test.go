package depot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ironworks.systems/crucible/internal/content"
)

func testMeta(t *testing.T, srcDir string, names ...string) *content.Metadata {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(srcDir, n)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, n), []byte(n+" bytes"), 0o644))
	}
	meta, err := content.ScanTree(srcDir)
	require.NoError(t, err)
	return meta
}

func TestPublishTreeLink(t *testing.T) {
	d, err := NewDepot(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()
	meta := testMeta(t, src, "bear-4.1-1.noarch.rpm", "camel-0.1-1.noarch.rpm")

	rel := VersionPath("acme", "zoo-view", "1.0", "zoo", "zoo-packages")
	skipped, err := d.PublishTree(rel, src, meta, ModeLink)
	require.NoError(t, err)
	assert.False(t, skipped)

	units, err := d.Units(rel)
	require.NoError(t, err)
	assert.Equal(t, []string{"bear-4.1-1.noarch.rpm", "camel-0.1-1.noarch.rpm"}, units)

	raw, err := d.ReadUnit(rel, "bear-4.1-1.noarch.rpm")
	require.NoError(t, err)
	assert.Equal(t, "bear-4.1-1.noarch.rpm bytes", string(raw))

	broken, err := d.BrokenLinks(rel)
	require.NoError(t, err)
	assert.Empty(t, broken)
}

func TestRepublishKeepsRevision(t *testing.T) {
	d, err := NewDepot(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()
	meta := testMeta(t, src, "bear-4.1-1.noarch.rpm")
	rel := EnvironmentPath("acme", "dev", "zoo-view", "zoo", "zoo-packages")

	_, err = d.PublishTree(rel, src, meta, ModeLink)
	require.NoError(t, err)
	rev1, err := d.Revision(rel)
	require.NoError(t, err)

	skipped, err := d.PublishTree(rel, src, meta, ModeLink)
	require.NoError(t, err)
	assert.True(t, skipped, "identical content must not republish")
	rev2, err := d.Revision(rel)
	require.NoError(t, err)
	assert.Equal(t, rev1, rev2)

	// new content forces a republish and a new revision
	meta = testMeta(t, src, "dog-4.23-1.noarch.rpm")
	skipped, err = d.PublishTree(rel, src, meta, ModeLink)
	require.NoError(t, err)
	assert.False(t, skipped)
	rev3, err := d.Revision(rel)
	require.NoError(t, err)
	assert.NotEqual(t, rev1, rev3)
}

func TestOnDemandSymlinks(t *testing.T) {
	d, err := NewDepot(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()
	meta := testMeta(t, src, "bear-4.1-1.noarch.rpm", "camel-0.1-1.noarch.rpm")
	rel := VersionPath("acme", "zoo-view", "1.0", "zoo", "zoo-od")

	_, err = d.PublishTree(rel, src, meta, ModeSymlink)
	require.NoError(t, err)

	// simulate on demand: sources not fetched yet, all links dangle
	require.NoError(t, os.RemoveAll(src))
	broken, err := d.BrokenLinks(rel)
	require.NoError(t, err)
	assert.Len(t, broken, 2, "every symlink dangles before any fetch")

	units, err := d.Units(rel)
	require.NoError(t, err)
	assert.Len(t, units, 2, "dangling links still list as content")

	// fetching one unit materializes it
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bear-4.1-1.noarch.rpm"), []byte("bear bytes"), 0o644))
	require.NoError(t, d.Fetch(rel, "bear-4.1-1.noarch.rpm", src))

	broken, err = d.BrokenLinks(rel)
	require.NoError(t, err)
	assert.Equal(t, []string{"camel-0.1-1.noarch.rpm"}, broken)

	raw, err := d.ReadUnit(rel, "bear-4.1-1.noarch.rpm")
	require.NoError(t, err)
	assert.Equal(t, "bear bytes", string(raw))
}

func TestRemove(t *testing.T) {
	d, err := NewDepot(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()
	meta := testMeta(t, src, "bear-4.1-1.noarch.rpm")
	rel := EnvironmentPath("acme", "dev", "zoo-view", "zoo", "zoo-packages")
	_, err = d.PublishTree(rel, src, meta, ModeLink)
	require.NoError(t, err)
	require.NoError(t, d.Remove(rel))
	_, err = d.Revision(rel)
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t,
		filepath.Join("acme", "content_views", "zoo-view", "1.0", "zoo", "zoo-packages"),
		VersionPath("acme", "zoo-view", "1.0", "zoo", "zoo-packages"))
	assert.Equal(t,
		filepath.Join("acme", "dev", "zoo-view", "zoo", "zoo-packages"),
		EnvironmentPath("acme", "dev", "zoo-view", "zoo", "zoo-packages"))
}
