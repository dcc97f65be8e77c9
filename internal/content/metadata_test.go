package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func TestScanTree(t *testing.T) {
	root := writeTree(t, map[string]string{
		"bear-4.1-1.noarch.rpm":        "bear bytes",
		"camel-0.1-1.noarch.rpm":       "camel bytes",
		"sub/walrus-5.21-1.noarch.rpm": "walrus bytes",
	})
	meta, err := ScanTree(root)
	require.NoError(t, err)
	require.Len(t, meta.Units, 3)
	assert.Equal(t, "bear-4.1-1.noarch.rpm", meta.Units[0].Name)
	assert.Equal(t, UnitPackage, meta.Units[0].Kind)
	assert.NotEmpty(t, meta.Units[0].Digest)
	assert.Equal(t, map[string]int{"package": 3}, meta.Counts())
}

func TestRevisionStable(t *testing.T) {
	root := writeTree(t, map[string]string{
		"bear-4.1-1.noarch.rpm":  "bear bytes",
		"camel-0.1-1.noarch.rpm": "camel bytes",
	})
	meta1, err := ScanTree(root)
	require.NoError(t, err)
	meta2, err := ScanTree(root)
	require.NoError(t, err)
	assert.Equal(t, meta1.Revision(), meta2.Revision(), "unchanged content must keep its revision")
}

func TestRevisionChangesWithContent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"bear-4.1-1.noarch.rpm": "bear bytes",
	})
	meta1, err := ScanTree(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "dog-4.23-1.noarch.rpm"), []byte("dog bytes"), 0o644))
	meta2, err := ScanTree(root)
	require.NoError(t, err)
	assert.NotEqual(t, meta1.Revision(), meta2.Revision())
}

func TestRevisionIgnoresOrder(t *testing.T) {
	a := &Metadata{Units: []Unit{{Name: "a", Kind: UnitPackage}, {Name: "b", Kind: UnitPackage}}}
	b := &Metadata{Units: []Unit{{Name: "b", Kind: UnitPackage}, {Name: "a", Kind: UnitPackage}}}
	assert.Equal(t, a.Revision(), b.Revision())
}

func TestScanTreeUpdateinfo(t *testing.T) {
	root := writeTree(t, map[string]string{
		"bear-4.1-1.noarch.rpm": "bear bytes",
		UpdateinfoFile: `errata:
  - id: "RHSA-2026:0001"
    type: security
    title: bear update
    severity: Critical
    packages:
      - bear-4.1-1.noarch.rpm
`,
	})
	meta, err := ScanTree(root)
	require.NoError(t, err)
	require.Len(t, meta.Errata, 1)
	assert.Equal(t, "RHSA-2026:0001", meta.Errata[0].ID)
	require.Len(t, meta.Units, 1, "updateinfo listing is not a package unit")
	e, ok := meta.Erratum("RHSA-2026:0001")
	assert.True(t, ok)
	assert.Equal(t, []string{"bear-4.1-1.noarch.rpm"}, e.Packages)
	assert.Equal(t, map[string]int{"package": 1, "erratum": 1}, meta.Counts())
}

func TestScanTreeBadErratum(t *testing.T) {
	root := writeTree(t, map[string]string{
		UpdateinfoFile: "errata:\n  - id: \"not-an-advisory\"\n",
	})
	_, err := ScanTree(root)
	assert.Error(t, err)
}

func TestParseRepoFile(t *testing.T) {
	raw := []byte(`[zoo]
name=Zoo Packages
baseurl=file:///srv/repos/zoo
enabled=1
download_policy=on_demand

[aquarium]
baseurl=file:///srv/repos/aquarium
`)
	defs, err := ParseRepoFile(raw)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "zoo", defs[0].Label)
	assert.Equal(t, "Zoo Packages", defs[0].Name)
	assert.Equal(t, "on_demand", defs[0].DownloadPolicy)
	assert.Equal(t, "aquarium", defs[1].Name)
	assert.Equal(t, "immediate", defs[1].DownloadPolicy)
}

func TestParseRepoFileErrors(t *testing.T) {
	_, err := ParseRepoFile([]byte("[broken]\nenabled=1\n"))
	assert.Error(t, err, "enabled repo without baseurl")
	_, err = ParseRepoFile([]byte("[broken]\nbaseurl=x\ndownload_policy=streaming\n"))
	assert.Error(t, err, "unknown download policy")
}
