package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironworks.systems/crucible/internal/credentials"
)

func TestFileStoreLookup(t *testing.T) {
	sourceDir := t.TempDir()
	baseDir := "credentials"
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, baseDir), 0o755))

	vault := `[globals]
username = "mirror"
password = "changeme"

[organizations.acme]
password = "acme-pass"

[products.rhel]
username = "rhel-sync"
`
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, baseDir, "vault.toml"), []byte(vault), 0o600))

	store, err := NewFileStore(Config{BaseDir: baseDir}, sourceDir)
	require.NoError(t, err)

	got := store.Lookup(context.Background(), credentials.Filter{})
	assert.Equal(t, "mirror", got["username"])
	assert.Equal(t, "changeme", got["password"])

	got = store.Lookup(context.Background(), credentials.Filter{Organization: "acme"})
	assert.Equal(t, "acme-pass", got["password"])
	assert.Equal(t, "mirror", got["username"])

	got = store.Lookup(context.Background(), credentials.Filter{Organization: "acme", Product: "rhel"})
	user, pass := credentials.BasicAuth(got)
	assert.Equal(t, "rhel-sync", user)
	assert.Equal(t, "acme-pass", pass)
}

func TestFileStoreScopedVaults(t *testing.T) {
	sourceDir := t.TempDir()
	baseDir := "credentials"
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, baseDir), 0o755))

	// a vault file named for a capsule only applies when that capsule is asked for
	capsuleVault := `[capsules.forge-proxy]
password = "proxy-pass"
`
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, baseDir, "forge-proxy.toml"), []byte(capsuleVault), 0o600))

	store, err := NewFileStore(Config{BaseDir: baseDir}, sourceDir)
	require.NoError(t, err)

	got := store.Lookup(context.Background(), credentials.Filter{})
	assert.Empty(t, got)

	got = store.Lookup(context.Background(), credentials.Filter{Capsule: "forge-proxy"})
	assert.Equal(t, "proxy-pass", got["password"])
}

func TestFileConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.NoError(t, Config{BaseDir: "credentials"}.Validate())
	assert.Equal(t, "file", Config{}.CredentialsType())
}
