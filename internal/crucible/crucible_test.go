package crucible

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironworks.systems/crucible/internal/depot"
	"ironworks.systems/crucible/internal/inventory"
	"ironworks.systems/crucible/internal/source"
)

type testFixture struct {
	engine      *Crucible
	config      *CrucibleConfig
	originDir   string
	baseDir     string
	extrasDir   string
	upstreamDir string
}

const testManifest = `[Organizations.acme]
Name = "ACME Corp"

[Organizations.acme.Environments.dev]
Prior = "Library"

[Organizations.acme.Products.rhel]
Name = "Red Hat Enterprise Linux"

[[Organizations.acme.Products.rhel.Repositories]]
Label = "base"
Type = "yum"
URL = "file://%s"
DownloadPolicy = "immediate"

[[Organizations.acme.Products.rhel.Repositories]]
Label = "extras"
Type = "yum"
URL = "file://%s"
DownloadPolicy = "on_demand"

[Organizations.acme.Views.webstack]
Repositories = ["rhel/base", "rhel/extras"]

[Capsules.forge-proxy]
URL = "https://forge-proxy.example.com:9090"
Environments = ["dev"]
`

func writeUpstream(t *testing.T, dir string, units map[string]string) {
	t.Helper()
	for name, body := range units {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	upstream := t.TempDir()
	baseDir := filepath.Join(upstream, "base")
	extrasDir := filepath.Join(upstream, "extras")
	writeUpstream(t, baseDir, map[string]string{
		"walrus-0.71.rpm": "walrus 0.71 payload",
		"bear-4.1.rpm":    "bear 4.1 payload",
	})
	writeUpstream(t, extrasDir, map[string]string{
		"kangaroo-0.2.rpm": "kangaroo 0.2 payload",
	})

	origin := t.TempDir()
	manifest := fmt.Sprintf(testManifest, baseDir, extrasDir)
	require.NoError(t, os.WriteFile(filepath.Join(origin, "MANIFEST.toml"), []byte(manifest), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(origin, "snippets"), 0o755))
	snippet := "kind: snippet\nname: motd\nwelcome to the lab\n"
	require.NoError(t, os.WriteFile(filepath.Join(origin, "snippets", "motd.snippet"), []byte(snippet), 0o644))

	root := t.TempDir()
	cfg := &CrucibleConfig{
		SourceURL:   "file://" + origin,
		CrucibleDir: root,
		SourceDir:   filepath.Join(root, "source"),
		DepotDir:    filepath.Join(root, "depot"),
		CacheDir:    filepath.Join(root, "cache"),
		MirrorDir:   filepath.Join(root, "mirrors"),
		OutputDir:   filepath.Join(root, "output"),
		StatePath:   filepath.Join(root, "crucible.db"),
		Workers:     1,
		SourceConfig: &source.Config{
			URL: "file://" + origin,
		},
	}
	engine, err := NewCrucible(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &testFixture{
		engine:      engine,
		config:      cfg,
		originDir:   origin,
		baseDir:     baseDir,
		extrasDir:   extrasDir,
		upstreamDir: upstream,
	}
}

func TestReconcileFromManifest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, err := f.engine.Store.GetOrganization(ctx, "acme")
	require.NoError(t, err)

	envs, err := f.engine.Store.ListEnvironments(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, envs, 2)

	path, err := f.engine.Store.PromotionPath(ctx, org.ID, "dev")
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, inventory.LibraryEnvironment, path[0].Label)

	product, err := f.engine.Store.GetProduct(ctx, org.ID, "rhel")
	require.NoError(t, err)
	repos, err := f.engine.Store.ListRepositories(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, inventory.PolicyImmediate, repos[0].DownloadPolicy)
	assert.Equal(t, inventory.PolicyOnDemand, repos[1].DownloadPolicy)

	pattern, err := f.engine.Store.GetSetting(ctx, org.ID, PatternSetting)
	require.NoError(t, err)
	assert.Contains(t, pattern, "organization.label")

	snips, err := f.engine.Snippets.List()
	require.NoError(t, err)
	require.Len(t, snips, 1)
	assert.Equal(t, "motd", snips[0].Name)

	// reconciling again changes nothing
	require.NoError(t, f.engine.Reconcile(ctx))
}

func TestSyncRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, task.State)
	assert.False(t, task.Skipped)
	assert.Equal(t, "Synced 2 units.", task.Output)

	// immediate policy fills the cache
	cached, err := os.ReadFile(filepath.Join(f.engine.CachePath("acme", "rhel", "base"), "walrus-0.71.rpm"))
	require.NoError(t, err)
	assert.Equal(t, "walrus 0.71 payload", string(cached))

	// unchanged upstream: sync again reports nothing to do
	task, err = f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, task.State)
	assert.True(t, task.Skipped)
	assert.Equal(t, NoNewPackages, task.Output)
}

func TestPublishAndPromote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	_, err = f.engine.SyncRepository(ctx, "acme", "rhel", "extras")
	require.NoError(t, err)

	version, err := f.engine.Publish(ctx, "acme", "webstack")
	require.NoError(t, err)
	assert.Equal(t, "1.0", version.Name())

	// published trees exist for the version and for Library
	versionTree := depot.VersionPath("acme", "webstack", "1.0", "rhel", "base")
	units, err := f.engine.Depot.Units(versionTree)
	require.NoError(t, err)
	assert.Equal(t, []string{"bear-4.1.rpm", "walrus-0.71.rpm"}, units)

	libraryTree := depot.EnvironmentPath("acme", "Library", "webstack", "rhel", "base")
	_, err = f.engine.Depot.Revision(libraryTree)
	require.NoError(t, err)

	// the on demand repo publishes dangling symlinks until fetched
	extrasTree := depot.VersionPath("acme", "webstack", "1.0", "rhel", "extras")
	broken, err := f.engine.Depot.BrokenLinks(extrasTree)
	require.NoError(t, err)
	assert.Equal(t, []string{"kangaroo-0.2.rpm"}, broken)

	require.NoError(t, f.engine.FetchUnit(ctx, "acme", "rhel", "extras", "kangaroo-0.2.rpm"))
	broken, err = f.engine.Depot.BrokenLinks(extrasTree)
	require.NoError(t, err)
	assert.Empty(t, broken)

	// fetch swaps the published link for a real copy
	info, err := os.Lstat(filepath.Join(f.engine.Depot.Abs(extrasTree), "kangaroo-0.2.rpm"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	raw, err := f.engine.ReadVersionUnit(ctx, "acme", "webstack", "1.0", "rhel", "extras", "kangaroo-0.2.rpm")
	require.NoError(t, err)
	assert.Equal(t, "kangaroo 0.2 payload", string(raw))

	org, err := f.engine.Store.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	library, err := f.engine.Store.GetEnvironment(ctx, org.ID, inventory.LibraryEnvironment)
	require.NoError(t, err)
	envs, err := f.engine.Store.VersionEnvironments(ctx, version.ID)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, library.ID, envs[0].ID)

	task, err := f.engine.Promote(ctx, "acme", "webstack", "1.0", "dev", false)
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, task.State)

	envs, err = f.engine.Store.VersionEnvironments(ctx, version.ID)
	require.NoError(t, err)
	assert.Len(t, envs, 2)

	devTree := depot.EnvironmentPath("acme", "dev", "webstack", "rhel", "base")
	_, err = f.engine.Depot.Revision(devTree)
	require.NoError(t, err)
}

func TestDemoteVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	_, err = f.engine.SyncRepository(ctx, "acme", "rhel", "extras")
	require.NoError(t, err)
	version, err := f.engine.Publish(ctx, "acme", "webstack")
	require.NoError(t, err)
	task, err := f.engine.Promote(ctx, "acme", "webstack", "1.0", "dev", false)
	require.NoError(t, err)
	require.Equal(t, inventory.TaskSuccess, task.State)

	// Library always keeps its versions
	_, err = f.engine.Demote(ctx, "acme", "webstack", "1.0", inventory.LibraryEnvironment)
	require.Error(t, err)

	task, err = f.engine.Demote(ctx, "acme", "webstack", "1.0", "dev")
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, task.State)
	assert.Equal(t, "Demoted version 1.0 from dev.", task.Output)

	envs, err := f.engine.Store.VersionEnvironments(ctx, version.ID)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, inventory.LibraryEnvironment, envs[0].Label)

	devTree := depot.EnvironmentPath("acme", "dev", "webstack", "rhel", "base")
	_, err = f.engine.Depot.Revision(devTree)
	require.Error(t, err)

	// demoting again fails: dev no longer holds the version
	task, err = f.engine.Demote(ctx, "acme", "webstack", "1.0", "dev")
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskError, task.State)
}

func TestCapsuleMirrorSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	_, err = f.engine.SyncRepository(ctx, "acme", "rhel", "extras")
	require.NoError(t, err)
	_, err = f.engine.Publish(ctx, "acme", "webstack")
	require.NoError(t, err)
	task, err := f.engine.Promote(ctx, "acme", "webstack", "1.0", "dev", false)
	require.NoError(t, err)
	require.Equal(t, inventory.TaskSuccess, task.State)

	task, err = f.engine.SyncCapsule(ctx, "forge-proxy")
	require.NoError(t, err)
	require.Equal(t, inventory.TaskSuccess, task.State)

	mirror, err := depot.NewDepot(filepath.Join(f.config.MirrorDir, "forge-proxy"))
	require.NoError(t, err)
	devTree := depot.EnvironmentPath("acme", "dev", "webstack", "rhel", "base")
	units, err := mirror.Units(devTree)
	require.NoError(t, err)
	assert.Equal(t, []string{"bear-4.1.rpm", "walrus-0.71.rpm"}, units)

	// mirror in sync: the next run is a no-op
	task, err = f.engine.SyncCapsule(ctx, "forge-proxy")
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, task.State)
	assert.True(t, task.Skipped)

	status, err := f.engine.GetCapsuleStatus(ctx, "forge-proxy")
	require.NoError(t, err)
	assert.False(t, status.LastSync.IsZero())
	assert.Contains(t, status.Environments, "acme/dev")
}

func TestIncrementalUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	_, err = f.engine.SyncRepository(ctx, "acme", "rhel", "extras")
	require.NoError(t, err)
	_, err = f.engine.Publish(ctx, "acme", "webstack")
	require.NoError(t, err)

	// upstream gains a security fix and its erratum
	writeUpstream(t, f.baseDir, map[string]string{
		"walrus-5.21.rpm": "walrus 5.21 payload",
		"updateinfo.yaml": `errata:
  - id: "RHSA-2026:0001"
    type: security
    title: Walrus security update
    severity: Critical
    packages:
      - walrus-5.21.rpm
`,
	})
	task, err := f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	require.Equal(t, inventory.TaskSuccess, task.State)
	require.False(t, task.Skipped)

	version, err := f.engine.IncrementalUpdate(ctx, "acme", "webstack", []string{"RHSA-2026:0001"})
	require.NoError(t, err)
	assert.Equal(t, "1.1", version.Name())

	vc, err := f.engine.Store.VersionContent(ctx, version.ID)
	require.NoError(t, err)
	counts := vc.Counts()
	assert.Equal(t, 1, counts["erratum"])
	assert.Equal(t, 4, counts["package"])

	// the incremental version lands in the same environments as its base
	envs, err := f.engine.Store.VersionEnvironments(ctx, version.ID)
	require.NoError(t, err)
	assert.Len(t, envs, 1)

	// missing errata are an error
	_, err = f.engine.IncrementalUpdate(ctx, "acme", "webstack", []string{"RHSA-2026:9999"})
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestExportVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SyncRepository(ctx, "acme", "rhel", "base")
	require.NoError(t, err)
	_, err = f.engine.SyncRepository(ctx, "acme", "rhel", "extras")
	require.NoError(t, err)
	_, err = f.engine.Publish(ctx, "acme", "webstack")
	require.NoError(t, err)

	path, err := f.engine.Export(ctx, "acme", "webstack", "1.0")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Contains(t, path, "acme-webstack-1.0.tar.zst")

	// the archive restores under a different org on the disconnected side
	require.NoError(t, f.engine.ImportArchive(ctx, path, "acme-dr", "webstack", "1.0"))
	restored := f.engine.Depot.Abs(filepath.Join("acme-dr", "content_views", "webstack", "1.0", "rhel", "base", "walrus-0.71.rpm"))
	payload, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, "walrus 0.71 payload", string(payload))
}

func TestUnsupportedUpstream(t *testing.T) {
	_, err := upstreamDir("https://cdn.example.com/content")
	assert.ErrorIs(t, err, ErrUnsupportedUpstream)
	dir, err := upstreamDir("file:///srv/content")
	require.NoError(t, err)
	assert.Equal(t, "/srv/content", dir)
}
