package inventory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ironworks.systems/crucible/internal/content"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOrganizationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	org, err := store.CreateOrganization(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Label)

	// Library comes with the org
	lib, err := store.GetEnvironment(ctx, org.ID, LibraryEnvironment)
	require.NoError(t, err)
	assert.Zero(t, lib.PriorID)

	_, err = store.CreateOrganization(ctx, "acme")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.CreateProduct(ctx, org.ID, "zoo")
	require.NoError(t, err)
	err = store.DeleteOrganization(ctx, "acme")
	assert.ErrorIs(t, err, ErrInUse)
}

func TestRepositoryContentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, err := store.CreateOrganization(ctx, "acme")
	require.NoError(t, err)
	product, err := store.CreateProduct(ctx, org.ID, "zoo")
	require.NoError(t, err)

	repo, err := store.CreateRepository(ctx, NewRepository{
		ProductID: product.ID,
		Label:     "zoo-packages",
		Type:      RepoYum,
		URL:       "file:///srv/zoo",
	})
	require.NoError(t, err)
	assert.Equal(t, PolicyImmediate, repo.DownloadPolicy)

	meta := &content.Metadata{
		Units: []content.Unit{
			{Name: "bear-4.1-1.noarch.rpm", Kind: content.UnitPackage, Digest: "aa"},
			{Name: "camel-0.1-1.noarch.rpm", Kind: content.UnitPackage, Digest: "bb"},
		},
		Errata: []content.Erratum{
			{ID: "RHSA-2026:0001", Type: "security", Packages: []string{"bear-4.1-1.noarch.rpm"}},
		},
	}
	require.NoError(t, store.SetRepositoryContent(ctx, repo.ID, meta))

	repo, err = store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.Revision(), repo.Revision)
	assert.False(t, repo.LastSync.IsZero())

	got, err := store.RepositoryContent(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.Units, got.Units)
	require.Len(t, got.Errata, 1)
	assert.Equal(t, []string{"bear-4.1-1.noarch.rpm"}, got.Errata[0].Packages)
	assert.Equal(t, meta.Revision(), got.Revision())
}

func TestRepositoryValidation(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, _ := store.CreateOrganization(ctx, "acme")
	product, _ := store.CreateProduct(ctx, org.ID, "zoo")

	_, err := store.CreateRepository(ctx, NewRepository{ProductID: product.ID, Label: "x", Type: "ostree"})
	assert.Error(t, err)
	_, err = store.CreateRepository(ctx, NewRepository{ProductID: product.ID, Label: "x", Type: RepoContainer})
	assert.Error(t, err, "container repo without upstream name")
	_, err = store.CreateRepository(ctx, NewRepository{ProductID: product.ID, Label: "x", Type: RepoYum, DownloadPolicy: "streaming"})
	assert.Error(t, err)
}

func TestPromotionPath(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, err := store.CreateOrganization(ctx, "acme")
	require.NoError(t, err)

	dev, err := store.CreateEnvironment(ctx, org.ID, "dev", "")
	require.NoError(t, err)
	_, err = store.CreateEnvironment(ctx, org.ID, "prod", "dev")
	require.NoError(t, err)

	path, err := store.PromotionPath(ctx, org.ID, "prod")
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, LibraryEnvironment, path[0].Label)
	assert.Equal(t, "dev", path[1].Label)
	assert.Equal(t, "prod", path[2].Label)

	lib, err := store.GetEnvironment(ctx, org.ID, LibraryEnvironment)
	require.NoError(t, err)
	assert.Equal(t, lib.ID, dev.PriorID)

	_, err = store.CreateEnvironment(ctx, org.ID, LibraryEnvironment, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestContentViewMembership(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, _ := store.CreateOrganization(ctx, "acme")
	product, _ := store.CreateProduct(ctx, org.ID, "zoo")
	repo, err := store.CreateRepository(ctx, NewRepository{
		ProductID: product.ID, Label: "zoo-packages", Type: RepoYum, URL: "file:///srv/zoo",
	})
	require.NoError(t, err)

	view, err := store.CreateContentView(ctx, org.ID, "zoo-view", false)
	require.NoError(t, err)
	require.NoError(t, store.AddViewRepository(ctx, view.ID, repo.ID))
	err = store.AddViewRepository(ctx, view.ID, repo.ID)
	assert.ErrorIs(t, err, ErrConflict, "same repo twice")

	repos, err := store.ViewRepositories(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, repos, 1)

	require.NoError(t, store.RemoveViewRepository(ctx, view.ID, repo.ID))
	err = store.RemoveViewRepository(ctx, view.ID, repo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompositeViewComponents(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, _ := store.CreateOrganization(ctx, "acme")
	component, err := store.CreateContentView(ctx, org.ID, "component", false)
	require.NoError(t, err)
	v1, err := store.CreateVersion(ctx, component.ID, 1, 0, nil)
	require.NoError(t, err)
	v2, err := store.CreateVersion(ctx, component.ID, 2, 0, nil)
	require.NoError(t, err)

	ccv, err := store.CreateContentView(ctx, org.ID, "composite", true)
	require.NoError(t, err)
	require.NoError(t, store.AddViewComponent(ctx, ccv.ID, v1.ID))
	err = store.AddViewComponent(ctx, ccv.ID, v2.ID)
	assert.ErrorIs(t, err, ErrConflict, "one version per component view")

	err = store.AddViewRepository(ctx, ccv.ID, 1)
	assert.ErrorIs(t, err, ErrComposite)
	err = store.AddViewComponent(ctx, component.ID, v1.ID)
	assert.ErrorIs(t, err, ErrNotComposite)

	// swapping the component version works
	require.NoError(t, store.RemoveViewComponent(ctx, ccv.ID, v1.ID))
	require.NoError(t, store.AddViewComponent(ctx, ccv.ID, v2.ID))
}

func TestVersionNumbers(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, _ := store.CreateOrganization(ctx, "acme")
	view, err := store.CreateContentView(ctx, org.ID, "zoo-view", false)
	require.NoError(t, err)

	major, minor, err := store.NextVersionNumbers(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, major)
	assert.Equal(t, 0, minor)

	v1, err := store.CreateVersion(ctx, view.ID, major, minor, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0", v1.Name())

	next, err := store.NextMinor(ctx, view.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	major, _, err = store.NextVersionNumbers(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, major)
}

func TestVersionEnvironments(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, _ := store.CreateOrganization(ctx, "acme")
	lib, _ := store.GetEnvironment(ctx, org.ID, LibraryEnvironment)
	dev, _ := store.CreateEnvironment(ctx, org.ID, "dev", "")
	view, _ := store.CreateContentView(ctx, org.ID, "zoo-view", false)
	v, err := store.CreateVersion(ctx, view.ID, 1, 0, nil)
	require.NoError(t, err)

	require.NoError(t, store.AssociateEnvironment(ctx, v.ID, lib.ID))
	require.NoError(t, store.AssociateEnvironment(ctx, v.ID, dev.ID))
	// re-promoting is a no-op
	require.NoError(t, store.AssociateEnvironment(ctx, v.ID, dev.ID))

	envs, err := store.VersionEnvironments(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, envs, 2)

	got, err := store.VersionInEnvironment(ctx, view.ID, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
}

func TestVersionContentFreeze(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, _ := store.CreateOrganization(ctx, "acme")
	product, _ := store.CreateProduct(ctx, org.ID, "zoo")
	repo, err := store.CreateRepository(ctx, NewRepository{
		ProductID: product.ID, Label: "zoo-packages", Type: RepoYum, URL: "file:///srv/zoo",
	})
	require.NoError(t, err)
	view, _ := store.CreateContentView(ctx, org.ID, "zoo-view", false)

	vc := VersionContent{
		repo.ID: &content.Metadata{
			Units: []content.Unit{{Name: "bear-4.1-1.noarch.rpm", Kind: content.UnitPackage, Digest: "aa"}},
			Errata: []content.Erratum{
				{ID: "RHSA-2026:0001", Packages: []string{"bear-4.1-1.noarch.rpm"}},
			},
		},
	}
	v, err := store.CreateVersion(ctx, view.ID, 1, 0, vc)
	require.NoError(t, err)

	got, err := store.VersionContent(ctx, v.ID)
	require.NoError(t, err)
	require.Contains(t, got, repo.ID)
	assert.Equal(t, vc[repo.ID].Units, got[repo.ID].Units)
	require.Len(t, got[repo.ID].Errata, 1)
	assert.Equal(t, map[string]int{"package": 1, "erratum": 1}, got.Counts())
}

func TestCapsuleAttachment(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	org, _ := store.CreateOrganization(ctx, "acme")
	dev, _ := store.CreateEnvironment(ctx, org.ID, "dev", "")

	capsule, err := store.CreateCapsule(ctx, "mirror1", "/srv/mirror1")
	require.NoError(t, err)
	require.NoError(t, store.AttachCapsuleEnvironment(ctx, capsule.ID, dev.ID))
	err = store.AttachCapsuleEnvironment(ctx, capsule.ID, dev.ID)
	assert.ErrorIs(t, err, ErrConflict)

	envs, err := store.CapsuleEnvironments(ctx, capsule.ID)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "dev", envs[0].Label)

	// detach refuses while promoted content exists
	view, _ := store.CreateContentView(ctx, org.ID, "zoo-view", false)
	v, _ := store.CreateVersion(ctx, view.ID, 1, 0, nil)
	require.NoError(t, store.AssociateEnvironment(ctx, v.ID, dev.ID))
	err = store.DetachCapsuleEnvironment(ctx, capsule.ID, dev.ID, false)
	assert.ErrorIs(t, err, ErrInUse)
	require.NoError(t, store.DetachCapsuleEnvironment(ctx, capsule.ID, dev.ID, true))
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	task := Task{
		ID:        "0b7bbcb5-a1f9-4d41-8b55-3ef721eff7a6",
		Subject:   "repository/1",
		Action:    "sync",
		State:     TaskRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.InsertTask(ctx, task))

	active, err := store.ActiveTasks(ctx, "repository/1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	task.State = TaskSuccess
	task.Output = "No new packages."
	task.Skipped = true
	task.EndedAt = time.Now().UTC()
	require.NoError(t, store.UpdateTask(ctx, task))

	active, err = store.ActiveTasks(ctx, "repository/1")
	require.NoError(t, err)
	assert.Empty(t, active)

	last, err := store.LastTask(ctx, "repository/1")
	require.NoError(t, err)
	assert.Equal(t, TaskSuccess, last.State)
	assert.True(t, last.Skipped)
	assert.Equal(t, "No new packages.", last.Output)
}
