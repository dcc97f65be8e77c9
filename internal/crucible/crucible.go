package crucible

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"ironworks.systems/crucible/internal/content"
	"ironworks.systems/crucible/internal/credentials"
	"ironworks.systems/crucible/internal/credentials/age"
	filecreds "ironworks.systems/crucible/internal/credentials/file"
	"ironworks.systems/crucible/internal/credentials/mem"
	"ironworks.systems/crucible/internal/credentials/sops"
	"ironworks.systems/crucible/internal/depot"
	"ironworks.systems/crucible/internal/inventory"
	"ironworks.systems/crucible/internal/registry"
	"ironworks.systems/crucible/internal/snippets"
	"ironworks.systems/crucible/internal/source"
	"ironworks.systems/crucible/internal/tasks"
	"ironworks.systems/crucible/pkg/manifests"
)

// PatternSetting is the per org setting key holding the registry name
// pattern container names are rendered with.
const PatternSetting = "registry_name_pattern"

type Crucible struct {
	Manifest    *manifests.CrucibleManifest
	Store       *inventory.Store
	Depot       *depot.Depot
	Snippets    *snippets.Store
	Credentials credentials.Manager
	Tasks       *tasks.Runner
	Pattern     registry.Pattern

	source    source.Source
	sourceDir string
	cacheDir  string
	mirrorDir string
	outputDir string

	debug   bool
	diffs   bool
	quiet   bool
	workers int
}

func NewCrucible(ctx context.Context, c *CrucibleConfig) (*Crucible, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{c.CrucibleDir, c.CacheDir, c.MirrorDir, c.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating prefix: %w", err)
		}
	}

	src, err := source.New(c.SourceDir, c.SourceURL, c.SourceConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid source: %w", err)
	}
	if c.NoSync {
		log.Debug("skipping source update on request")
	} else {
		log.Debug("updating configured content source")
		if err := src.Sync(ctx); err != nil {
			return nil, fmt.Errorf("error syncing source: %w", err)
		}
	}

	log.Debug("loading manifest")
	man, err := manifests.LoadCrucibleManifest(filepath.Join(c.SourceDir, manifests.CrucibleManifestFile))
	if err != nil {
		return nil, fmt.Errorf("error loading manifest: %w", err)
	}
	if err := man.Validate(); err != nil {
		return nil, err
	}

	snippetDir := filepath.Join(c.SourceDir, man.SnippetDir)
	if err := os.MkdirAll(snippetDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating snippet dir: %w", err)
	}
	snips, err := snippets.NewStore(snippetDir)
	if err != nil {
		return nil, err
	}

	store, err := inventory.Open(c.StatePath)
	if err != nil {
		return nil, fmt.Errorf("error opening inventory: %w", err)
	}

	d, err := depot.NewDepot(c.DepotDir)
	if err != nil {
		return nil, err
	}

	pattern := registry.Pattern(man.Registry.NamePattern)
	if pattern == "" {
		pattern = registry.DefaultPattern
	}
	if err := pattern.Validate(); err != nil {
		return nil, err
	}

	cr := &Crucible{
		Manifest:  man,
		Store:     store,
		Depot:     d,
		Snippets:  snips,
		Tasks:     tasks.NewRunner(ctx, store, c.Workers),
		Pattern:   pattern,
		source:    src,
		sourceDir: c.SourceDir,
		cacheDir:  c.CacheDir,
		mirrorDir: c.MirrorDir,
		outputDir: c.OutputDir,
		debug:     c.Debug,
		diffs:     c.Diffs,
		quiet:     c.Quiet,
		workers:   c.Workers,
	}

	switch man.Credentials {
	case "age":
		if c.AgeConfig == nil {
			return nil, errors.New("manifest wants age credentials but none are configured")
		}
		cr.Credentials, err = age.NewAgeStore(*c.AgeConfig, c.SourceDir)
		if err != nil {
			return nil, fmt.Errorf("error creating age store: %w", err)
		}
	case "file":
		conf := filecreds.Config{BaseDir: "credentials"}
		if c.FileConfig != nil {
			conf.Merge(c.FileConfig)
		}
		cr.Credentials, err = filecreds.NewFileStore(conf, c.SourceDir)
		if err != nil {
			return nil, fmt.Errorf("error creating file store: %w", err)
		}
	case "sops":
		if c.SopsConfig == nil {
			return nil, errors.New("manifest wants sops credentials but none are configured")
		}
		cr.Credentials, err = sops.NewSopsStore(*c.SopsConfig, c.SourceDir)
		if err != nil {
			return nil, fmt.Errorf("error creating sops store: %w", err)
		}
	case "", "mem":
		cr.Credentials = mem.NewMemoryManager()
	default:
		return nil, fmt.Errorf("unknown credentials backend %v", man.Credentials)
	}

	if err := cr.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("error reconciling manifest: %w", err)
	}
	return cr, nil
}

func (c *Crucible) Close() error {
	if err := c.Tasks.Close(); err != nil {
		return err
	}
	return c.Store.Close()
}

// Clean drops the synced source cache.
func (c *Crucible) Clean(ctx context.Context) error {
	return c.source.Clean()
}

// Reconcile folds the manifest into the inventory: organizations,
// environments, products, repositories, views and capsules get created
// or updated to match. Nothing is deleted here; retiring entities is an
// operator action.
func (c *Crucible) Reconcile(ctx context.Context) error {
	for _, orgLabel := range slices.Sorted(maps.Keys(c.Manifest.Organizations)) {
		if err := c.reconcileOrg(ctx, orgLabel, c.Manifest.Organizations[orgLabel]); err != nil {
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(c.Manifest.Capsules)) {
		if err := c.reconcileCapsule(ctx, name, c.Manifest.Capsules[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Crucible) reconcileOrg(ctx context.Context, label string, mo manifests.Organization) error {
	org, err := c.Store.CreateOrganization(ctx, label)
	if errors.Is(err, inventory.ErrConflict) {
		org, err = c.Store.GetOrganization(ctx, label)
	}
	if err != nil {
		return err
	}
	if err := c.Store.SetSetting(ctx, org.ID, PatternSetting, string(c.Pattern)); err != nil {
		return err
	}

	if err := c.reconcileEnvironments(ctx, org.ID, mo.Environments); err != nil {
		return err
	}

	var patternInputs []registry.PatternInput
	for _, productLabel := range slices.Sorted(maps.Keys(mo.Products)) {
		inputs, err := c.reconcileProduct(ctx, org, productLabel, mo.Products[productLabel])
		if err != nil {
			return err
		}
		patternInputs = append(patternInputs, inputs...)
	}
	if err := c.Pattern.CheckUnique(patternInputs); err != nil {
		return fmt.Errorf("organization %v: %w", label, err)
	}

	for _, viewLabel := range slices.Sorted(maps.Keys(mo.Views)) {
		if err := c.reconcileView(ctx, org.ID, viewLabel, mo.Views[viewLabel]); err != nil {
			return err
		}
	}
	return nil
}

// reconcileEnvironments creates environments priors first, so a chain
// declared in any order still builds Library -> dev -> prod.
func (c *Crucible) reconcileEnvironments(ctx context.Context, orgID int64, envs map[string]manifests.Environment) error {
	remaining := slices.Sorted(maps.Keys(envs))
	for len(remaining) > 0 {
		var deferred []string
		for _, label := range remaining {
			prior := envs[label].Prior
			if prior != "" && prior != inventory.LibraryEnvironment {
				if _, err := c.Store.GetEnvironment(ctx, orgID, prior); errors.Is(err, inventory.ErrNotFound) {
					deferred = append(deferred, label)
					continue
				} else if err != nil {
					return err
				}
			}
			_, err := c.Store.CreateEnvironment(ctx, orgID, label, prior)
			if err != nil && !errors.Is(err, inventory.ErrConflict) {
				return err
			}
		}
		if len(deferred) == len(remaining) {
			return fmt.Errorf("environment chain never resolves: %v", deferred)
		}
		remaining = deferred
	}
	return nil
}

func (c *Crucible) reconcileProduct(ctx context.Context, org *inventory.Organization, label string, mp manifests.Product) ([]registry.PatternInput, error) {
	product, err := c.Store.CreateProduct(ctx, org.ID, label)
	if errors.Is(err, inventory.ErrConflict) {
		product, err = c.Store.GetProduct(ctx, org.ID, label)
	}
	if err != nil {
		return nil, err
	}

	defs := mp.Repositories
	imported, err := c.importRepoFiles(org.Label, label)
	if err != nil {
		return nil, err
	}
	defs = append(defs, imported...)

	var inputs []registry.PatternInput
	for _, mr := range defs {
		repo, err := c.ensureRepository(ctx, product.ID, mr)
		if err != nil {
			return nil, err
		}
		if repo.Type == inventory.RepoContainer {
			inputs = append(inputs, registry.PatternInput{
				Organization: org.Label,
				Product:      label,
				Repository:   repo.Label,
				UpstreamName: repo.UpstreamName,
			})
		}
	}
	return inputs, nil
}

// importRepoFiles folds .repo definition files under
// <source>/<RepoDir>/<org>/<product>/ into the product's repositories.
func (c *Crucible) importRepoFiles(orgLabel, productLabel string) ([]manifests.Repository, error) {
	dir := filepath.Join(c.sourceDir, c.Manifest.RepoDir, orgLabel, productLabel)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result []manifests.Repository
	for _, e := range entries {
		if e.IsDir() || !content.IsRepoFile(e.Name()) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		defs, err := content.ParseRepoFile(raw)
		if err != nil {
			return nil, fmt.Errorf("error importing %v: %w", e.Name(), err)
		}
		for _, def := range defs {
			if !def.Enabled {
				log.Debug("skipping disabled repo definition", "repo", def.Label)
				continue
			}
			result = append(result, manifests.Repository{
				Label:          def.Label,
				Type:           string(inventory.RepoYum),
				URL:            def.URL,
				DownloadPolicy: def.DownloadPolicy,
			})
		}
	}
	return result, nil
}

func (c *Crucible) ensureRepository(ctx context.Context, productID int64, mr manifests.Repository) (*inventory.Repository, error) {
	repoType := inventory.RepoType(mr.Type)
	if mr.Type == "" {
		repoType = inventory.RepoYum
	}
	if repoType == inventory.RepoContainer {
		if err := registry.ValidateUpstreamName(mr.UpstreamName); err != nil {
			return nil, fmt.Errorf("repository %v: %w", mr.Label, err)
		}
	}
	repo, err := c.Store.CreateRepository(ctx, inventory.NewRepository{
		ProductID:      productID,
		Label:          mr.Label,
		Type:           repoType,
		URL:            mr.URL,
		DownloadPolicy: inventory.DownloadPolicy(mr.DownloadPolicy),
		UpstreamName:   mr.UpstreamName,
	})
	if errors.Is(err, inventory.ErrConflict) {
		repo, err = c.Store.GetRepository(ctx, productID, mr.Label)
		if err != nil {
			return nil, err
		}
		if repo.URL != mr.URL || repo.UpstreamName != mr.UpstreamName {
			err = c.Store.UpdateRepository(ctx, repo.ID, inventory.RepositoryUpdate{
				URL:          &mr.URL,
				UpstreamName: &mr.UpstreamName,
			})
			if err != nil {
				return nil, err
			}
			repo, err = c.Store.GetRepositoryByID(ctx, repo.ID)
		}
	}
	return repo, err
}

func (c *Crucible) reconcileView(ctx context.Context, orgID int64, label string, mv manifests.View) error {
	view, err := c.Store.CreateContentView(ctx, orgID, label, mv.Composite)
	if errors.Is(err, inventory.ErrConflict) {
		view, err = c.Store.GetContentView(ctx, orgID, label)
	}
	if err != nil {
		return err
	}
	if mv.Composite {
		for _, component := range mv.Components {
			if err := c.attachLatestComponent(ctx, orgID, view.ID, component); err != nil {
				return err
			}
		}
		return nil
	}
	for _, ref := range mv.Repositories {
		productLabel, repoLabel, _ := strings.Cut(ref, "/")
		product, err := c.Store.GetProduct(ctx, orgID, productLabel)
		if err != nil {
			return err
		}
		repo, err := c.Store.GetRepository(ctx, product.ID, repoLabel)
		if err != nil {
			return err
		}
		err = c.Store.AddViewRepository(ctx, view.ID, repo.ID)
		if err != nil && !errors.Is(err, inventory.ErrConflict) {
			return err
		}
	}
	return nil
}

// attachLatestComponent links a composite view to the newest published
// version of a component view. Components without a published version
// are left for a later reconcile.
func (c *Crucible) attachLatestComponent(ctx context.Context, orgID, viewID int64, componentLabel string) error {
	component, err := c.Store.GetContentView(ctx, orgID, componentLabel)
	if err != nil {
		return err
	}
	versions, err := c.Store.ListVersions(ctx, component.ID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		log.Warn("composite component has no published version yet", "view", componentLabel)
		return nil
	}
	latest := versions[len(versions)-1]
	err = c.Store.AddViewComponent(ctx, viewID, latest.ID)
	if err != nil && !errors.Is(err, inventory.ErrConflict) {
		return err
	}
	return nil
}

func (c *Crucible) reconcileCapsule(ctx context.Context, name string, mc manifests.Capsule) error {
	capsule, err := c.Store.CreateCapsule(ctx, name, filepath.Join(c.mirrorDir, name))
	if errors.Is(err, inventory.ErrConflict) {
		capsule, err = c.Store.GetCapsule(ctx, name)
	}
	if err != nil {
		return err
	}
	orgs, err := c.Store.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	for _, envLabel := range mc.Environments {
		for _, org := range orgs {
			env, err := c.Store.GetEnvironment(ctx, org.ID, envLabel)
			if errors.Is(err, inventory.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			err = c.Store.AttachCapsuleEnvironment(ctx, capsule.ID, env.ID)
			if err != nil && !errors.Is(err, inventory.ErrConflict) {
				return err
			}
		}
	}
	return nil
}
