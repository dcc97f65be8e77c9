package crucible

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"ironworks.systems/crucible/internal/content"
	"ironworks.systems/crucible/internal/credentials"
	"ironworks.systems/crucible/internal/inventory"
	"ironworks.systems/crucible/internal/registry"
	"ironworks.systems/crucible/internal/tasks"
)

// NoNewPackages is reported when a sync found the upstream unchanged.
const NoNewPackages = "No new packages."

var ErrUnsupportedUpstream = errors.New("unsupported upstream URL")

// SyncRepository syncs one repository from its upstream and waits for
// the result. The upstream is rescanned; when its content revision
// matches what the inventory already holds the task is marked skipped.
func (c *Crucible) SyncRepository(ctx context.Context, orgLabel, productLabel, repoLabel string) (*inventory.Task, error) {
	org, product, repo, err := c.resolveRepo(ctx, orgLabel, productLabel, repoLabel)
	if err != nil {
		return nil, err
	}
	subject := fmt.Sprintf("%v/%v/%v", org.Label, product.Label, repo.Label)
	return c.Tasks.Run(ctx, subject, "sync", c.syncBody(org, product, repo))
}

// SyncProduct submits a sync for every repository of a product, then
// waits for all of them. The task runner bounds how many run at once.
func (c *Crucible) SyncProduct(ctx context.Context, orgLabel, productLabel string) ([]*inventory.Task, error) {
	org, err := c.Store.GetOrganization(ctx, orgLabel)
	if err != nil {
		return nil, err
	}
	product, err := c.Store.GetProduct(ctx, org.ID, productLabel)
	if err != nil {
		return nil, err
	}
	repos, err := c.Store.ListRepositories(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(repos))
	for i := range repos {
		repo := repos[i]
		subject := fmt.Sprintf("%v/%v/%v", org.Label, product.Label, repo.Label)
		id, err := c.Tasks.Submit(ctx, subject, "sync", c.syncBody(org, product, &repo))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	var results []*inventory.Task
	for _, id := range ids {
		t, err := c.Tasks.Poll(ctx, id)
		if err != nil {
			return results, err
		}
		results = append(results, t)
	}
	return results, nil
}

func (c *Crucible) syncBody(org *inventory.Organization, product *inventory.Product, repo *inventory.Repository) func(context.Context) (tasks.Outcome, error) {
	return func(ctx context.Context) (tasks.Outcome, error) {
		meta, srcDir, err := c.fetchUpstream(ctx, org, product, repo)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if meta.Revision() == repo.Revision {
			log.Debug("upstream unchanged", "repository", repo.Label)
			return tasks.Outcome{Output: NoNewPackages, Skipped: true}, nil
		}
		if err := c.Store.SetRepositoryContent(ctx, repo.ID, meta); err != nil {
			return tasks.Outcome{}, err
		}
		if repo.Type != inventory.RepoContainer && repo.DownloadPolicy == inventory.PolicyImmediate {
			if err := c.fillCache(org, product, repo, srcDir, meta); err != nil {
				return tasks.Outcome{}, err
			}
		}
		output := fmt.Sprintf("Synced %d units.", len(meta.Units))
		if len(meta.Errata) > 0 {
			output = fmt.Sprintf("Synced %d units, %d errata.", len(meta.Units), len(meta.Errata))
		}
		return tasks.Outcome{Output: output}, nil
	}
}

// fetchUpstream reads the upstream's current content. Yum and file
// repositories scan a local or file:// tree; container repositories
// list tags on the remote registry.
func (c *Crucible) fetchUpstream(ctx context.Context, org *inventory.Organization, product *inventory.Product, repo *inventory.Repository) (*content.Metadata, string, error) {
	if repo.Type == inventory.RepoContainer {
		creds := c.Credentials.Lookup(ctx, credentials.Filter{
			Organization: org.Label,
			Product:      product.Label,
		})
		user, pass := credentials.BasicAuth(creds)
		tags, err := registry.NewClient(user, pass).Tags(ctx, repo.URL, repo.UpstreamName)
		if err != nil {
			return nil, "", fmt.Errorf("error listing tags: %w", err)
		}
		return registry.TagMetadata(tags), "", nil
	}

	dir, err := upstreamDir(repo.URL)
	if err != nil {
		return nil, "", err
	}
	meta, err := content.ScanTree(dir)
	if err != nil {
		return nil, "", err
	}
	return meta, dir, nil
}

// upstreamDir maps a repository URL to a scannable directory. Only
// local trees are fetchable; anything else needs a capsule or mirror in
// front of it.
func upstreamDir(url string) (string, error) {
	if rest, ok := strings.CutPrefix(url, "file://"); ok {
		return rest, nil
	}
	if strings.Contains(url, "://") {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedUpstream, url)
	}
	if url == "" {
		return "", fmt.Errorf("%w: empty URL", ErrUnsupportedUpstream)
	}
	return url, nil
}

// CachePath is where synced unit payloads live for one repository.
func (c *Crucible) CachePath(orgLabel, productLabel, repoLabel string) string {
	return filepath.Join(c.cacheDir, orgLabel, productLabel, repoLabel)
}

// fillCache copies upstream unit payloads into the repository cache, so
// published trees can hardlink them. On demand repositories skip this;
// their units arrive through FetchUnit.
func (c *Crucible) fillCache(org *inventory.Organization, product *inventory.Product, repo *inventory.Repository, srcDir string, meta *content.Metadata) error {
	cache := c.CachePath(org.Label, product.Label, repo.Label)
	for _, u := range meta.Units {
		dst := filepath.Join(cache, u.Name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, u.Name), dst); err != nil {
			return fmt.Errorf("error caching unit %v: %w", u.Name, err)
		}
	}
	if len(meta.Errata) > 0 {
		if err := copyFile(filepath.Join(srcDir, content.UpdateinfoFile), filepath.Join(cache, content.UpdateinfoFile)); err != nil {
			return fmt.Errorf("error caching updateinfo: %w", err)
		}
	}
	return nil
}

// FetchUnit pulls one on demand unit from its upstream into the cache,
// resolving every published symlink that points at it.
func (c *Crucible) FetchUnit(ctx context.Context, orgLabel, productLabel, repoLabel, unit string) error {
	org, product, repo, err := c.resolveRepo(ctx, orgLabel, productLabel, repoLabel)
	if err != nil {
		return err
	}
	if repo.Type == inventory.RepoContainer {
		return fmt.Errorf("%w: container units are not fetchable", ErrUnsupportedUpstream)
	}
	dir, err := upstreamDir(repo.URL)
	if err != nil {
		return err
	}
	cache := c.CachePath(org.Label, product.Label, repo.Label)
	dst := filepath.Join(cache, unit)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := copyFile(filepath.Join(dir, unit), dst); err != nil {
		return err
	}
	trees, err := c.Depot.Trees("")
	if err != nil {
		return err
	}
	suffix := string(filepath.Separator) + filepath.Join(product.Label, repo.Label)
	for _, tree := range trees {
		if !strings.HasPrefix(tree, org.Label+string(filepath.Separator)) || !strings.HasSuffix(tree, suffix) {
			continue
		}
		// trees published before the unit appeared upstream do not carry
		// its link
		if err := c.Depot.Fetch(tree, unit, cache); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (c *Crucible) resolveRepo(ctx context.Context, orgLabel, productLabel, repoLabel string) (*inventory.Organization, *inventory.Product, *inventory.Repository, error) {
	org, err := c.Store.GetOrganization(ctx, orgLabel)
	if err != nil {
		return nil, nil, nil, err
	}
	product, err := c.Store.GetProduct(ctx, org.ID, productLabel)
	if err != nil {
		return nil, nil, nil, err
	}
	repo, err := c.Store.GetRepository(ctx, product.ID, repoLabel)
	if err != nil {
		return nil, nil, nil, err
	}
	return org, product, repo, nil
}

func copyFile(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, raw, 0o644)
}
