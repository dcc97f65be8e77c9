package crucible

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"ironworks.systems/crucible/internal/capsule"
	"ironworks.systems/crucible/internal/content"
	"ironworks.systems/crucible/internal/depot"
	"ironworks.systems/crucible/internal/inventory"
	"ironworks.systems/crucible/internal/tasks"
)

var (
	ErrNothingToPublish = errors.New("view has no content to publish")
	ErrNotInPriorEnv    = errors.New("version is not in the prior environment")
)

// Publish freezes the view's current repository content as a new
// version, renders its immutable depot trees and promotes it to
// Library.
func (c *Crucible) Publish(ctx context.Context, orgLabel, viewLabel string) (*inventory.Version, error) {
	org, view, err := c.resolveView(ctx, orgLabel, viewLabel)
	if err != nil {
		return nil, err
	}
	var version *inventory.Version
	subject := fmt.Sprintf("%v/%v", org.Label, view.Label)
	task, err := c.Tasks.Run(ctx, subject, "publish", func(ctx context.Context) (tasks.Outcome, error) {
		vc, err := c.collectViewContent(ctx, view)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if len(vc) == 0 {
			return tasks.Outcome{}, ErrNothingToPublish
		}
		major, minor, err := c.Store.NextVersionNumbers(ctx, view.ID)
		if err != nil {
			return tasks.Outcome{}, err
		}
		version, err = c.Store.CreateVersion(ctx, view.ID, major, minor, vc)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if err := c.publishVersionTrees(ctx, org, view, version, vc); err != nil {
			return tasks.Outcome{}, err
		}
		library, err := c.Store.GetEnvironment(ctx, org.ID, inventory.LibraryEnvironment)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if err := c.promoteTo(ctx, org, view, version, library, vc); err != nil {
			return tasks.Outcome{}, err
		}
		return tasks.Outcome{Output: fmt.Sprintf("Published version %v.", version.Name())}, nil
	})
	if err != nil {
		return nil, err
	}
	if task.State == inventory.TaskError {
		return nil, fmt.Errorf("publish failed: %v", task.Result)
	}
	return version, nil
}

// Promote associates a published version with an environment and
// renders the environment's depot trees. Promotion follows the
// environment path: the version must already sit in the prior
// environment unless forced.
func (c *Crucible) Promote(ctx context.Context, orgLabel, viewLabel, versionName, envLabel string, force bool) (*inventory.Task, error) {
	org, view, err := c.resolveView(ctx, orgLabel, viewLabel)
	if err != nil {
		return nil, err
	}
	version, err := c.Store.GetVersion(ctx, view.ID, versionName)
	if err != nil {
		return nil, err
	}
	env, err := c.Store.GetEnvironment(ctx, org.ID, envLabel)
	if err != nil {
		return nil, err
	}
	subject := fmt.Sprintf("%v/%v", org.Label, view.Label)
	return c.Tasks.Run(ctx, subject, "promote", func(ctx context.Context) (tasks.Outcome, error) {
		if !force {
			if err := c.checkPromotionPath(ctx, org.ID, view.ID, version, env); err != nil {
				return tasks.Outcome{}, err
			}
		}
		vc, err := c.Store.VersionContent(ctx, version.ID)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if err := c.promoteTo(ctx, org, view, version, env, vc); err != nil {
			return tasks.Outcome{}, err
		}
		return tasks.Outcome{Output: fmt.Sprintf("Promoted version %v to %v.", version.Name(), env.Label)}, nil
	})
}

// checkPromotionPath requires the version to be present in the
// environment directly before the target on the org's path.
func (c *Crucible) checkPromotionPath(ctx context.Context, orgID, viewID int64, version *inventory.Version, env *inventory.Environment) error {
	path, err := c.Store.PromotionPath(ctx, orgID, env.Label)
	if err != nil {
		return err
	}
	if len(path) < 2 {
		return nil
	}
	prior := path[len(path)-2]
	held, err := c.Store.VersionInEnvironment(ctx, viewID, prior.ID)
	if errors.Is(err, inventory.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotInPriorEnv, prior.Label)
	}
	if err != nil {
		return err
	}
	if held.ID != version.ID {
		return fmt.Errorf("%w: %v holds %v", ErrNotInPriorEnv, prior.Label, held.Name())
	}
	return nil
}

// promoteTo records the association, renders the environment trees and
// kicks off a sync on every capsule mirroring the environment.
func (c *Crucible) promoteTo(ctx context.Context, org *inventory.Organization, view *inventory.ContentView, version *inventory.Version, env *inventory.Environment, vc inventory.VersionContent) error {
	if err := c.Store.AssociateEnvironment(ctx, version.ID, env.ID); err != nil {
		return err
	}
	if err := c.publishEnvironmentTrees(ctx, org, view, env, vc); err != nil {
		return err
	}
	capsules, err := c.Store.CapsulesForEnvironment(ctx, env.ID)
	if err != nil {
		return err
	}
	for _, caps := range capsules {
		if _, err := c.SubmitCapsuleSync(ctx, caps.Name); err != nil {
			return err
		}
	}
	return nil
}

// Demote pulls a version out of an environment, removes the
// environment's depot trees for it and resyncs the mirroring capsules.
// Library always retains its versions.
func (c *Crucible) Demote(ctx context.Context, orgLabel, viewLabel, versionName, envLabel string) (*inventory.Task, error) {
	org, view, err := c.resolveView(ctx, orgLabel, viewLabel)
	if err != nil {
		return nil, err
	}
	version, err := c.Store.GetVersion(ctx, view.ID, versionName)
	if err != nil {
		return nil, err
	}
	env, err := c.Store.GetEnvironment(ctx, org.ID, envLabel)
	if err != nil {
		return nil, err
	}
	if env.Label == inventory.LibraryEnvironment {
		return nil, fmt.Errorf("versions cannot leave %v", inventory.LibraryEnvironment)
	}
	subject := fmt.Sprintf("%v/%v", org.Label, view.Label)
	return c.Tasks.Run(ctx, subject, "demote", func(ctx context.Context) (tasks.Outcome, error) {
		held, err := c.Store.VersionInEnvironment(ctx, view.ID, env.ID)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if held.ID != version.ID {
			return tasks.Outcome{}, fmt.Errorf("%v holds version %v, not %v", env.Label, held.Name(), version.Name())
		}
		vc, err := c.Store.VersionContent(ctx, version.ID)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if err := c.Store.DissociateEnvironment(ctx, version.ID, env.ID); err != nil {
			return tasks.Outcome{}, err
		}
		for _, repoID := range slices.Sorted(maps.Keys(vc)) {
			repo, err := c.Store.GetRepositoryByID(ctx, repoID)
			if err != nil {
				return tasks.Outcome{}, err
			}
			if repo.Type == inventory.RepoContainer {
				continue
			}
			product, err := c.Store.GetProductByID(ctx, repo.ProductID)
			if err != nil {
				return tasks.Outcome{}, err
			}
			if err := c.Depot.Remove(depot.EnvironmentPath(org.Label, env.Label, view.Label, product.Label, repo.Label)); err != nil {
				return tasks.Outcome{}, err
			}
		}
		capsules, err := c.Store.CapsulesForEnvironment(ctx, env.ID)
		if err != nil {
			return tasks.Outcome{}, err
		}
		for _, caps := range capsules {
			if _, err := c.SubmitCapsuleSync(ctx, caps.Name); err != nil {
				return tasks.Outcome{}, err
			}
		}
		return tasks.Outcome{Output: fmt.Sprintf("Demoted version %v from %v.", version.Name(), env.Label)}, nil
	})
}

// ReadVersionUnit returns one published unit's bytes from a version's
// immutable depot tree.
func (c *Crucible) ReadVersionUnit(ctx context.Context, orgLabel, viewLabel, versionName, productLabel, repoLabel, unit string) ([]byte, error) {
	org, view, err := c.resolveView(ctx, orgLabel, viewLabel)
	if err != nil {
		return nil, err
	}
	version, err := c.Store.GetVersion(ctx, view.ID, versionName)
	if err != nil {
		return nil, err
	}
	rel := depot.VersionPath(org.Label, view.Label, version.Name(), productLabel, repoLabel)
	return c.Depot.ReadUnit(rel, unit)
}

// IncrementalUpdate adds errata (and the packages they carry) from the
// repositories' current content to the view's newest version, producing
// a minor version bump. Environments holding the base version get the
// update as well.
func (c *Crucible) IncrementalUpdate(ctx context.Context, orgLabel, viewLabel string, errataIDs []string) (*inventory.Version, error) {
	org, view, err := c.resolveView(ctx, orgLabel, viewLabel)
	if err != nil {
		return nil, err
	}
	versions, err := c.Store.ListVersions(ctx, view.ID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("view %v: %w", view.Label, inventory.ErrNotFound)
	}
	base := versions[len(versions)-1]

	vc, err := c.Store.VersionContent(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	added, err := c.foldErrata(ctx, view, vc, errataIDs)
	if err != nil {
		return nil, err
	}
	if added == 0 {
		return nil, fmt.Errorf("no new errata to apply: %w", inventory.ErrNotFound)
	}
	minor, err := c.Store.NextMinor(ctx, view.ID, base.Major)
	if err != nil {
		return nil, err
	}
	version, err := c.Store.CreateVersion(ctx, view.ID, base.Major, minor, vc)
	if err != nil {
		return nil, err
	}
	if err := c.publishVersionTrees(ctx, org, view, version, vc); err != nil {
		return nil, err
	}
	envs, err := c.Store.VersionEnvironments(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	for i := range envs {
		if err := c.promoteTo(ctx, org, view, version, &envs[i], vc); err != nil {
			return nil, err
		}
	}
	return version, nil
}

// foldErrata pulls each requested erratum out of the repositories'
// current synced content into the frozen version content, returning how
// many were new.
func (c *Crucible) foldErrata(ctx context.Context, view *inventory.ContentView, vc inventory.VersionContent, errataIDs []string) (int, error) {
	repos, err := c.Store.ViewRepositories(ctx, view.ID)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, id := range errataIDs {
		found := false
		for _, repo := range repos {
			current, err := c.Store.RepositoryContent(ctx, repo.ID)
			if err != nil {
				return added, err
			}
			erratum, ok := current.Erratum(id)
			if !ok {
				continue
			}
			found = true
			meta := vc[repo.ID]
			if meta == nil {
				meta = &content.Metadata{}
				vc[repo.ID] = meta
			}
			if _, ok := meta.Erratum(id); ok {
				log.Debug("erratum already in version", "erratum", id)
				break
			}
			meta.Errata = append(meta.Errata, erratum)
			for _, pkg := range erratum.Packages {
				for _, u := range current.Units {
					if u.Name == pkg && !slices.ContainsFunc(meta.Units, func(held content.Unit) bool {
						return held.Name == u.Name
					}) {
						meta.Units = append(meta.Units, u)
					}
				}
			}
			slices.SortFunc(meta.Units, content.CompareUnits)
			added++
			break
		}
		if !found {
			return added, fmt.Errorf("erratum %v: %w", id, inventory.ErrNotFound)
		}
	}
	return added, nil
}

// collectViewContent gathers what a publish freezes: the synced content
// of the view's repositories, or for a composite the union of its
// component versions.
func (c *Crucible) collectViewContent(ctx context.Context, view *inventory.ContentView) (inventory.VersionContent, error) {
	vc := make(inventory.VersionContent)
	if view.Composite {
		components, err := c.Store.ViewComponents(ctx, view.ID)
		if err != nil {
			return nil, err
		}
		for _, component := range components {
			componentContent, err := c.Store.VersionContent(ctx, component.ID)
			if err != nil {
				return nil, err
			}
			for repoID, meta := range componentContent {
				if _, ok := vc[repoID]; ok {
					log.Warn("repository appears in multiple component versions", "repository", repoID)
				}
				vc[repoID] = meta
			}
		}
		return vc, nil
	}
	repos, err := c.Store.ViewRepositories(ctx, view.ID)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		meta, err := c.Store.RepositoryContent(ctx, repo.ID)
		if err != nil {
			return nil, err
		}
		vc[repo.ID] = meta
	}
	return vc, nil
}

func (c *Crucible) publishVersionTrees(ctx context.Context, org *inventory.Organization, view *inventory.ContentView, version *inventory.Version, vc inventory.VersionContent) error {
	return c.publishTrees(ctx, org, vc, func(product, repo string) string {
		return depot.VersionPath(org.Label, view.Label, version.Name(), product, repo)
	})
}

func (c *Crucible) publishEnvironmentTrees(ctx context.Context, org *inventory.Organization, view *inventory.ContentView, env *inventory.Environment, vc inventory.VersionContent) error {
	return c.publishTrees(ctx, org, vc, func(product, repo string) string {
		return depot.EnvironmentPath(org.Label, env.Label, view.Label, product, repo)
	})
}

// publishTrees renders one depot tree per repository. Container
// repositories carry no file trees; they surface through the registry
// name pattern instead.
func (c *Crucible) publishTrees(ctx context.Context, org *inventory.Organization, vc inventory.VersionContent, relFor func(product, repo string) string) error {
	for _, repoID := range slices.Sorted(maps.Keys(vc)) {
		repo, err := c.Store.GetRepositoryByID(ctx, repoID)
		if err != nil {
			return err
		}
		if repo.Type == inventory.RepoContainer {
			continue
		}
		product, err := c.Store.GetProductByID(ctx, repo.ProductID)
		if err != nil {
			return err
		}
		srcDir := c.CachePath(org.Label, product.Label, repo.Label)
		mode := depot.ModeLink
		if repo.DownloadPolicy == inventory.PolicyOnDemand {
			mode = depot.ModeSymlink
		}
		skipped, err := c.Depot.PublishTree(relFor(product.Label, repo.Label), srcDir, vc[repoID], mode)
		if err != nil {
			return err
		}
		if skipped {
			log.Debug("tree already current", "repository", repo.Label)
		}
	}
	return nil
}

// SubmitCapsuleSync queues a mirror sync for one capsule and returns
// the task id without waiting.
func (c *Crucible) SubmitCapsuleSync(ctx context.Context, name string) (string, error) {
	caps, err := c.Store.GetCapsule(ctx, name)
	if err != nil {
		return "", err
	}
	return c.Tasks.Submit(ctx, caps.Name, "capsule-sync", c.capsuleSyncBody(caps))
}

// SyncCapsule runs a mirror sync for one capsule and waits for it.
func (c *Crucible) SyncCapsule(ctx context.Context, name string) (*inventory.Task, error) {
	caps, err := c.Store.GetCapsule(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.Tasks.Run(ctx, caps.Name, "capsule-sync", c.capsuleSyncBody(caps))
}

func (c *Crucible) capsuleSyncBody(caps *inventory.Capsule) func(context.Context) (tasks.Outcome, error) {
	return func(ctx context.Context) (tasks.Outcome, error) {
		desired, err := c.desiredCapsuleTrees(ctx, caps)
		if err != nil {
			return tasks.Outcome{}, err
		}
		mirror, err := depot.NewDepot(caps.Root)
		if err != nil {
			return tasks.Outcome{}, err
		}
		mirrorPlan, err := capsule.NewPlanner(c.Depot, mirror, c.diffs).Plan(ctx, desired)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if mirrorPlan.Empty() {
			return tasks.Outcome{Output: "Mirror already current.", Skipped: true}, nil
		}
		steps, err := capsule.NewExecutor(c.Depot, mirror).Execute(ctx, mirrorPlan)
		if err != nil {
			return tasks.Outcome{}, err
		}
		if err := c.Store.TouchCapsuleSync(ctx, caps.ID, time.Now()); err != nil {
			return tasks.Outcome{}, err
		}
		return tasks.Outcome{Output: fmt.Sprintf("Applied %d mirror steps.", steps)}, nil
	}
}

// desiredCapsuleTrees lists every depot environment tree the capsule's
// attached environments currently expose.
func (c *Crucible) desiredCapsuleTrees(ctx context.Context, caps *inventory.Capsule) ([]string, error) {
	envs, err := c.Store.CapsuleEnvironments(ctx, caps.ID)
	if err != nil {
		return nil, err
	}
	var trees []string
	for _, env := range envs {
		org, err := c.Store.GetOrganizationByID(ctx, env.OrgID)
		if err != nil {
			return nil, err
		}
		versions, err := c.Store.VersionsInEnvironment(ctx, env.ID)
		if err != nil {
			return nil, err
		}
		for _, version := range versions {
			view, err := c.Store.GetContentViewByID(ctx, version.ViewID)
			if err != nil {
				return nil, err
			}
			vc, err := c.Store.VersionContent(ctx, version.ID)
			if err != nil {
				return nil, err
			}
			for _, repoID := range slices.Sorted(maps.Keys(vc)) {
				repo, err := c.Store.GetRepositoryByID(ctx, repoID)
				if err != nil {
					return nil, err
				}
				if repo.Type == inventory.RepoContainer {
					continue
				}
				product, err := c.Store.GetProductByID(ctx, repo.ProductID)
				if err != nil {
					return nil, err
				}
				trees = append(trees, depot.EnvironmentPath(org.Label, env.Label, view.Label, product.Label, repo.Label))
			}
		}
	}
	slices.Sort(trees)
	return slices.Compact(trees), nil
}

func (c *Crucible) resolveView(ctx context.Context, orgLabel, viewLabel string) (*inventory.Organization, *inventory.ContentView, error) {
	org, err := c.Store.GetOrganization(ctx, orgLabel)
	if err != nil {
		return nil, nil, err
	}
	view, err := c.Store.GetContentView(ctx, org.ID, viewLabel)
	if err != nil {
		return nil, nil, err
	}
	return org, view, nil
}
