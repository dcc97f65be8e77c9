package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"ironworks.systems/crucible/internal/crucible"
	"ironworks.systems/crucible/internal/inventory"
)

var Version string

// contentRef splits an "org/product" or "org/product/repo" argument.
func contentRef(arg string) (string, string, string, error) {
	parts := strings.Split(arg, "/")
	switch len(parts) {
	case 2:
		return parts[0], parts[1], "", nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("expected org/product or org/product/repo, got %q", arg)
	}
}

func reportTask(task *inventory.Task) error {
	if task.State == inventory.TaskError {
		return fmt.Errorf("task %v failed: %v", task.ID, task.Result)
	}
	fmt.Println(task.Output)
	return nil
}

func main() {
	cliflags := make(map[string]any)
	ctx := context.Background()

	var configFile string

	app := &cli.Command{
		Name:  "crucible",
		Usage: "Manage content lifecycles: sync repositories, publish and promote content views, mirror to capsules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Specified TOML config file",
				Required:    false,
				Destination: &configFile,
				Aliases:     []string{"c"},
				Sources:     cli.EnvVars("CRUCIBLE_CONFIG"),
				Action: func(ctx context.Context, cCtx *cli.Command, v string) error {
					if v == "" {
						return errors.New("config file passed without value")
					}
					if _, err := os.Stat(v); err != nil && os.IsNotExist(err) {
						return errors.New("config file not found")
					} else if err != nil {
						return err
					}
					return nil
				},
			},
			&cli.BoolFlag{
				Name:     "nosync",
				Usage:    "Skip updating the local source checkout",
				Required: false,
				Sources:  cli.EnvVars("CRUCIBLE_NOSYNC"),
				Action: func(ctx context.Context, cm *cli.Command, b bool) error {
					cliflags["nosync"] = true
					return nil
				},
			},
			&cli.BoolFlag{
				Name:     "debug",
				Usage:    "Enable debug logging",
				Required: false,
				Sources:  cli.EnvVars("CRUCIBLE_DEBUG"),
				Action: func(ctx context.Context, cm *cli.Command, b bool) error {
					cliflags["debug"] = true
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Dump active config",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					k, err := LoadConfigs(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					c, err := crucible.NewConfig(k)
					if err != nil {
						log.Fatal(err)
					}
					fmt.Println(c)
					return nil
				},
			},
			{
				Name:      "sync",
				Usage:     "Sync repositories from their upstreams",
				ArgsUsage: "org/product[/repo]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Concurrent sync tasks",
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					ref := cCtx.Args().First()
					if ref == "" {
						return cli.Exit("specify org/product or org/product/repo to sync", 1)
					}
					if cCtx.IsSet("workers") {
						cliflags["workers"] = cCtx.Int("workers")
					}
					org, product, repo, err := contentRef(ref)
					if err != nil {
						return err
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					if repo != "" {
						task, err := engine.SyncRepository(ctx, org, product, repo)
						if err != nil {
							return err
						}
						return reportTask(task)
					}
					results, err := engine.SyncProduct(ctx, org, product)
					if err != nil {
						return err
					}
					var failed int
					for _, task := range results {
						if task.State == inventory.TaskError {
							failed++
							fmt.Printf("%v: %v\n", task.Subject, task.Result)
							continue
						}
						fmt.Printf("%v: %v\n", task.Subject, task.Output)
					}
					if failed > 0 {
						return fmt.Errorf("%v repositories failed to sync", failed)
					}
					return nil
				},
			},
			{
				Name:      "publish",
				Usage:     "Publish a new content view version from current repository content",
				ArgsUsage: "org view",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					org := cCtx.Args().Get(0)
					view := cCtx.Args().Get(1)
					if org == "" || view == "" {
						return cli.Exit("specify an organization and content view", 1)
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					version, err := engine.Publish(ctx, org, view)
					if err != nil {
						return err
					}
					fmt.Printf("published %v version %v\n", view, version.Name())
					return nil
				},
			},
			{
				Name:      "promote",
				Usage:     "Promote a published version to a lifecycle environment",
				ArgsUsage: "org view version environment",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip the promotion path check",
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					org := cCtx.Args().Get(0)
					view := cCtx.Args().Get(1)
					version := cCtx.Args().Get(2)
					env := cCtx.Args().Get(3)
					if org == "" || view == "" || version == "" || env == "" {
						return cli.Exit("specify org, view, version, and target environment", 1)
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					task, err := engine.Promote(ctx, org, view, version, env, cCtx.Bool("force"))
					if err != nil {
						return err
					}
					return reportTask(task)
				},
			},
			{
				Name:      "demote",
				Usage:     "Pull a promoted version back out of a lifecycle environment",
				ArgsUsage: "org view version environment",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					org := cCtx.Args().Get(0)
					view := cCtx.Args().Get(1)
					version := cCtx.Args().Get(2)
					env := cCtx.Args().Get(3)
					if org == "" || view == "" || version == "" || env == "" {
						return cli.Exit("specify org, view, version, and environment", 1)
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					task, err := engine.Demote(ctx, org, view, version, env)
					if err != nil {
						return err
					}
					return reportTask(task)
				},
			},
			{
				Name:      "incremental",
				Usage:     "Add errata to the latest version without a full republish",
				ArgsUsage: "org view",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "errata",
						Aliases: []string{"e"},
						Usage:   "Erratum IDs to fold in",
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					org := cCtx.Args().Get(0)
					view := cCtx.Args().Get(1)
					errata := cCtx.StringSlice("errata")
					if org == "" || view == "" {
						return cli.Exit("specify an organization and content view", 1)
					}
					if len(errata) == 0 {
						return cli.Exit("specify at least one erratum with --errata", 1)
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					version, err := engine.IncrementalUpdate(ctx, org, view, errata)
					if err != nil {
						return err
					}
					fmt.Printf("published incremental version %v\n", version.Name())
					return nil
				},
			},
			{
				Name:      "fetch",
				Usage:     "Fetch an on demand unit into the cache",
				ArgsUsage: "org/product/repo unit",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					ref := cCtx.Args().Get(0)
					unit := cCtx.Args().Get(1)
					if ref == "" || unit == "" {
						return cli.Exit("specify org/product/repo and a unit name", 1)
					}
					org, product, repo, err := contentRef(ref)
					if err != nil {
						return err
					}
					if repo == "" {
						return cli.Exit("fetch needs a full org/product/repo reference", 1)
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					return engine.FetchUnit(ctx, org, product, repo, unit)
				},
			},
			{
				Name:  "repo",
				Usage: "Inspect repositories",
				Commands: []*cli.Command{
					{
						Name:      "list",
						Usage:     "List repositories for an organization",
						ArgsUsage: "org",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							orgLabel := cCtx.Args().First()
							if orgLabel == "" {
								return cli.Exit("specify an organization", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							org, err := engine.Store.GetOrganization(ctx, orgLabel)
							if err != nil {
								return err
							}
							products, err := engine.Store.ListProducts(ctx, org.ID)
							if err != nil {
								return err
							}
							for _, product := range products {
								repos, err := engine.Store.ListRepositories(ctx, product.ID)
								if err != nil {
									return err
								}
								for _, repo := range repos {
									fmt.Printf("%v/%v\t%v\t%v\t%v\n", product.Label, repo.Label, repo.Type, repo.DownloadPolicy, repo.URL)
								}
							}
							return nil
						},
					},
					{
						Name:      "import",
						Usage:     "Import .repo definitions from the source and list the result",
						ArgsUsage: "org",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							orgLabel := cCtx.Args().First()
							if orgLabel == "" {
								return cli.Exit("specify an organization", 1)
							}
							// setup reconciles, which picks up .repo files
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							org, err := engine.Store.GetOrganization(ctx, orgLabel)
							if err != nil {
								return err
							}
							products, err := engine.Store.ListProducts(ctx, org.ID)
							if err != nil {
								return err
							}
							for _, product := range products {
								repos, err := engine.Store.ListRepositories(ctx, product.ID)
								if err != nil {
									return err
								}
								for _, repo := range repos {
									fmt.Printf("%v/%v\t%v\n", product.Label, repo.Label, repo.URL)
								}
							}
							return nil
						},
					},
					{
						Name:      "show",
						Usage:     "Show a repository and its current content",
						ArgsUsage: "org/product/repo",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							org, product, repoLabel, err := contentRef(cCtx.Args().First())
							if err != nil {
								return err
							}
							if repoLabel == "" {
								return cli.Exit("show needs a full org/product/repo reference", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							orgRec, err := engine.Store.GetOrganization(ctx, org)
							if err != nil {
								return err
							}
							productRec, err := engine.Store.GetProduct(ctx, orgRec.ID, product)
							if err != nil {
								return err
							}
							repo, err := engine.Store.GetRepository(ctx, productRec.ID, repoLabel)
							if err != nil {
								return err
							}
							fmt.Printf("Label: %v\n", repo.Label)
							fmt.Printf("Type: %v\n", repo.Type)
							fmt.Printf("URL: %v\n", repo.URL)
							fmt.Printf("Download Policy: %v\n", repo.DownloadPolicy)
							if repo.UpstreamName != "" {
								fmt.Printf("Upstream Name: %v\n", repo.UpstreamName)
							}
							meta, err := engine.Store.RepositoryContent(ctx, repo.ID)
							if err != nil {
								if errors.Is(err, inventory.ErrNotFound) {
									fmt.Println("Content: never synced")
									return nil
								}
								return err
							}
							for kind, count := range meta.Counts() {
								fmt.Printf("%v: %v\n", kind, count)
							}
							return nil
						},
					},
					{
						Name:      "delete",
						Usage:     "Delete a repository and its synced content record",
						ArgsUsage: "org/product/repo",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							org, product, repoLabel, err := contentRef(cCtx.Args().First())
							if err != nil {
								return err
							}
							if repoLabel == "" {
								return cli.Exit("delete needs a full org/product/repo reference", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							orgRec, err := engine.Store.GetOrganization(ctx, org)
							if err != nil {
								return err
							}
							productRec, err := engine.Store.GetProduct(ctx, orgRec.ID, product)
							if err != nil {
								return err
							}
							repo, err := engine.Store.GetRepository(ctx, productRec.ID, repoLabel)
							if err != nil {
								return err
							}
							return engine.Store.DeleteRepository(ctx, repo.ID)
						},
					},
				},
			},
			{
				Name:  "org",
				Usage: "Manage organizations",
				Commands: []*cli.Command{
					{
						Name:      "delete",
						Usage:     "Delete an organization and everything under it",
						ArgsUsage: "org",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							orgLabel := cCtx.Args().First()
							if orgLabel == "" {
								return cli.Exit("specify an organization", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							return engine.Store.DeleteOrganization(ctx, orgLabel)
						},
					},
				},
			},
			{
				Name:  "product",
				Usage: "Manage products",
				Commands: []*cli.Command{
					{
						Name:      "rename",
						Usage:     "Change a product's label",
						ArgsUsage: "org/product new-label",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							org, product, _, err := contentRef(cCtx.Args().Get(0))
							if err != nil {
								return err
							}
							newLabel := cCtx.Args().Get(1)
							if newLabel == "" {
								return cli.Exit("specify the new label", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							orgRec, err := engine.Store.GetOrganization(ctx, org)
							if err != nil {
								return err
							}
							productRec, err := engine.Store.GetProduct(ctx, orgRec.ID, product)
							if err != nil {
								return err
							}
							return engine.Store.RenameProduct(ctx, productRec.ID, newLabel)
						},
					},
					{
						Name:      "delete",
						Usage:     "Delete an empty product",
						ArgsUsage: "org/product",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							org, product, _, err := contentRef(cCtx.Args().First())
							if err != nil {
								return err
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							orgRec, err := engine.Store.GetOrganization(ctx, org)
							if err != nil {
								return err
							}
							productRec, err := engine.Store.GetProduct(ctx, orgRec.ID, product)
							if err != nil {
								return err
							}
							return engine.Store.DeleteProduct(ctx, productRec.ID)
						},
					},
				},
			},
			{
				Name:  "view",
				Usage: "Manage content view composition",
				Commands: []*cli.Command{
					{
						Name:      "remove-repo",
						Usage:     "Drop a repository from a content view",
						ArgsUsage: "org view org/product/repo",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							orgLabel := cCtx.Args().Get(0)
							viewLabel := cCtx.Args().Get(1)
							ref := cCtx.Args().Get(2)
							if orgLabel == "" || viewLabel == "" || ref == "" {
								return cli.Exit("specify org, view, and org/product/repo", 1)
							}
							refOrg, product, repoLabel, err := contentRef(ref)
							if err != nil {
								return err
							}
							if repoLabel == "" {
								return cli.Exit("remove-repo needs a full org/product/repo reference", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							org, err := engine.Store.GetOrganization(ctx, orgLabel)
							if err != nil {
								return err
							}
							view, err := engine.Store.GetContentView(ctx, org.ID, viewLabel)
							if err != nil {
								return err
							}
							refOrgRec, err := engine.Store.GetOrganization(ctx, refOrg)
							if err != nil {
								return err
							}
							productRec, err := engine.Store.GetProduct(ctx, refOrgRec.ID, product)
							if err != nil {
								return err
							}
							repo, err := engine.Store.GetRepository(ctx, productRec.ID, repoLabel)
							if err != nil {
								return err
							}
							return engine.Store.RemoveViewRepository(ctx, view.ID, repo.ID)
						},
					},
					{
						Name:      "remove-component",
						Usage:     "Drop a component version from a composite view",
						ArgsUsage: "org composite component-view version",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							orgLabel := cCtx.Args().Get(0)
							composite := cCtx.Args().Get(1)
							component := cCtx.Args().Get(2)
							versionName := cCtx.Args().Get(3)
							if orgLabel == "" || composite == "" || component == "" || versionName == "" {
								return cli.Exit("specify org, composite view, component view, and version", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							org, err := engine.Store.GetOrganization(ctx, orgLabel)
							if err != nil {
								return err
							}
							view, err := engine.Store.GetContentView(ctx, org.ID, composite)
							if err != nil {
								return err
							}
							componentView, err := engine.Store.GetContentView(ctx, org.ID, component)
							if err != nil {
								return err
							}
							version, err := engine.Store.GetVersion(ctx, componentView.ID, versionName)
							if err != nil {
								return err
							}
							return engine.Store.RemoveViewComponent(ctx, view.ID, version.ID)
						},
					},
					{
						Name:      "cat",
						Usage:     "Print one published unit from a version tree",
						ArgsUsage: "org view version org/product/repo unit",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							org := cCtx.Args().Get(0)
							view := cCtx.Args().Get(1)
							version := cCtx.Args().Get(2)
							ref := cCtx.Args().Get(3)
							unit := cCtx.Args().Get(4)
							if org == "" || view == "" || version == "" || ref == "" || unit == "" {
								return cli.Exit("specify org, view, version, org/product/repo, and a unit name", 1)
							}
							_, product, repoLabel, err := contentRef(ref)
							if err != nil {
								return err
							}
							if repoLabel == "" {
								return cli.Exit("cat needs a full org/product/repo reference", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							raw, err := engine.ReadVersionUnit(ctx, org, view, version, product, repoLabel, unit)
							if err != nil {
								return err
							}
							os.Stdout.Write(raw)
							return nil
						},
					},
				},
			},
			{
				Name:  "snippet",
				Usage: "Manage provisioning snippets",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List snippets in the source",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							snips, err := engine.Snippets.List()
							if err != nil {
								return err
							}
							for _, snip := range snips {
								fmt.Println(snip.Name)
							}
							return nil
						},
					},
					{
						Name:      "show",
						Usage:     "Print a snippet exactly as stored",
						ArgsUsage: "name",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							name := cCtx.Args().First()
							if name == "" {
								return cli.Exit("specify a snippet name", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							snip, err := engine.Snippets.Get(name)
							if err != nil {
								return err
							}
							os.Stdout.Write(snip.Encode())
							return nil
						},
					},
					{
						Name:  "lint",
						Usage: "Report malformed snippet files",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							problems, err := engine.Snippets.Lint()
							if err != nil {
								return err
							}
							if len(problems) == 0 {
								fmt.Println("OK")
								return nil
							}
							for _, p := range problems {
								fmt.Println(p)
							}
							return cli.Exit("", 1)
						},
					},
				},
			},
			{
				Name:  "capsule",
				Usage: "Manage capsule mirrors",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List registered capsules",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							capsules, err := engine.Store.ListCapsules(ctx)
							if err != nil {
								return err
							}
							for _, caps := range capsules {
								fmt.Println(caps.Name)
							}
							return nil
						},
					},
					{
						Name:      "status",
						Usage:     "Show a capsule's sync state",
						ArgsUsage: "name",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							name := cCtx.Args().First()
							if name == "" {
								return cli.Exit("specify a capsule", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							status, err := engine.GetCapsuleStatus(ctx, name)
							if err != nil {
								return err
							}
							fmt.Println(status)
							return nil
						},
					},
					{
						Name:      "sync",
						Usage:     "Bring a capsule mirror up to date",
						ArgsUsage: "name",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							name := cCtx.Args().First()
							if name == "" {
								return cli.Exit("specify a capsule", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							task, err := engine.SyncCapsule(ctx, name)
							if err != nil {
								return err
							}
							return reportTask(task)
						},
					},
					{
						Name:      "detach",
						Usage:     "Stop a capsule from mirroring an environment",
						ArgsUsage: "name org/environment",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:    "force",
								Aliases: []string{"f"},
								Usage:   "Detach even if it is the capsule's last environment",
							},
						},
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							name := cCtx.Args().Get(0)
							ref := cCtx.Args().Get(1)
							if name == "" || ref == "" {
								return cli.Exit("specify a capsule and org/environment", 1)
							}
							orgLabel, envLabel, extra, err := contentRef(ref)
							if err != nil || extra != "" {
								return cli.Exit("specify the environment as org/environment", 1)
							}
							engine, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							defer func() {
								_ = engine.Close()
							}()
							caps, err := engine.Store.GetCapsule(ctx, name)
							if err != nil {
								return err
							}
							org, err := engine.Store.GetOrganization(ctx, orgLabel)
							if err != nil {
								return err
							}
							env, err := engine.Store.GetEnvironment(ctx, org.ID, envLabel)
							if err != nil {
								return err
							}
							return engine.Store.DetachCapsuleEnvironment(ctx, caps.ID, env.ID, cCtx.Bool("force"))
						},
					},
				},
			},
			{
				Name:      "export",
				Usage:     "Archive a published version for air gapped transfer",
				ArgsUsage: "org view version",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					org := cCtx.Args().Get(0)
					view := cCtx.Args().Get(1)
					version := cCtx.Args().Get(2)
					if org == "" || view == "" || version == "" {
						return cli.Exit("specify org, view, and version", 1)
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					path, err := engine.Export(ctx, org, view, version)
					if err != nil {
						return err
					}
					fmt.Println(path)
					return nil
				},
			},
			{
				Name:      "import",
				Usage:     "Restore a version archive into the depot",
				ArgsUsage: "archive org view version",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					archive := cCtx.Args().Get(0)
					org := cCtx.Args().Get(1)
					view := cCtx.Args().Get(2)
					version := cCtx.Args().Get(3)
					if archive == "" || org == "" || view == "" || version == "" {
						return cli.Exit("specify an archive path plus org, view, and version", 1)
					}
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					return engine.ImportArchive(ctx, archive, org, view, version)
				},
			},
			{
				Name:  "server",
				Usage: "start crucible in server mode",
				Action: func(_ context.Context, cCtx *cli.Command) error {
					k, err := LoadConfigs(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					return RunServer(ctx, k)
				},
			},
			{
				Name:  "agent",
				Usage: "send commands to a running crucible server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "socket",
						Usage:    "Manually specify crucible socket",
						Required: false,
						Aliases:  []string{"s"},
						Sources:  cli.EnvVars("CRUCIBLE_AGENT__SOCKET"),
					},
				},
				Commands: []*cli.Command{
					{
						Name:  "reconcile",
						Usage: "Reapply the source manifest",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							socketPath, err := resolveSocket(cCtx)
							if err != nil {
								return err
							}
							return agentCommand(ctx, socketPath, "reconcile", "")
						},
					},
					{
						Name:  "sync",
						Usage: "Sync every repository",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							socketPath, err := resolveSocket(cCtx)
							if err != nil {
								return err
							}
							return agentCommand(ctx, socketPath, "sync", "")
						},
					},
					{
						Name:      "publish",
						Usage:     "Publish a content view version",
						ArgsUsage: "org/view",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							ref := cCtx.Args().First()
							if ref == "" {
								return cli.Exit("specify org/view to publish", 1)
							}
							socketPath, err := resolveSocket(cCtx)
							if err != nil {
								return err
							}
							return agentCommand(ctx, socketPath, "publish", ref)
						},
					},
					{
						Name:  "capsules",
						Usage: "Sync every capsule mirror",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							socketPath, err := resolveSocket(cCtx)
							if err != nil {
								return err
							}
							return agentCommand(ctx, socketPath, "capsules", "")
						},
					},
					{
						Name:  "status",
						Usage: "Report capsule sync state",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							socketPath, err := resolveSocket(cCtx)
							if err != nil {
								return err
							}
							return agentCommand(ctx, socketPath, "status", "")
						},
					},
				},
			},
			{
				Name:  "clean",
				Usage: "remove all related file paths",
				Action: func(_ context.Context, _ *cli.Command) error {
					engine, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					defer func() {
						_ = engine.Close()
					}()
					return engine.Clean(ctx)
				},
			},
			{
				Name:  "version",
				Usage: "show version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Printf("crucible version %v\n", Version)
					return nil
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
