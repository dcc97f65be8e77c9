package manifests

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var CrucibleManifestFile = "MANIFEST.toml"

// CrucibleManifest is the declarative description of everything the
// engine manages: organizations with their products, repositories,
// lifecycle environments and content views, plus mirroring capsules
// and registry settings. It lives at the root of the content source.
type CrucibleManifest struct {
	Organizations map[string]Organization `toml:"Organizations" koanf:"Organizations"`
	Capsules      map[string]Capsule      `toml:"Capsules" koanf:"Capsules"`
	Registry      RegistrySettings        `toml:"Registry" koanf:"Registry"`
	SnippetDir    string                  `toml:"SnippetDir" koanf:"SnippetDir"`
	RepoDir       string                  `toml:"RepoDir" koanf:"RepoDir"`
	Credentials   string                  `toml:"Credentials" koanf:"Credentials"`
}

type Organization struct {
	Name         string                 `toml:"Name"`
	Environments map[string]Environment `toml:"Environments"`
	Products     map[string]Product     `toml:"Products"`
	Views        map[string]View        `toml:"Views"`
}

type Environment struct {
	Prior string `toml:"Prior"`
}

type Product struct {
	Name         string       `toml:"Name"`
	Repositories []Repository `toml:"Repositories"`
}

type Repository struct {
	Label          string `toml:"Label"`
	Type           string `toml:"Type"`
	URL            string `toml:"URL"`
	DownloadPolicy string `toml:"DownloadPolicy" koanf:"DownloadPolicy"`
	UpstreamName   string `toml:"UpstreamName" koanf:"UpstreamName"`
}

// View references repositories as "product/repository" labels.
// Composite views reference other views by label instead.
type View struct {
	Composite    bool     `toml:"Composite"`
	Repositories []string `toml:"Repositories"`
	Components   []string `toml:"Components"`
}

type Capsule struct {
	URL          string   `toml:"URL"`
	Environments []string `toml:"Environments"`
}

type RegistrySettings struct {
	NamePattern string `toml:"NamePattern" koanf:"NamePattern"`
}

func LoadCrucibleManifest(path string) (*CrucibleManifest, error) {
	k := koanf.New(".")
	err := k.Load(file.Provider(path), toml.Parser())
	if err != nil {
		return nil, err
	}
	var m CrucibleManifest
	err = k.Unmarshal("", &m)
	if err != nil {
		return nil, err
	}
	if m.SnippetDir == "" {
		m.SnippetDir = "snippets"
	}
	if m.RepoDir == "" {
		m.RepoDir = "repos"
	}
	return &m, nil
}

func (m CrucibleManifest) Validate() error {
	for label, org := range m.Organizations {
		if label == "" {
			return errors.New("manifest can't have an organization with an empty label")
		}
		if err := org.validate(label); err != nil {
			return err
		}
	}
	for name, capsule := range m.Capsules {
		if name == "" {
			return errors.New("manifest can't have a capsule with an empty name")
		}
		for _, env := range capsule.Environments {
			found := false
			for _, org := range m.Organizations {
				if _, ok := org.Environments[env]; ok {
					found = true
					break
				}
			}
			if !found && env != "Library" {
				return fmt.Errorf("capsule %v references undefined environment %v", name, env)
			}
		}
	}
	return nil
}

func (o Organization) validate(label string) error {
	for env, e := range o.Environments {
		if env == "" {
			return fmt.Errorf("organization %v has an environment with an empty name", label)
		}
		if env == "Library" {
			return fmt.Errorf("organization %v redefines the Library environment", label)
		}
		if e.Prior != "" && e.Prior != "Library" {
			if _, ok := o.Environments[e.Prior]; !ok {
				return fmt.Errorf("environment %v has undefined prior %v", env, e.Prior)
			}
		}
	}
	repoRefs := []string{}
	for plabel, p := range o.Products {
		if plabel == "" {
			return fmt.Errorf("organization %v has a product with an empty label", label)
		}
		for _, r := range p.Repositories {
			if r.Label == "" {
				return fmt.Errorf("product %v has a repository with an empty label", plabel)
			}
			repoRefs = append(repoRefs, fmt.Sprintf("%v/%v", plabel, r.Label))
		}
	}
	for vlabel, v := range o.Views {
		if vlabel == "" {
			return fmt.Errorf("organization %v has a view with an empty label", label)
		}
		if v.Composite {
			if len(v.Repositories) > 0 {
				return fmt.Errorf("composite view %v can't list repositories", vlabel)
			}
			for _, c := range v.Components {
				cv, ok := o.Views[c]
				if !ok {
					return fmt.Errorf("composite view %v references undefined view %v", vlabel, c)
				}
				if cv.Composite {
					return fmt.Errorf("composite view %v can't nest composite view %v", vlabel, c)
				}
			}
			continue
		}
		if len(v.Components) > 0 {
			return fmt.Errorf("view %v can't list component views", vlabel)
		}
		for _, ref := range v.Repositories {
			if !strings.Contains(ref, "/") {
				return fmt.Errorf("view %v repository reference %v is not product/repository", vlabel, ref)
			}
			if !slices.Contains(repoRefs, ref) {
				return fmt.Errorf("view %v references undefined repository %v", vlabel, ref)
			}
		}
	}
	return nil
}
