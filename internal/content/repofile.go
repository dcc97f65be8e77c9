package content

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// RepoDefinition is one section of a .repo file: a declarative yum style
// repository the source tree wants managed.
type RepoDefinition struct {
	Label          string
	Name           string
	URL            string
	Enabled        bool
	DownloadPolicy string
}

// ParseRepoFile reads yum .repo definitions. Each section label becomes the
// repository label; baseurl is required for enabled sections.
func ParseRepoFile(raw []byte) ([]RepoDefinition, error) {
	f, err := ini.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("error parsing repo file: %w", err)
	}
	var defs []RepoDefinition
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		def := RepoDefinition{
			Label:          section.Name(),
			Name:           section.Key("name").String(),
			URL:            section.Key("baseurl").String(),
			Enabled:        section.Key("enabled").MustBool(true),
			DownloadPolicy: section.Key("download_policy").MustString("immediate"),
		}
		if def.Name == "" {
			def.Name = def.Label
		}
		if def.Enabled && def.URL == "" {
			return nil, fmt.Errorf("repo %v has no baseurl", def.Label)
		}
		switch def.DownloadPolicy {
		case "immediate", "on_demand":
		default:
			return nil, fmt.Errorf("repo %v has unknown download policy %v", def.Label, def.DownloadPolicy)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// IsRepoFile reports whether a source tree filename holds repo definitions.
func IsRepoFile(name string) bool {
	return strings.HasSuffix(name, ".repo")
}
