package source

import (
	"context"
	"fmt"
	"strings"

	"ironworks.systems/crucible/internal/source/file"
	"ironworks.systems/crucible/internal/source/git"
	"ironworks.systems/crucible/internal/source/oci"
)

// Source keeps a local copy of the declarative content source in sync
// with its upstream. The local tree holds MANIFEST.toml, snippets/ and
// any .repo definition files.
type Source interface {
	Sync(context.Context) error
	Clean() error
}

// New picks a source implementation from the URL scheme. The local
// directory is fully managed by the returned source.
func New(dir, url string, cfg *Config) (Source, error) {
	scheme, rest, found := strings.Cut(url, "://")
	if !found {
		return nil, fmt.Errorf("source URL %q has no scheme", url)
	}
	switch scheme {
	case "git":
		return git.NewGitSource(dir, rest, cfg.Git)
	case "file":
		return file.NewFileSource(dir, rest)
	case "oci":
		return oci.NewOCISource(dir, url, cfg.OCI)
	default:
		return nil, fmt.Errorf("unknown source scheme %q", scheme)
	}
}
