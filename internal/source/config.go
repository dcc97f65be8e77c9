package source

import (
	"errors"

	"github.com/knadh/koanf/v2"

	"ironworks.systems/crucible/internal/source/git"
	"ironworks.systems/crucible/internal/source/oci"
)

type Config struct {
	URL string `toml:"url" json:"url" yaml:"url"`

	Git *git.Config `toml:"git,omitempty" json:"git,omitempty" yaml:"git,omitempty"`
	OCI *oci.Config `toml:"oci,omitempty" json:"oci,omitempty" yaml:"oci,omitempty"`
}

// NewConfig reads the per-scheme source settings from the loaded
// configuration. Only the section matching the URL scheme ends up used.
func NewConfig(k *koanf.Koanf, url string) (*Config, error) {
	if url == "" {
		return nil, errors.New("need source URL")
	}
	c := &Config{URL: url}
	c.Git = git.NewConfig(k)
	c.OCI = oci.NewConfig(k)
	return c, nil
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("need source URL")
	}
	return nil
}
