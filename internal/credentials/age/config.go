package age

import (
	"errors"

	"github.com/knadh/koanf/v2"
)

type Config struct {
	IdentPath string
	BaseDir   string
}

func (c Config) Validate() error {
	if c.BaseDir == "" {
		return errors.New("invalid base directory for age")
	}
	if c.IdentPath == "" {
		return errors.New("invalid identities location for age")
	}
	return nil
}

func (c Config) CredentialsType() string { return "age" }

func NewConfig(k *koanf.Koanf) (*Config, error) {
	var c Config
	c.IdentPath = k.String("age.idents")
	c.BaseDir = k.String("age.basedir")
	return &c, nil
}

func (c *Config) Merge(other *Config) {
	if other.IdentPath != "" {
		c.IdentPath = other.IdentPath
	}
	if other.BaseDir != "" {
		c.BaseDir = other.BaseDir
	}
}
