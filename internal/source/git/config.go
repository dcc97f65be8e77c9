package git

import (
	"fmt"

	"github.com/knadh/koanf/v2"
)

type Config struct {
	Branch     string `toml:"branch" json:"branch" yaml:"branch"`
	PrivateKey string `koanf:"private_key" toml:"private_key" json:"private_key" yaml:"private_key"`
	Username   string `toml:"username" json:"username" yaml:"username"`
	Password   string `toml:"password" json:"password" yaml:"password"`
	KnownHosts string `koanf:"known_hosts" toml:"known_hosts" json:"known_hosts" yaml:"known_hosts"`
	Insecure   bool   `koanf:"insecure" toml:"insecure" json:"insecure" yaml:"insecure"`
}

func NewConfig(k *koanf.Koanf) *Config {
	var c Config

	c.Branch = k.String("source.git.branch")
	c.PrivateKey = k.String("source.git.private_key")
	c.Insecure = k.Bool("source.git.insecure")
	c.Username = k.String("source.git.username")
	c.Password = k.String("source.git.password")
	c.KnownHosts = k.String("source.git.known_hosts")
	return &c
}

func (c *Config) String() string {
	var result string
	result += fmt.Sprintf("Branch: %v\n", c.Branch)
	result += fmt.Sprintf("KnownHosts: %v\n", c.KnownHosts)
	result += fmt.Sprintf("Allow Insecure: %v\n", c.Insecure)
	if c.PrivateKey != "" {
		result += fmt.Sprintf("PrivateKey file: %v\n", c.PrivateKey)
	}
	if c.Username != "" {
		result += fmt.Sprintf("Username: %v\n", c.Username)
	}
	return result
}
