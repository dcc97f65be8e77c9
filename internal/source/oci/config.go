package oci

import (
	"fmt"

	"github.com/knadh/koanf/v2"
)

type Config struct {
	Tag      string `toml:"tag" json:"tag" yaml:"tag"`
	Username string `toml:"username" json:"username" yaml:"username"`
	Password string `toml:"password" json:"password" yaml:"password"`
	Insecure bool   `toml:"insecure" json:"insecure" yaml:"insecure"`
}

func NewConfig(k *koanf.Koanf) *Config {
	var c Config

	c.Username = k.String("source.oci.username")
	c.Password = k.String("source.oci.password")
	c.Insecure = k.Bool("source.oci.insecure")
	c.Tag = k.String("source.oci.tag")
	return &c
}

func (c *Config) String() string {
	var result string
	result += fmt.Sprintf("Tag: %v\n", c.Tag)
	result += fmt.Sprintf("Allow Insecure: %v\n", c.Insecure)
	if c.Username != "" {
		result += fmt.Sprintf("Username: %v\n", c.Username)
	}
	return result
}
