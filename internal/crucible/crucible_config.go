package crucible

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/knadh/koanf/v2"

	"ironworks.systems/crucible/internal/credentials/age"
	filecreds "ironworks.systems/crucible/internal/credentials/file"
	"ironworks.systems/crucible/internal/credentials/sops"
	"ironworks.systems/crucible/internal/source"
)

type CrucibleConfig struct {
	Debug     bool
	UseStdout bool
	Diffs     bool
	Quiet     bool
	NoSync    bool
	Timeout   int
	Workers   int
	SourceURL string

	CrucibleDir string
	SourceDir   string
	DepotDir    string
	CacheDir    string
	MirrorDir   string
	OutputDir   string
	StatePath   string

	SourceConfig *source.Config
	AgeConfig    *age.Config
	FileConfig   *filecreds.Config
	SopsConfig   *sops.Config
	User         *user.User
}

func NewConfig(k *koanf.Koanf) (*CrucibleConfig, error) {
	var c CrucibleConfig
	var err error
	c.Debug = k.Bool("debug")
	c.UseStdout = k.Bool("stdout")
	c.Diffs = k.Bool("diffs")
	c.Quiet = k.Bool("quiet")
	c.NoSync = k.Bool("nosync")
	c.Timeout = k.Int("timeout")
	c.Workers = k.Int("workers")
	c.SourceURL = k.String("source")
	c.CrucibleDir = k.String("prefix")
	c.SourceDir = k.String("sourcedir")
	c.DepotDir = k.String("depotdir")
	c.CacheDir = k.String("cachedir")
	c.MirrorDir = k.String("mirrordir")
	c.OutputDir = k.String("outputdir")
	c.StatePath = k.String("statepath")
	if k.Exists("age") {
		c.AgeConfig, err = age.NewConfig(k)
		if err != nil {
			return nil, err
		}
	}
	if k.Exists("credentials") {
		c.FileConfig, err = filecreds.NewConfig(k)
		if err != nil {
			return nil, err
		}
	}
	if k.Exists("sops") {
		c.SopsConfig, err = sops.NewConfig(k)
		if err != nil {
			return nil, err
		}
	}
	currentUser, err := user.Current()
	if err != nil {
		return nil, err
	}
	c.User = currentUser

	// calculate defaults
	dataPath := "/var/lib"
	if c.User.Username != "root" {
		datadir, found := os.LookupEnv("XDG_DATA_HOME")
		if !found {
			dataPath = fmt.Sprintf("%v/.local/share", c.User.HomeDir)
		} else {
			dataPath = datadir
		}
	}
	if c.CrucibleDir == "" {
		c.CrucibleDir = filepath.Join(dataPath, "crucible")
	}
	if c.SourceDir == "" {
		c.SourceDir = filepath.Join(c.CrucibleDir, "source")
	}
	if c.DepotDir == "" {
		c.DepotDir = filepath.Join(c.CrucibleDir, "depot")
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.CrucibleDir, "cache")
	}
	if c.MirrorDir == "" {
		c.MirrorDir = filepath.Join(c.CrucibleDir, "mirrors")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.CrucibleDir, "output")
	}
	if c.StatePath == "" {
		c.StatePath = filepath.Join(c.CrucibleDir, "crucible.db")
	}
	if c.Workers == 0 {
		c.Workers = 4
	}

	if c.SourceURL != "" {
		c.SourceConfig, err = source.NewConfig(k, c.SourceURL)
		if err != nil {
			return nil, err
		}
	}

	return &c, nil
}

func (c *CrucibleConfig) Validate() error {
	if c.SourceURL == "" {
		return errors.New("need a content source")
	}
	if c.SourceDir == "" {
		return errors.New("need source directory")
	}
	if c.DepotDir == "" {
		return errors.New("need depot directory")
	}
	if c.StatePath == "" {
		return errors.New("need state path")
	}
	return nil
}

func (c *CrucibleConfig) String() string {
	var result string
	result += fmt.Sprintf("Debug mode: %v\n", c.Debug)
	result += fmt.Sprintf("STDOUT: %v\n", c.UseStdout)
	result += fmt.Sprintf("Show Diffs: %v\n", c.Diffs)
	result += fmt.Sprintf("Source: %v\n", c.SourceURL)
	result += fmt.Sprintf("Sync Workers: %v\n", c.Workers)
	result += fmt.Sprintf("Crucible Root: %v\n", c.CrucibleDir)
	result += fmt.Sprintf("Depot Dir: %v\n", c.DepotDir)
	result += fmt.Sprintf("Cache Dir: %v\n", c.CacheDir)
	result += fmt.Sprintf("Mirror Dir: %v\n", c.MirrorDir)
	result += fmt.Sprintf("Source cache dir: %v\n", c.SourceDir)
	result += fmt.Sprintf("State: %v\n", c.StatePath)
	result += fmt.Sprintf("User: %v\n", c.User.Username)
	return result
}
