package file

import (
	"bytes"
	"context"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"ironworks.systems/crucible/internal/credentials"
)

type FileStore struct {
	vaultfiles    []string
	generalVaults []string
}

func NewFileStore(c Config, sourceDir string) (*FileStore, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var f FileStore

	err := filepath.WalkDir(filepath.Join(sourceDir, c.BaseDir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == ".git" || d.Name() == "MANIFEST.toml" {
			return nil
		}
		if filepath.Ext(path) == ".toml" {
			f.vaultfiles = append(f.vaultfiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(c.GeneralVaults) == 0 {
		c.GeneralVaults = []string{"vault.toml", "credentials.toml"}
	}
	f.generalVaults = c.GeneralVaults
	return &f, nil
}

func (s *FileStore) Lookup(_ context.Context, f credentials.Filter) map[string]interface{} {
	vault := credentials.Vault{}

	results := make(map[string]interface{})
	files := []string{}
	for _, v := range s.vaultfiles {
		if slices.Contains(s.generalVaults, filepath.Base(v)) ||
			(f.Organization != "" && strings.Contains(v, f.Organization)) ||
			(f.Product != "" && strings.Contains(v, f.Product)) ||
			(f.Capsule != "" && strings.Contains(v, f.Capsule)) {
			files = append(files, v)
		}
	}
	for _, v := range files {
		file, err := os.Open(v)
		if err != nil {
			log.Fatal(err)
		}
		buf := new(bytes.Buffer)
		_, err = buf.ReadFrom(file)
		if err != nil {
			log.Fatal(err)
		}
		err = toml.Unmarshal(buf.Bytes(), &vault)
		if err != nil {
			log.Fatal(err)
		}

		maps.Copy(results, vault.Globals)
		if f.Organization != "" {
			maps.Copy(results, vault.Organizations[f.Organization])
		}
		if f.Product != "" {
			maps.Copy(results, vault.Products[f.Product])
		}
		if f.Capsule != "" {
			maps.Copy(results, vault.Capsules[f.Capsule])
		}
	}
	return results
}
