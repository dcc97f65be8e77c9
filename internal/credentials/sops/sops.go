package sops

import (
	"context"
	"encoding/json"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/getsops/sops/v3/cmd/sops/formats"
	"github.com/getsops/sops/v3/decrypt"
	"gopkg.in/yaml.v3"

	"ironworks.systems/crucible/internal/credentials"
)

type SopsStore struct {
	vaultfiles    []string
	generalVaults []string
}

func NewSopsStore(c Config, sourceDir string) (*SopsStore, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var s SopsStore
	s.generalVaults = c.GeneralVaults
	err := filepath.WalkDir(filepath.Join(sourceDir, c.BaseDir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == ".git" {
			return nil
		}
		// binary and env formats are not supported here
		// note, the formats package isn't technically stable
		if formats.IsJSONFile(path) || formats.IsYAMLFile(path) {
			s.vaultfiles = append(s.vaultfiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (s *SopsStore) Lookup(_ context.Context, f credentials.Filter) map[string]interface{} {
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
		decrypted, err := decrypt.File(v, filepath.Ext(v))
		if err != nil {
			log.Fatalf("error decrypting SOPS file: %v", err)
		}
		if formats.IsYAMLFile(v) {
			err = yaml.Unmarshal(decrypted, &vault)
			if err != nil {
				log.Fatal(err)
			}
		} else if formats.IsJSONFile(v) {
			err = json.Unmarshal(decrypted, &vault)
			if err != nil {
				log.Fatal(err)
			}
		} else {
			log.Fatalf("invalid sops file: %v", v)
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
