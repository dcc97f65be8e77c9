package age

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"ironworks.systems/crucible/internal/credentials"
)

type AgeStore struct {
	identities []age.Identity
	vaultfiles []string
}

func NewAgeStore(c Config, sourceDir string) (*AgeStore, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var a AgeStore
	ifile, err := os.Open(c.IdentPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ifile.Close()
	}()
	idents, err := age.ParseIdentities(ifile)
	if err != nil {
		return nil, err
	}
	if len(idents) == 0 {
		return nil, errors.New("need at least one identity")
	}
	a.identities = idents
	err = filepath.WalkDir(filepath.Join(sourceDir, c.BaseDir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if filepath.Ext(path) == ".age" {
			a.vaultfiles = append(a.vaultfiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *AgeStore) Lookup(_ context.Context, f credentials.Filter) map[string]interface{} {
	vault := credentials.Vault{}

	results := make(map[string]interface{})
	files := []string{}
	for _, v := range a.vaultfiles {
		if filepath.Base(v) == "vault.age" || filepath.Base(v) == "credentials.age" ||
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
		decrypted, err := age.Decrypt(file, a.identities...)
		if err != nil {
			log.Fatal(err)
		}
		buf := new(bytes.Buffer)
		_, err = buf.ReadFrom(decrypted)
		if err != nil {
			log.Fatal(err)
		}
		_ = file.Close()
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
