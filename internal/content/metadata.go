package content

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// UpdateinfoFile is the optional errata listing at the root of a yum style
// upstream tree.
const UpdateinfoFile = "updateinfo.yaml"

// Metadata summarizes a repository's unit set. Revision is a digest over the
// sorted unit list: two scans of identical content always produce the same
// revision, which is what lets sync and publish skip work.
type Metadata struct {
	Units  []Unit
	Errata []Erratum
}

func (m *Metadata) Counts() map[string]int {
	counts := make(map[string]int)
	for _, u := range m.Units {
		counts[u.Kind.String()]++
	}
	if len(m.Errata) > 0 {
		counts["erratum"] = len(m.Errata)
	}
	return counts
}

// Revision digests names, kinds and payload digests of every unit plus the
// errata ids. Unit order does not matter.
func (m *Metadata) Revision() string {
	units := slices.Clone(m.Units)
	slices.SortFunc(units, CompareUnits)
	h := sha256.New()
	for _, u := range units {
		fmt.Fprintf(h, "%v\x00%v\x00%v\n", u.Kind, u.Name, u.Digest)
	}
	ids := make([]string, 0, len(m.Errata))
	for _, e := range m.Errata {
		ids = append(ids, e.ID)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(h, "erratum\x00%v\n", id)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (m *Metadata) Erratum(id string) (Erratum, bool) {
	for _, e := range m.Errata {
		if e.ID == id {
			return e, true
		}
	}
	return Erratum{}, false
}

// ScanTree walks a yum style upstream directory and builds its metadata.
// Every regular file except the updateinfo listing is a package unit; the
// listing, when present, contributes errata.
func ScanTree(root string) (*Metadata, error) {
	var meta Metadata
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == UpdateinfoFile {
			errata, err := loadUpdateinfo(path)
			if err != nil {
				return fmt.Errorf("error loading updateinfo: %w", err)
			}
			meta.Errata = errata
			return nil
		}
		digest, size, err := digestFile(path)
		if err != nil {
			return err
		}
		meta.Units = append(meta.Units, Unit{
			Name:   rel,
			Kind:   UnitPackage,
			Digest: digest,
			Size:   size,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning upstream tree: %w", err)
	}
	slices.SortFunc(meta.Units, CompareUnits)
	return &meta, nil
}

func loadUpdateinfo(path string) ([]Erratum, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var listing struct {
		Errata []Erratum `yaml:"errata"`
	}
	if err := yaml.Unmarshal(raw, &listing); err != nil {
		return nil, err
	}
	for _, e := range listing.Errata {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return listing.Errata, nil
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}
