// Package content models the units a repository carries: package files for
// yum style repositories, tags for container repositories, plain blobs for
// file repositories, plus the errata that group packages into advisories.
package content

import (
	"cmp"
	"fmt"
	"strings"
)

type UnitKind int

const (
	UnitUnknown UnitKind = iota
	UnitPackage
	UnitTag
	UnitFile
)

func (u UnitKind) String() string {
	switch u {
	case UnitPackage:
		return "package"
	case UnitTag:
		return "tag"
	case UnitFile:
		return "file"
	default:
		return "unknown"
	}
}

// Unit is one piece of repository content. Name is the package filename,
// tag name, or file path relative to the upstream root. Digest is the
// sha256 of the unit payload when known; on demand units may not have one
// until fetched.
type Unit struct {
	Name   string
	Kind   UnitKind
	Digest string
	Size   int64
}

func (u Unit) String() string {
	return fmt.Sprintf("%v %v", u.Kind, u.Name)
}

func CompareUnits(a, b Unit) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// Erratum is an advisory grouping packages, e.g. RHSA-2026:0001.
type Erratum struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"`
	Title    string   `yaml:"title"`
	Severity string   `yaml:"severity"`
	Packages []string `yaml:"packages"`
}

func (e Erratum) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("erratum missing id")
	}
	if strings.Count(e.ID, ":") != 1 {
		return fmt.Errorf("malformed erratum id %v", e.ID)
	}
	return nil
}
