// Package depot manages the published content tree: immutable version
// trees under an org's content_views directory and environment trees that
// promotion points at a version. Capsules mirror depot environment trees.
package depot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"ironworks.systems/crucible/internal/content"
)

// RevisionFile marks a published tree with the digest of its content; an
// unchanged republish leaves it untouched.
const RevisionFile = ".revision"

type LinkMode int

const (
	// ModeLink hardlinks published units, falling back to a copy across
	// filesystems.
	ModeLink LinkMode = iota
	// ModeSymlink publishes symlinks into the unit source, which may dangle
	// until the unit is fetched. Used for on demand repositories.
	ModeSymlink
)

type Depot struct {
	root string
}

func NewDepot(root string) (*Depot, error) {
	if root == "" {
		return nil, errors.New("depot root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("error creating depot root: %w", err)
	}
	return &Depot{root: root}, nil
}

func (d *Depot) Root() string {
	return d.root
}

// VersionPath is where an immutable published version keeps one repo's tree.
func VersionPath(org, view, version, product, repo string) string {
	return filepath.Join(org, "content_views", view, version, product, repo)
}

// EnvironmentPath is where a promoted environment exposes one repo's tree.
func EnvironmentPath(org, env, view, product, repo string) string {
	return filepath.Join(org, env, view, product, repo)
}

func (d *Depot) Abs(rel string) string {
	return filepath.Join(d.root, rel)
}

// PublishTree renders a repo tree at rel from units under srcDir. When the
// tree already carries the same revision nothing is rewritten and skipped is
// true, so a republish of identical content keeps its revision marker.
func (d *Depot) PublishTree(rel, srcDir string, meta *content.Metadata, mode LinkMode) (skipped bool, err error) {
	dest := d.Abs(rel)
	revision := meta.Revision()
	current, err := d.Revision(rel)
	if err == nil && current == revision {
		log.Debug("tree unchanged, skipping publish", "path", rel)
		return true, nil
	}
	if err := os.RemoveAll(dest); err != nil {
		return false, fmt.Errorf("error clearing tree: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return false, fmt.Errorf("error creating tree: %w", err)
	}
	for _, u := range meta.Units {
		src := filepath.Join(srcDir, u.Name)
		dst := filepath.Join(dest, u.Name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return false, err
		}
		switch mode {
		case ModeSymlink:
			if err := os.Symlink(src, dst); err != nil {
				return false, fmt.Errorf("error linking unit %v: %w", u.Name, err)
			}
		case ModeLink:
			if err := linkOrCopy(src, dst); err != nil {
				return false, fmt.Errorf("error publishing unit %v: %w", u.Name, err)
			}
		default:
			return false, fmt.Errorf("unknown link mode %v", mode)
		}
	}
	if err := os.WriteFile(filepath.Join(dest, RevisionFile), []byte(revision+"\n"), 0o644); err != nil {
		return false, fmt.Errorf("error writing revision: %w", err)
	}
	return false, nil
}

// Revision reads a tree's revision marker.
func (d *Depot) Revision(rel string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(d.Abs(rel), RevisionFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// Units lists the published unit paths of a tree, sorted, revision marker
// excluded. Dangling symlinks count: an on demand tree lists its full
// content before anything is fetched.
func (d *Depot) Units(rel string) ([]string, error) {
	dest := d.Abs(rel)
	var units []string
	err := filepath.WalkDir(dest, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || entry.Name() == RevisionFile {
			return nil
		}
		sub, err := filepath.Rel(dest, path)
		if err != nil {
			return err
		}
		units = append(units, sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(units)
	return units, nil
}

// Trees lists every published tree under rel, identified by its revision
// marker. Pass "" to walk the whole depot.
func (d *Depot) Trees(rel string) ([]string, error) {
	base := d.Abs(rel)
	var trees []string
	err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if rel == "" && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() || entry.Name() != RevisionFile {
			return nil
		}
		sub, err := filepath.Rel(d.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		trees = append(trees, sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(trees)
	return trees, nil
}

// BrokenLinks lists symlinks pointing at files that do not exist yet.
func (d *Depot) BrokenLinks(rel string) ([]string, error) {
	dest := d.Abs(rel)
	var broken []string
	err := filepath.WalkDir(dest, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			sub, rerr := filepath.Rel(dest, path)
			if rerr != nil {
				return rerr
			}
			broken = append(broken, sub)
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(broken)
	return broken, nil
}

// Fetch materializes one on demand unit: the dangling symlink at rel/name is
// replaced by a real copy from srcDir.
func (d *Depot) Fetch(rel, name, srcDir string) error {
	dst := filepath.Join(d.Abs(rel), name)
	info, err := os.Lstat(dst)
	if err != nil {
		return fmt.Errorf("unit %v not published: %w", name, err)
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return nil
	}
	if err := os.Remove(dst); err != nil {
		return err
	}
	return copyFile(filepath.Join(srcDir, name), dst)
}

func (d *Depot) Remove(rel string) error {
	return os.RemoveAll(d.Abs(rel))
}

// ReadUnit returns a published unit's bytes, following links.
func (d *Depot) ReadUnit(rel, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.Abs(rel), name))
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
