package snippets

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

// Store is a directory of snippet files keyed by their header name. File
// contents are treated as opaque: loading and rewriting a snippet leaves its
// bytes untouched.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("error opening snippet dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snippet path %v is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// List loads every parseable snippet in the store, sorted by name. Files
// that fail to parse are skipped with a warning so one bad fixture does not
// hide the rest.
func (s *Store) List() ([]*Snippet, error) {
	var snips []*Snippet
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snip, err := Parse(raw)
		if err != nil {
			log.Warn("skipping unparseable snippet", "file", path, "error", err)
			return nil
		}
		snips = append(snips, snip)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking snippet dir: %w", err)
	}
	sort.Slice(snips, func(i, j int) bool { return snips[i].Name < snips[j].Name })
	return snips, nil
}

func (s *Store) Get(name string) (*Snippet, error) {
	snips, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, snip := range snips {
		if snip.Name == name {
			return snip, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSnippetNotFound, name)
}

// Write stores a snippet under a filename derived from its header name.
func (s *Store) Write(snip *Snippet) error {
	if err := snip.Validate(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, fileName(snip.Name))
	return os.WriteFile(path, snip.Encode(), 0o644)
}

// Lint checks every file in the store: headers must parse and re-encoding
// must reproduce the stored bytes exactly. Returns the paths that fail.
func (s *Store) Lint() ([]string, error) {
	var bad []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snip, err := Parse(raw)
		if err != nil {
			bad = append(bad, path)
			return nil
		}
		if !bytes.Equal(snip.Encode(), raw) {
			bad = append(bad, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bad, nil
}

func fileName(name string) string {
	return strings.ReplaceAll(name, string(os.PathSeparator), "_") + ".snippet"
}
