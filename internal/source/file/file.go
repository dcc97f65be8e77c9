package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileSource mirrors a local directory into the managed source tree.
// Each sync clears the destination and re-copies, so the local tree
// always matches the origin exactly.
type FileSource struct {
	repo string
	path string
}

func NewFileSource(path, repo string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := os.Mkdir(path, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileSource{repo, path}, nil
}

func (f *FileSource) Sync(_ context.Context) error {
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return fmt.Errorf("source destination path %v does not exist", f.path)
	}
	info, err := os.Stat(f.repo)
	if os.IsNotExist(err) {
		return fmt.Errorf("source origin %v does not exist", f.repo)
	}
	if err == nil && !info.IsDir() {
		return fmt.Errorf("source origin %v is not a directory", f.repo)
	}
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.path, e.Name())); err != nil {
			return fmt.Errorf("error syncing filesystem: can't clear path: %w", err)
		}
	}

	if err := os.CopyFS(f.path, os.DirFS(f.repo)); err != nil {
		return fmt.Errorf("error syncing filesystem: can't copy fs: %w", err)
	}
	return nil
}

func (f *FileSource) Clean() error {
	return os.RemoveAll(f.path)
}
