package crucible

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v4"
)

// Export archives a published version's depot tree as a tar.zst in the
// output directory, for carrying content into a disconnected install.
func (c *Crucible) Export(ctx context.Context, orgLabel, viewLabel, versionName string) (string, error) {
	org, view, err := c.resolveView(ctx, orgLabel, viewLabel)
	if err != nil {
		return "", err
	}
	version, err := c.Store.GetVersion(ctx, view.ID, versionName)
	if err != nil {
		return "", err
	}

	treeRoot := c.Depot.Abs(filepath.Join(org.Label, "content_views", view.Label, version.Name()))
	if _, err := os.Stat(treeRoot); err != nil {
		return "", fmt.Errorf("version %v has no published tree: %w", version.Name(), err)
	}

	name := fmt.Sprintf("%v-%v-%v.tar.zst", org.Label, view.Label, version.Name())
	outPath := filepath.Join(c.outputDir, name)

	files, err := archiver.FilesFromDisk(nil, map[string]string{
		treeRoot + string(os.PathSeparator): "",
	})
	if err != nil {
		return "", fmt.Errorf("error collecting export files: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("unable to create file %s: %w", outPath, err)
	}
	defer func() { _ = out.Close() }()

	format := archiver.Archive{
		Compression: archiver.Zstd{},
		Archival:    archiver.Tar{},
	}
	if err := format.Archive(ctx, out, files); err != nil {
		return "", fmt.Errorf("error writing export archive: %w", err)
	}
	return outPath, nil
}

// ImportArchive unpacks an exported version tree into a directory under
// the depot root, making its repos servable on a disconnected side.
func (c *Crucible) ImportArchive(ctx context.Context, archivePath, orgLabel, viewLabel, versionName string) error {
	rel := filepath.Join(orgLabel, "content_views", viewLabel, versionName)
	dest := c.Depot.Abs(rel)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	format := archiver.Archive{
		Compression: archiver.Zstd{},
		Extraction:  archiver.Tar{},
	}
	return format.Extract(ctx, in, func(ctx context.Context, f archiver.FileInfo) error {
		target := filepath.Join(dest, f.NameInArchive)
		if f.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if f.LinkTarget != "" {
			return os.Symlink(f.LinkTarget, target)
		}
		r, err := f.Open()
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		raw, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := raw.ReadFrom(r); err != nil {
			_ = raw.Close()
			return err
		}
		return raw.Close()
	})
}
