package oci

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// OCISource unpacks a content source tree shipped as an OCI artifact.
// The image filesystem is extracted into the local source directory on
// every sync.
type OCISource struct {
	reference string
	path      string
	auth      authn.Authenticator
	insecure  bool
}

func NewOCISource(path, url string, c *Config) (*OCISource, error) {
	reference, err := parseURL(url, c)
	if err != nil {
		return nil, err
	}

	o := &OCISource{
		reference: reference,
		path:      path,
	}
	if c != nil {
		o.insecure = c.Insecure
		if c.Username != "" && c.Password != "" {
			o.auth = &authn.Basic{
				Username: c.Username,
				Password: c.Password,
			}
		}
	}
	if o.auth == nil {
		o.auth = authn.Anonymous
	}

	return o, nil
}

// parseURL turns oci://registry/repository[:tag|@digest] into an image
// reference, letting a configured tag fill in when the URL names none.
func parseURL(url string, c *Config) (string, error) {
	rest, found := strings.CutPrefix(url, "oci://")
	if !found {
		return "", fmt.Errorf("invalid OCI source URL %q", url)
	}
	if !strings.Contains(rest, "/") {
		return "", errors.New("invalid OCI source URL: expected oci://registry/repository[:tag|@digest]")
	}
	if strings.Contains(rest, "@") || strings.Contains(rest[strings.Index(rest, "/"):], ":") {
		return rest, nil
	}
	tag := "latest"
	if c != nil && c.Tag != "" {
		tag = c.Tag
	}
	return fmt.Sprintf("%s:%s", rest, tag), nil
}

func (o *OCISource) Sync(ctx context.Context) error {
	log.Debugf("pulling source image %s", o.reference)

	ref, err := name.ParseReference(o.reference)
	if err != nil {
		return fmt.Errorf("failed to parse image reference: %w", err)
	}

	opts := []remote.Option{
		remote.WithAuth(o.auth),
		remote.WithContext(ctx),
	}
	if o.insecure {
		opts = append(opts, remote.WithTransport(remote.DefaultTransport))
	}

	img, err := remote.Image(ref, opts...)
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	if err := os.MkdirAll(o.path, 0o755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}

	contentsTar := mutate.Extract(img)
	defer func() {
		_ = contentsTar.Close()
	}()

	tr := tar.NewReader(contentsTar)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(o.path, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory for %s: %w", target, err)
			}

			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", target, err)
			}

			_, err = io.Copy(f, tr)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("failed to write file %s: %w", target, err)
			}
		default:
			log.Debugf("skipping unsupported file type %c for %s", header.Typeflag, header.Name)
		}
	}

	log.Debugf("extracted source image to %s", o.path)
	return nil
}

func (o *OCISource) Clean() error {
	return os.RemoveAll(o.path)
}
