package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"ironworks.systems/crucible/internal/content"
)

// Client lists upstream container repositories. The zero value talks to
// registries anonymously.
type Client struct {
	auth authn.Authenticator
}

func NewClient(username, password string) *Client {
	c := &Client{auth: authn.Anonymous}
	if username != "" {
		c.auth = &authn.Basic{Username: username, Password: password}
	}
	return c
}

// Tags lists the upstream repository's tags, sorted.
func (c *Client) Tags(ctx context.Context, registryHost, upstream string) ([]string, error) {
	if err := ValidateUpstreamName(upstream); err != nil {
		return nil, err
	}
	repo, err := name.NewRepository(fmt.Sprintf("%v/%v", registryHost, upstream))
	if err != nil {
		return nil, fmt.Errorf("error parsing repository reference: %w", err)
	}
	auth := c.auth
	if auth == nil {
		auth = authn.Anonymous
	}
	tags, err := remote.List(repo, remote.WithAuth(auth), remote.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error listing tags for %v: %w", upstream, err)
	}
	slices.Sort(tags)
	return tags, nil
}

// TagMetadata wraps a tag list as repository content.
func TagMetadata(tags []string) *content.Metadata {
	meta := &content.Metadata{}
	for _, tag := range tags {
		meta.Units = append(meta.Units, content.Unit{Name: tag, Kind: content.UnitTag})
	}
	return meta
}
