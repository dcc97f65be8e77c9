package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Pattern is a registry name pattern. Tokens are fixed placeholders
// substituted verbatim; nothing in a pattern is ever evaluated.
type Pattern string

// DefaultPattern mirrors the stock naming: org label, product label, repo
// label joined by slashes, lowercased.
const DefaultPattern Pattern = "<%= organization.label %>/<%= product.label %>/<%= repository.label %>"

var patternTokens = []string{
	"<%= organization.label %>",
	"<%= product.label %>",
	"<%= repository.label %>",
	"<%= repository.docker_upstream_name %>",
}

var (
	ErrBadPattern       = errors.New("invalid name pattern")
	ErrPatternCollision = errors.New("name pattern produces duplicate names")
)

// PatternInput carries the labels a pattern may reference.
type PatternInput struct {
	Organization string
	Product      string
	Repository   string
	UpstreamName string
}

// Validate rejects patterns containing anything token-like that is not one
// of the fixed tokens.
func (p Pattern) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return fmt.Errorf("%w: empty", ErrBadPattern)
	}
	rest := string(p)
	for _, tok := range patternTokens {
		rest = strings.ReplaceAll(rest, tok, "")
	}
	if strings.Contains(rest, "<%") || strings.Contains(rest, "%>") {
		return fmt.Errorf("%w: unknown token in %q", ErrBadPattern, string(p))
	}
	return nil
}

// Render substitutes the fixed tokens and normalizes the result to a valid
// registry path (lowercased, single slashes).
func (p Pattern) Render(in PatternInput) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	out := string(p)
	out = strings.ReplaceAll(out, "<%= organization.label %>", in.Organization)
	out = strings.ReplaceAll(out, "<%= product.label %>", in.Product)
	out = strings.ReplaceAll(out, "<%= repository.label %>", in.Repository)
	out = strings.ReplaceAll(out, "<%= repository.docker_upstream_name %>", in.UpstreamName)
	out = strings.ToLower(out)
	out = strings.ReplaceAll(out, " ", "_")
	for strings.Contains(out, "//") {
		out = strings.ReplaceAll(out, "//", "/")
	}
	out = strings.Trim(out, "/")
	if out == "" {
		return "", fmt.Errorf("%w: renders empty for %v", ErrBadPattern, in)
	}
	return out, nil
}

// CheckUnique renders the pattern for every input and fails on collisions.
// Used both when setting a pattern against already promoted content and
// before promoting new content.
func (p Pattern) CheckUnique(inputs []PatternInput) error {
	seen := make(map[string]PatternInput, len(inputs))
	for _, in := range inputs {
		rendered, err := p.Render(in)
		if err != nil {
			return err
		}
		if prev, ok := seen[rendered]; ok && prev != in {
			return fmt.Errorf("%w: %q for both %v/%v and %v/%v",
				ErrPatternCollision, rendered, prev.Product, prev.Repository, in.Product, in.Repository)
		}
		seen[rendered] = in
	}
	return nil
}
