// Package registry handles container repository naming: validation of
// upstream names and the per organization patterns that decide what a
// promoted container repository is called.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

var ErrBadUpstreamName = errors.New("invalid upstream name")

const maxUpstreamNameLength = 255

// ValidateUpstreamName enforces registry path rules: lowercase letters,
// digits and separators, at most one slash, no leading or trailing
// separators, at most 255 characters.
func ValidateUpstreamName(upstream string) error {
	if upstream == "" {
		return fmt.Errorf("%w: empty", ErrBadUpstreamName)
	}
	if len(upstream) > maxUpstreamNameLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrBadUpstreamName, len(upstream), maxUpstreamNameLength)
	}
	if strings.Count(upstream, "/") > 1 {
		return fmt.Errorf("%w: more than one namespace separator", ErrBadUpstreamName)
	}
	for _, part := range strings.Split(upstream, "/") {
		if err := validatePathComponent(part); err != nil {
			return err
		}
	}
	// cross-check with the reference grammar the rest of the ecosystem
	// uses; it carries a two character floor our rules do not, so single
	// character names skip it
	if len(upstream) >= 2 {
		if _, err := name.NewRepository(upstream, name.WeakValidation); err != nil {
			return fmt.Errorf("%w: %v", ErrBadUpstreamName, err)
		}
	}
	return nil
}

func validatePathComponent(part string) error {
	if part == "" {
		return fmt.Errorf("%w: empty path component", ErrBadUpstreamName)
	}
	if isSeparator(rune(part[0])) || isSeparator(rune(part[len(part)-1])) {
		return fmt.Errorf("%w: component %q starts or ends with a separator", ErrBadUpstreamName, part)
	}
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case isSeparator(r):
		case r >= 'A' && r <= 'Z':
			return fmt.Errorf("%w: uppercase in %q", ErrBadUpstreamName, part)
		default:
			return fmt.Errorf("%w: character %q in %q", ErrBadUpstreamName, r, part)
		}
	}
	return nil
}

func isSeparator(r rune) bool {
	return r == '.' || r == '-' || r == '_'
}
