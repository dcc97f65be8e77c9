package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUpstreamName(t *testing.T) {
	valid := []string{
		"busybox",
		"library/busybox",
		"valid_name",
		"valid-name.with.dots",
		"a",
		"ns/" + strings.Repeat("a", 200),
		strings.Repeat("a", 255),
	}
	for _, name := range valid {
		assert.NoError(t, ValidateUpstreamName(name), name)
	}

	invalid := []string{
		"",
		"UPPERCASE",
		"Mixed/Case",
		"-leading-dash",
		"trailing-dash-",
		".leading.dot",
		"double//slash",
		"too/many/slashes",
		"spaces in name",
		"under_score/",
		strings.Repeat("a", 256),
		"bad$char",
	}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateUpstreamName(name), ErrBadUpstreamName, name)
	}
}

func TestPatternRender(t *testing.T) {
	in := PatternInput{
		Organization: "Acme",
		Product:      "Zoo",
		Repository:   "busy",
		UpstreamName: "library/busybox",
	}
	got, err := DefaultPattern.Render(in)
	require.NoError(t, err)
	assert.Equal(t, "acme/zoo/busy", got)

	p := Pattern("<%= organization.label %>/<%= repository.docker_upstream_name %>")
	got, err = p.Render(in)
	require.NoError(t, err)
	assert.Equal(t, "acme/library/busybox", got)
}

func TestPatternValidate(t *testing.T) {
	assert.NoError(t, DefaultPattern.Validate())
	assert.ErrorIs(t, Pattern("").Validate(), ErrBadPattern)
	assert.ErrorIs(t, Pattern("<%= repository.color %>").Validate(), ErrBadPattern)
	assert.ErrorIs(t, Pattern("static <% if x %>").Validate(), ErrBadPattern)
	assert.NoError(t, Pattern("static-prefix/<%= repository.label %>").Validate())
}

func TestPatternUniqueness(t *testing.T) {
	// a pattern ignoring the repository collapses distinct repos to one name
	p := Pattern("<%= organization.label %>/<%= product.label %>")
	inputs := []PatternInput{
		{Organization: "acme", Product: "zoo", Repository: "r1"},
		{Organization: "acme", Product: "zoo", Repository: "r2"},
	}
	assert.ErrorIs(t, p.CheckUnique(inputs), ErrPatternCollision)

	assert.NoError(t, DefaultPattern.CheckUnique(inputs))
}

func TestRenderStableAfterRename(t *testing.T) {
	// promoted names are rendered once and stored: renaming the product
	// afterwards must not change what was already rendered
	in := PatternInput{Organization: "acme", Product: "zoo", Repository: "busy"}
	before, err := DefaultPattern.Render(in)
	require.NoError(t, err)
	in.Product = "menagerie"
	after, err := DefaultPattern.Render(in)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, "acme/zoo/busy", before)
}
