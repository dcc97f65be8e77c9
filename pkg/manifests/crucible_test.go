package manifests

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `SnippetDir = "snippets"

[Registry]
NamePattern = "<%= organization.label %>/<%= product.label %>/<%= repository.label %>"

[Organizations.acme]
Name = "ACME Corp"

[Organizations.acme.Environments.dev]
Prior = "Library"

[Organizations.acme.Environments.prod]
Prior = "dev"

[Organizations.acme.Products.rhel]
Name = "Red Hat Enterprise Linux"

[[Organizations.acme.Products.rhel.Repositories]]
Label = "base"
Type = "yum"
URL = "https://cdn.example.com/rhel/base"
DownloadPolicy = "on_demand"

[[Organizations.acme.Products.rhel.Repositories]]
Label = "extras"
Type = "container"
URL = "https://registry.example.com"
UpstreamName = "acme/extras"

[Organizations.acme.Views.webstack]
Repositories = ["rhel/base"]

[Organizations.acme.Views.everything]
Composite = true
Components = ["webstack"]

[Capsules.forge-proxy]
URL = "https://forge-proxy.example.com:9090"
Environments = ["dev", "prod"]
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), CrucibleManifestFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCrucibleManifest(t *testing.T) {
	m, err := LoadCrucibleManifest(writeManifest(t, sampleManifest))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	org, ok := m.Organizations["acme"]
	require.True(t, ok)
	assert.Equal(t, "ACME Corp", org.Name)
	assert.Equal(t, "dev", org.Environments["prod"].Prior)
	require.Len(t, org.Products["rhel"].Repositories, 2)
	assert.Equal(t, "on_demand", org.Products["rhel"].Repositories[0].DownloadPolicy)
	assert.Equal(t, "acme/extras", org.Products["rhel"].Repositories[1].UpstreamName)
	assert.True(t, org.Views["everything"].Composite)
	assert.Equal(t, []string{"dev", "prod"}, m.Capsules["forge-proxy"].Environments)
	assert.Equal(t, "snippets", m.SnippetDir)
	assert.Equal(t, "repos", m.RepoDir)
}

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "undefined prior",
			body: `[Organizations.acme.Environments.prod]
Prior = "qa"
`,
		},
		{
			name: "library redefined",
			body: `[Organizations.acme.Environments.Library]
Prior = ""
`,
		},
		{
			name: "view references missing repository",
			body: `[Organizations.acme.Views.webstack]
Repositories = ["rhel/base"]
`,
		},
		{
			name: "composite lists repositories",
			body: `[Organizations.acme.Views.everything]
Composite = true
Repositories = ["rhel/base"]
`,
		},
		{
			name: "composite nests composite",
			body: `[Organizations.acme.Views.inner]
Composite = true

[Organizations.acme.Views.outer]
Composite = true
Components = ["inner"]
`,
		},
		{
			name: "capsule references missing environment",
			body: `[Capsules.forge-proxy]
Environments = ["qa"]
`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := LoadCrucibleManifest(writeManifest(t, tc.body))
			require.NoError(t, err)
			assert.Error(t, m.Validate())
		})
	}
}
