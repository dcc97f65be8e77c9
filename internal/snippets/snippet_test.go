package snippets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var puppetConf = []byte(`kind: snippet
name: puppet.conf
[main]
vardir = /var/lib/puppet
logdir = /var/log/puppet
rundir = /var/run/puppet
ssldir = \$vardir/ssl
<% if @host.params['puppet_env'] %>
environment = <%= @host.params['puppet_env'] %>
<% else %>
environment = production
<% end %>
`)

func TestParse(t *testing.T) {
	snip, err := Parse(puppetConf)
	require.NoError(t, err)
	assert.Equal(t, "snippet", snip.Kind)
	assert.Equal(t, "puppet.conf", snip.Name)
	assert.Contains(t, string(snip.Body), `ssldir = \$vardir/ssl`)
	assert.NotContains(t, string(snip.Body), "kind:")
}

func TestParseKeepsBodyVerbatim(t *testing.T) {
	snip, err := Parse(puppetConf)
	require.NoError(t, err)
	// the body is data: conditional markup stays exactly as written
	assert.Contains(t, string(snip.Body), "<% if @host.params['puppet_env'] %>")
	assert.Contains(t, string(snip.Body), "<% else %>")
	assert.Contains(t, string(snip.Body), "<% end %>")
	assert.Equal(t, puppetConf, snip.Encode())
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"one line", "kind: snippet"},
		{"missing name", "kind: snippet\nbody only\n"},
		{"missing kind", "name: puppet.conf\nbody only\n"},
		{"duplicate key", "kind: snippet\nkind: other\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyBody(t *testing.T) {
	snip, err := Parse([]byte("kind: snippet\nname: empty\n"))
	require.NoError(t, err)
	assert.Empty(t, snip.Body)
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "puppet.snippet"), puppetConf, 0o644))
	store, err := NewStore(dir)
	require.NoError(t, err)

	snip, err := store.Get("puppet.conf")
	require.NoError(t, err)
	assert.Equal(t, puppetConf, snip.Encode(), "stored snippet must survive byte for byte")

	require.NoError(t, store.Write(snip))
	raw, err := os.ReadFile(filepath.Join(dir, "puppet.conf.snippet"))
	require.NoError(t, err)
	assert.Equal(t, puppetConf, raw)
}

func TestStoreGetMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Get("nonexistent")
	assert.ErrorIs(t, err, ErrSnippetNotFound)
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.snippet"), []byte("kind: snippet\nname: zz\nbody\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.snippet"), []byte("kind: snippet\nname: aa\nbody\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"), []byte("no header here"), 0o644))
	store, err := NewStore(dir)
	require.NoError(t, err)
	snips, err := store.List()
	require.NoError(t, err)
	require.Len(t, snips, 2)
	assert.Equal(t, "aa", snips[0].Name)
	assert.Equal(t, "zz", snips[1].Name)
}

func TestLint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.snippet"), puppetConf, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.snippet"), []byte("not a snippet"), 0o644))
	store, err := NewStore(dir)
	require.NoError(t, err)
	bad, err := store.Lint()
	require.NoError(t, err)
	require.Len(t, bad, 1)
	assert.Contains(t, bad[0], "bad.snippet")
}
