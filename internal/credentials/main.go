package credentials

import (
	"context"
)

// Manager resolves upstream credentials (registry logins, basic auth
// for repositories) from a backing vault. Lookup results are merged
// broadest-first, so a product entry overrides an organization entry
// which overrides a global one.
type Manager interface {
	Lookup(context.Context, Filter) map[string]interface{}
}

type Config interface {
	CredentialsType() string
	Validate() error
}

type Filter struct {
	Organization string
	Product      string
	Capsule      string
}

// Vault is the on-disk shape of a credentials file.
type Vault struct {
	Globals       map[string]interface{}
	Organizations map[string]map[string]interface{}
	Products      map[string]map[string]interface{}
	Capsules      map[string]map[string]interface{}
}

// BasicAuth pulls the conventional username/password pair out of a
// lookup result. Missing or non-string entries come back empty.
func BasicAuth(creds map[string]interface{}) (username, password string) {
	if v, ok := creds["username"].(string); ok {
		username = v
	}
	if v, ok := creds["password"].(string); ok {
		password = v
	}
	return username, password
}
