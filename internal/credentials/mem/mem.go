package mem

import (
	"context"

	"ironworks.systems/crucible/internal/credentials"
)

type MemoryManager struct {
	creds map[string]interface{}
}

type MemoryConfig struct{}

func (m MemoryConfig) Validate() error { return nil }

func (m MemoryConfig) CredentialsType() string { return "memory" }

func NewMemoryManager() *MemoryManager {
	creds := make(map[string]interface{})
	return &MemoryManager{creds}
}

func (m *MemoryManager) Lookup(_ context.Context, _ credentials.Filter) map[string]interface{} {
	return m.creds
}

func (m *MemoryManager) Add(key, value string) {
	m.creds[key] = value
}
