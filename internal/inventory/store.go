package inventory

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens the inventory database, creating the schema when missing.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("inventory path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening inventory: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error pinging inventory: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id INTEGER NOT NULL REFERENCES organizations(id),
	label TEXT NOT NULL,
	UNIQUE(org_id, label)
);
CREATE TABLE IF NOT EXISTS repositories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	label TEXT NOT NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	download_policy TEXT NOT NULL DEFAULT 'immediate',
	upstream_name TEXT NOT NULL DEFAULT '',
	revision TEXT NOT NULL DEFAULT '',
	last_sync INTEGER NOT NULL DEFAULT 0,
	UNIQUE(product_id, label)
);
CREATE TABLE IF NOT EXISTS units (
	repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind INTEGER NOT NULL,
	digest TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	UNIQUE(repo_id, kind, name)
);
CREATE TABLE IF NOT EXISTS errata (
	repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	erratum_id TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	packages TEXT NOT NULL DEFAULT '[]',
	UNIQUE(repo_id, erratum_id)
);
CREATE TABLE IF NOT EXISTS environments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id INTEGER NOT NULL REFERENCES organizations(id),
	label TEXT NOT NULL,
	prior_id INTEGER NOT NULL DEFAULT 0,
	UNIQUE(org_id, label)
);
CREATE TABLE IF NOT EXISTS content_views (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id INTEGER NOT NULL REFERENCES organizations(id),
	label TEXT NOT NULL,
	composite INTEGER NOT NULL DEFAULT 0,
	UNIQUE(org_id, label)
);
CREATE TABLE IF NOT EXISTS view_repositories (
	view_id INTEGER NOT NULL REFERENCES content_views(id) ON DELETE CASCADE,
	repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	UNIQUE(view_id, repo_id)
);
CREATE TABLE IF NOT EXISTS view_components (
	view_id INTEGER NOT NULL REFERENCES content_views(id) ON DELETE CASCADE,
	version_id INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
	UNIQUE(view_id, version_id)
);
CREATE TABLE IF NOT EXISTS versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	view_id INTEGER NOT NULL REFERENCES content_views(id) ON DELETE CASCADE,
	major INTEGER NOT NULL,
	minor INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(view_id, major, minor)
);
CREATE TABLE IF NOT EXISTS version_units (
	version_id INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
	repo_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	kind INTEGER NOT NULL,
	digest TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS version_errata (
	version_id INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
	erratum_id TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	packages TEXT NOT NULL DEFAULT '[]',
	UNIQUE(version_id, erratum_id)
);
CREATE TABLE IF NOT EXISTS version_environments (
	version_id INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
	env_id INTEGER NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
	UNIQUE(version_id, env_id)
);
CREATE TABLE IF NOT EXISTS capsules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	root TEXT NOT NULL,
	last_sync INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS capsule_environments (
	capsule_id INTEGER NOT NULL REFERENCES capsules(id) ON DELETE CASCADE,
	env_id INTEGER NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
	UNIQUE(capsule_id, env_id)
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	action TEXT NOT NULL,
	state TEXT NOT NULL,
	result TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	skipped INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	ended_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS settings (
	org_id INTEGER NOT NULL REFERENCES organizations(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE(org_id, key)
);
`
