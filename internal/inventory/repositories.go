package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ironworks.systems/crucible/internal/content"
)

type NewRepository struct {
	ProductID      int64
	Label          string
	Type           RepoType
	URL            string
	DownloadPolicy DownloadPolicy
	UpstreamName   string
}

func (n NewRepository) Validate() error {
	if strings.TrimSpace(n.Label) == "" {
		return fmt.Errorf("repository label is required")
	}
	switch n.Type {
	case RepoYum, RepoContainer, RepoFile:
	default:
		return fmt.Errorf("unknown repository type %v", n.Type)
	}
	switch n.DownloadPolicy {
	case PolicyImmediate, PolicyOnDemand:
	case "":
	default:
		return fmt.Errorf("unknown download policy %v", n.DownloadPolicy)
	}
	if n.Type == RepoContainer && n.UpstreamName == "" {
		return fmt.Errorf("container repository needs an upstream name")
	}
	return nil
}

func (s *Store) CreateRepository(ctx context.Context, n NewRepository) (*Repository, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if n.DownloadPolicy == "" {
		n.DownloadPolicy = PolicyImmediate
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (product_id, label, type, url, download_policy, upstream_name)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ProductID, n.Label, n.Type, n.URL, n.DownloadPolicy, n.UpstreamName)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("repository %v: %w", n.Label, ErrConflict)
		}
		return nil, fmt.Errorf("error creating repository: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetRepositoryByID(ctx, id)
}

const repoColumns = `id, product_id, label, type, url, download_policy, upstream_name, revision, last_sync`

func scanRepo(row interface{ Scan(...any) error }) (*Repository, error) {
	var r Repository
	var lastSync int64
	err := row.Scan(&r.ID, &r.ProductID, &r.Label, &r.Type, &r.URL,
		&r.DownloadPolicy, &r.UpstreamName, &r.Revision, &lastSync)
	if err != nil {
		return nil, err
	}
	if lastSync > 0 {
		r.LastSync = time.UnixMilli(lastSync).UTC()
	}
	return &r, nil
}

func (s *Store) GetRepositoryByID(ctx context.Context, id int64) (*Repository, error) {
	r, err := scanRepo(s.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %d: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *Store) GetRepository(ctx context.Context, productID int64, label string) (*Repository, error) {
	r, err := scanRepo(s.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE product_id = ? AND label = ?`,
		productID, label))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %v: %w", label, ErrNotFound)
	}
	return r, err
}

func (s *Store) ListRepositories(ctx context.Context, productID int64) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE product_id = ? ORDER BY label`, productID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var repos []Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

type RepositoryUpdate struct {
	Label        *string
	URL          *string
	UpstreamName *string
}

func (s *Store) UpdateRepository(ctx context.Context, id int64, u RepositoryUpdate) error {
	repo, err := s.GetRepositoryByID(ctx, id)
	if err != nil {
		return err
	}
	if u.Label != nil {
		repo.Label = *u.Label
	}
	if u.URL != nil {
		repo.URL = *u.URL
	}
	if u.UpstreamName != nil {
		repo.UpstreamName = *u.UpstreamName
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE repositories SET label = ?, url = ?, upstream_name = ? WHERE id = ?`,
		repo.Label, repo.URL, repo.UpstreamName, id)
	if isUniqueViolation(err) {
		return fmt.Errorf("repository %v: %w", repo.Label, ErrConflict)
	}
	return err
}

// DeleteRepository removes the repository, its units and its view
// memberships. Published versions keep their copies.
func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetRepositoryContent replaces the repository's unit and errata sets and
// records the new revision.
func (s *Store) SetRepositoryContent(ctx context.Context, id int64, meta *content.Metadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM units WHERE repo_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM errata WHERE repo_id = ?`, id); err != nil {
		return err
	}
	for _, u := range meta.Units {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO units (repo_id, name, kind, digest, size) VALUES (?, ?, ?, ?, ?)`,
			id, u.Name, u.Kind, u.Digest, u.Size)
		if err != nil {
			return err
		}
	}
	for _, e := range meta.Errata {
		packages, err := packList(e.Packages)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO errata (repo_id, erratum_id, type, title, severity, packages)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, e.ID, e.Type, e.Title, e.Severity, packages)
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE repositories SET revision = ?, last_sync = ? WHERE id = ?`,
		meta.Revision(), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RepositoryContent loads the repository's current unit and errata sets.
func (s *Store) RepositoryContent(ctx context.Context, id int64) (*content.Metadata, error) {
	var meta content.Metadata
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind, digest, size FROM units WHERE repo_id = ? ORDER BY kind, name`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var u content.Unit
		if err := rows.Scan(&u.Name, &u.Kind, &u.Digest, &u.Size); err != nil {
			return nil, err
		}
		meta.Units = append(meta.Units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	erows, err := s.db.QueryContext(ctx,
		`SELECT erratum_id, type, title, severity, packages FROM errata WHERE repo_id = ? ORDER BY erratum_id`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = erows.Close() }()
	for erows.Next() {
		var e content.Erratum
		var packages string
		if err := erows.Scan(&e.ID, &e.Type, &e.Title, &e.Severity, &packages); err != nil {
			return nil, err
		}
		e.Packages, err = unpackList(packages)
		if err != nil {
			return nil, err
		}
		meta.Errata = append(meta.Errata, e)
	}
	return &meta, erows.Err()
}

func packList(list []string) (string, error) {
	raw, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unpackList(raw string) ([]string, error) {
	var list []string
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}
