package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateOrganization creates an org and its built in Library environment.
func (s *Store) CreateOrganization(ctx context.Context, label string) (*Organization, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("organization label is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO organizations (label, created_at) VALUES (?, ?)`,
		label, now.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("organization %v: %w", label, ErrConflict)
		}
		return nil, fmt.Errorf("error creating organization: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO environments (org_id, label, prior_id) VALUES (?, ?, 0)`,
		id, LibraryEnvironment)
	if err != nil {
		return nil, fmt.Errorf("error creating Library environment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Organization{ID: id, Label: label, CreatedAt: now}, nil
}

func (s *Store) GetOrganization(ctx context.Context, label string) (*Organization, error) {
	var o Organization
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, created_at FROM organizations WHERE label = ?`, label).
		Scan(&o.ID, &o.Label, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %v: %w", label, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt = time.UnixMilli(created).UTC()
	return &o, nil
}

func (s *Store) GetOrganizationByID(ctx context.Context, id int64) (*Organization, error) {
	var o Organization
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, created_at FROM organizations WHERE id = ?`, id).
		Scan(&o.ID, &o.Label, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt = time.UnixMilli(created).UTC()
	return &o, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, created_at FROM organizations ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var orgs []Organization
	for rows.Next() {
		var o Organization
		var created int64
		if err := rows.Scan(&o.ID, &o.Label, &created); err != nil {
			return nil, err
		}
		o.CreatedAt = time.UnixMilli(created).UTC()
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// DeleteOrganization refuses while the org still owns products.
func (s *Store) DeleteOrganization(ctx context.Context, label string) error {
	o, err := s.GetOrganization(ctx, label)
	if err != nil {
		return err
	}
	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE org_id = ?`, o.ID).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("organization %v has %d products: %w", label, count, ErrInUse)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range []string{
		`DELETE FROM environments WHERE org_id = ?`,
		`DELETE FROM content_views WHERE org_id = ?`,
		`DELETE FROM settings WHERE org_id = ?`,
		`DELETE FROM organizations WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, o.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetSetting stores a per org setting, e.g. the registry name pattern.
func (s *Store) SetSetting(ctx context.Context, orgID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (org_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(org_id, key) DO UPDATE SET value = excluded.value`,
		orgID, key, value)
	return err
}

func (s *Store) GetSetting(ctx context.Context, orgID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE org_id = ? AND key = ?`, orgID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
