package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) CreateCapsule(ctx context.Context, name, root string) (*Capsule, error) {
	if name == "" {
		return nil, fmt.Errorf("capsule name is required")
	}
	if root == "" {
		return nil, fmt.Errorf("capsule root is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO capsules (name, root) VALUES (?, ?)`, name, root)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("capsule %v: %w", name, ErrConflict)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Capsule{ID: id, Name: name, Root: root}, nil
}

func (s *Store) GetCapsule(ctx context.Context, name string) (*Capsule, error) {
	var c Capsule
	var lastSync int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, root, last_sync FROM capsules WHERE name = ?`, name).
		Scan(&c.ID, &c.Name, &c.Root, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capsule %v: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if lastSync > 0 {
		c.LastSync = time.UnixMilli(lastSync).UTC()
	}
	return &c, nil
}

func (s *Store) ListCapsules(ctx context.Context) ([]Capsule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, root, last_sync FROM capsules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var capsules []Capsule
	for rows.Next() {
		var c Capsule
		var lastSync int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Root, &lastSync); err != nil {
			return nil, err
		}
		if lastSync > 0 {
			c.LastSync = time.UnixMilli(lastSync).UTC()
		}
		capsules = append(capsules, c)
	}
	return capsules, rows.Err()
}

func (s *Store) AttachCapsuleEnvironment(ctx context.Context, capsuleID, envID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capsule_environments (capsule_id, env_id) VALUES (?, ?)`, capsuleID, envID)
	if isUniqueViolation(err) {
		return fmt.Errorf("environment %d already attached: %w", envID, ErrConflict)
	}
	return err
}

// DetachCapsuleEnvironment refuses while the environment still holds
// promoted content, unless forced.
func (s *Store) DetachCapsuleEnvironment(ctx context.Context, capsuleID, envID int64, force bool) error {
	if !force {
		promoted, err := s.VersionsInEnvironment(ctx, envID)
		if err != nil {
			return err
		}
		if len(promoted) > 0 {
			return fmt.Errorf("environment %d has promoted content: %w", envID, ErrInUse)
		}
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM capsule_environments WHERE capsule_id = ? AND env_id = ?`, capsuleID, envID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("environment %d not attached: %w", envID, ErrNotFound)
	}
	return nil
}

func (s *Store) CapsuleEnvironments(ctx context.Context, capsuleID int64) ([]Environment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.org_id, e.label, e.prior_id FROM environments e
		 JOIN capsule_environments ce ON ce.env_id = e.id
		 WHERE ce.capsule_id = ? ORDER BY e.id`, capsuleID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var envs []Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Label, &e.PriorID); err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

// CapsulesForEnvironment lists capsules mirroring the given environment.
func (s *Store) CapsulesForEnvironment(ctx context.Context, envID int64) ([]Capsule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.root, c.last_sync FROM capsules c
		 JOIN capsule_environments ce ON ce.capsule_id = c.id
		 WHERE ce.env_id = ? ORDER BY c.name`, envID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var capsules []Capsule
	for rows.Next() {
		var c Capsule
		var lastSync int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Root, &lastSync); err != nil {
			return nil, err
		}
		if lastSync > 0 {
			c.LastSync = time.UnixMilli(lastSync).UTC()
		}
		capsules = append(capsules, c)
	}
	return capsules, rows.Err()
}

func (s *Store) TouchCapsuleSync(ctx context.Context, capsuleID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE capsules SET last_sync = ? WHERE id = ?`, at.UTC().UnixMilli(), capsuleID)
	return err
}
