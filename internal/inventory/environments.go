package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateEnvironment appends a lifecycle environment to the org's promotion
// path. When prior is empty the new environment follows Library.
func (s *Store) CreateEnvironment(ctx context.Context, orgID int64, label, prior string) (*Environment, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("environment label is required")
	}
	if label == LibraryEnvironment {
		return nil, fmt.Errorf("environment %v: %w", label, ErrConflict)
	}
	if prior == "" {
		prior = LibraryEnvironment
	}
	priorEnv, err := s.GetEnvironment(ctx, orgID, prior)
	if err != nil {
		return nil, fmt.Errorf("prior environment: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO environments (org_id, label, prior_id) VALUES (?, ?, ?)`,
		orgID, label, priorEnv.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("environment %v: %w", label, ErrConflict)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Environment{ID: id, OrgID: orgID, Label: label, PriorID: priorEnv.ID}, nil
}

func (s *Store) GetEnvironment(ctx context.Context, orgID int64, label string) (*Environment, error) {
	var e Environment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, label, prior_id FROM environments WHERE org_id = ? AND label = ?`,
		orgID, label).Scan(&e.ID, &e.OrgID, &e.Label, &e.PriorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %v: %w", label, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEnvironmentByID(ctx context.Context, id int64) (*Environment, error) {
	var e Environment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, label, prior_id FROM environments WHERE id = ?`, id).
		Scan(&e.ID, &e.OrgID, &e.Label, &e.PriorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEnvironments(ctx context.Context, orgID int64) ([]Environment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, label, prior_id FROM environments WHERE org_id = ? ORDER BY id`, orgID)
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

// PromotionPath walks prior links from Library to the given environment.
// Promoting to an environment requires the version to already sit in every
// environment on the path before it.
func (s *Store) PromotionPath(ctx context.Context, orgID int64, label string) ([]Environment, error) {
	target, err := s.GetEnvironment(ctx, orgID, label)
	if err != nil {
		return nil, err
	}
	path := []Environment{*target}
	for target.PriorID != 0 {
		target, err = s.GetEnvironmentByID(ctx, target.PriorID)
		if err != nil {
			return nil, fmt.Errorf("broken promotion path: %w", err)
		}
		path = append([]Environment{*target}, path...)
		if len(path) > 64 {
			return nil, fmt.Errorf("promotion path loop at %v", target.Label)
		}
	}
	return path, nil
}
