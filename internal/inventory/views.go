package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (s *Store) CreateContentView(ctx context.Context, orgID int64, label string, composite bool) (*ContentView, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("content view label is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO content_views (org_id, label, composite) VALUES (?, ?, ?)`,
		orgID, label, composite)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("content view %v: %w", label, ErrConflict)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &ContentView{ID: id, OrgID: orgID, Label: label, Composite: composite}, nil
}

func (s *Store) GetContentView(ctx context.Context, orgID int64, label string) (*ContentView, error) {
	var v ContentView
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, label, composite FROM content_views WHERE org_id = ? AND label = ?`,
		orgID, label).Scan(&v.ID, &v.OrgID, &v.Label, &v.Composite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content view %v: %w", label, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetContentViewByID(ctx context.Context, id int64) (*ContentView, error) {
	var v ContentView
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, label, composite FROM content_views WHERE id = ?`, id).
		Scan(&v.ID, &v.OrgID, &v.Label, &v.Composite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content view %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListContentViews(ctx context.Context, orgID int64) ([]ContentView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, label, composite FROM content_views WHERE org_id = ? ORDER BY label`, orgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var views []ContentView
	for rows.Next() {
		var v ContentView
		if err := rows.Scan(&v.ID, &v.OrgID, &v.Label, &v.Composite); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// AddViewRepository attaches a repository to a plain content view. Attaching
// the same repository twice is a conflict, matching upstream behavior.
func (s *Store) AddViewRepository(ctx context.Context, viewID, repoID int64) error {
	view, err := s.GetContentViewByID(ctx, viewID)
	if err != nil {
		return err
	}
	if view.Composite {
		return fmt.Errorf("cannot add repositories to %v: %w", view.Label, ErrComposite)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO view_repositories (view_id, repo_id) VALUES (?, ?)`, viewID, repoID)
	if isUniqueViolation(err) {
		return fmt.Errorf("repository %d already in view %v: %w", repoID, view.Label, ErrConflict)
	}
	return err
}

func (s *Store) RemoveViewRepository(ctx context.Context, viewID, repoID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM view_repositories WHERE view_id = ? AND repo_id = ?`, viewID, repoID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %d not in view %d: %w", repoID, viewID, ErrNotFound)
	}
	return nil
}

func (s *Store) ViewRepositories(ctx context.Context, viewID int64) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedRepoColumns("r")+` FROM repositories r
		 JOIN view_repositories vr ON vr.repo_id = r.id
		 WHERE vr.view_id = ? ORDER BY r.label`, viewID)
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

// AddViewComponent attaches a published component version to a composite
// view. At most one version per component view may be attached.
func (s *Store) AddViewComponent(ctx context.Context, viewID, versionID int64) error {
	view, err := s.GetContentViewByID(ctx, viewID)
	if err != nil {
		return err
	}
	if !view.Composite {
		return fmt.Errorf("cannot add components to %v: %w", view.Label, ErrNotComposite)
	}
	component, err := s.GetVersionByID(ctx, versionID)
	if err != nil {
		return err
	}
	var existing int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM view_components vc
		 JOIN versions v ON v.id = vc.version_id
		 WHERE vc.view_id = ? AND v.view_id = ?`, viewID, component.ViewID).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("view %v already has a version of that component: %w", view.Label, ErrConflict)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO view_components (view_id, version_id) VALUES (?, ?)`, viewID, versionID)
	if isUniqueViolation(err) {
		return fmt.Errorf("version %d already in view %v: %w", versionID, view.Label, ErrConflict)
	}
	return err
}

func (s *Store) RemoveViewComponent(ctx context.Context, viewID, versionID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM view_components WHERE view_id = ? AND version_id = ?`, viewID, versionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("version %d not in view %d: %w", versionID, viewID, ErrNotFound)
	}
	return nil
}

func (s *Store) ViewComponents(ctx context.Context, viewID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.view_id, v.major, v.minor, v.created_at FROM versions v
		 JOIN view_components vc ON vc.version_id = v.id
		 WHERE vc.view_id = ? ORDER BY v.id`, viewID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectVersions(rows)
}

func prefixedRepoColumns(alias string) string {
	cols := strings.Split(repoColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func collectVersions(rows *sql.Rows) ([]Version, error) {
	var versions []Version
	for rows.Next() {
		var v Version
		var created int64
		if err := rows.Scan(&v.ID, &v.ViewID, &v.Major, &v.Minor, &created); err != nil {
			return nil, err
		}
		v.CreatedAt = time.UnixMilli(created).UTC()
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
