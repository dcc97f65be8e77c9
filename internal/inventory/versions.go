package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ironworks.systems/crucible/internal/content"
)

// VersionContent is the frozen per repository unit set a version carries.
type VersionContent map[int64]*content.Metadata

func (vc VersionContent) Counts() map[string]int {
	counts := make(map[string]int)
	for _, meta := range vc {
		for k, v := range meta.Counts() {
			counts[k] += v
		}
	}
	return counts
}

// CreateVersion freezes the given content as a new version row. Versions are
// immutable once created.
func (s *Store) CreateVersion(ctx context.Context, viewID int64, major, minor int, vc VersionContent) (*Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO versions (view_id, major, minor, created_at) VALUES (?, ?, ?, ?)`,
		viewID, major, minor, now.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("version %d.%d: %w", major, minor, ErrConflict)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	for repoID, meta := range vc {
		for _, u := range meta.Units {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO version_units (version_id, repo_id, name, kind, digest, size)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				id, repoID, u.Name, u.Kind, u.Digest, u.Size)
			if err != nil {
				return nil, err
			}
		}
		for _, e := range meta.Errata {
			packages, err := packList(e.Packages)
			if err != nil {
				return nil, err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO version_errata (version_id, erratum_id, type, title, severity, packages)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				id, e.ID, e.Type, e.Title, e.Severity, packages)
			if err != nil && !isUniqueViolation(err) {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Version{ID: id, ViewID: viewID, Major: major, Minor: minor, CreatedAt: now}, nil
}

func (s *Store) GetVersionByID(ctx context.Context, id int64) (*Version, error) {
	var v Version
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, view_id, major, minor, created_at FROM versions WHERE id = ?`, id).
		Scan(&v.ID, &v.ViewID, &v.Major, &v.Minor, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt = time.UnixMilli(created).UTC()
	return &v, nil
}

func (s *Store) GetVersion(ctx context.Context, viewID int64, name string) (*Version, error) {
	var major, minor int
	if _, err := fmt.Sscanf(name, "%d.%d", &major, &minor); err != nil {
		return nil, fmt.Errorf("malformed version %v", name)
	}
	var v Version
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, view_id, major, minor, created_at FROM versions
		 WHERE view_id = ? AND major = ? AND minor = ?`, viewID, major, minor).
		Scan(&v.ID, &v.ViewID, &v.Major, &v.Minor, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %v: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt = time.UnixMilli(created).UTC()
	return &v, nil
}

// ListVersions returns a view's versions oldest first.
func (s *Store) ListVersions(ctx context.Context, viewID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, view_id, major, minor, created_at FROM versions
		 WHERE view_id = ? ORDER BY major, minor`, viewID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectVersions(rows)
}

// NextVersionNumbers computes the major.minor of the next publish (next
// major, minor zero).
func (s *Store) NextVersionNumbers(ctx context.Context, viewID int64) (int, int, error) {
	var major sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(major) FROM versions WHERE view_id = ?`, viewID).Scan(&major)
	if err != nil {
		return 0, 0, err
	}
	return int(major.Int64) + 1, 0, nil
}

// NextMinor computes the minor for an incremental update of base.
func (s *Store) NextMinor(ctx context.Context, viewID int64, major int) (int, error) {
	var minor sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(minor) FROM versions WHERE view_id = ? AND major = ?`, viewID, major).Scan(&minor)
	if err != nil {
		return 0, err
	}
	return int(minor.Int64) + 1, nil
}

// VersionContent loads the frozen unit sets of a version keyed by repo id.
func (s *Store) VersionContent(ctx context.Context, versionID int64) (VersionContent, error) {
	vc := make(VersionContent)
	rows, err := s.db.QueryContext(ctx,
		`SELECT repo_id, name, kind, digest, size FROM version_units
		 WHERE version_id = ? ORDER BY repo_id, kind, name`, versionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var repoID int64
		var u content.Unit
		if err := rows.Scan(&repoID, &u.Name, &u.Kind, &u.Digest, &u.Size); err != nil {
			return nil, err
		}
		meta, ok := vc[repoID]
		if !ok {
			meta = &content.Metadata{}
			vc[repoID] = meta
		}
		meta.Units = append(meta.Units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	erows, err := s.db.QueryContext(ctx,
		`SELECT erratum_id, type, title, severity, packages FROM version_errata
		 WHERE version_id = ? ORDER BY erratum_id`, versionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = erows.Close() }()
	var errata []content.Erratum
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
		errata = append(errata, e)
	}
	if err := erows.Err(); err != nil {
		return nil, err
	}
	// errata ride along with the first repo carrying their packages, or the
	// first repo at all when no package matches
	for _, e := range errata {
		attachErratum(vc, e)
	}
	return vc, nil
}

func attachErratum(vc VersionContent, e content.Erratum) {
	for _, meta := range vc {
		for _, u := range meta.Units {
			for _, pkg := range e.Packages {
				if u.Name == pkg {
					meta.Errata = append(meta.Errata, e)
					return
				}
			}
		}
	}
	for _, meta := range vc {
		meta.Errata = append(meta.Errata, e)
		return
	}
}

// AssociateEnvironment records a promotion. Versions always keep Library.
func (s *Store) AssociateEnvironment(ctx context.Context, versionID, envID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO version_environments (version_id, env_id) VALUES (?, ?)
		 ON CONFLICT(version_id, env_id) DO NOTHING`, versionID, envID)
	return err
}

// DissociateEnvironment removes a version from an environment, typically
// because a newer version took its place there.
func (s *Store) DissociateEnvironment(ctx context.Context, versionID, envID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM version_environments WHERE version_id = ? AND env_id = ?`, versionID, envID)
	return err
}

func (s *Store) VersionEnvironments(ctx context.Context, versionID int64) ([]Environment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.org_id, e.label, e.prior_id FROM environments e
		 JOIN version_environments ve ON ve.env_id = e.id
		 WHERE ve.version_id = ? ORDER BY e.id`, versionID)
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

// VersionInEnvironment finds the version of a given view promoted into env.
func (s *Store) VersionInEnvironment(ctx context.Context, viewID, envID int64) (*Version, error) {
	var v Version
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT v.id, v.view_id, v.major, v.minor, v.created_at FROM versions v
		 JOIN version_environments ve ON ve.version_id = v.id
		 WHERE v.view_id = ? AND ve.env_id = ?
		 ORDER BY v.major DESC, v.minor DESC LIMIT 1`, viewID, envID).
		Scan(&v.ID, &v.ViewID, &v.Major, &v.Minor, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no version of view %d in environment %d: %w", viewID, envID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt = time.UnixMilli(created).UTC()
	return &v, nil
}

// VersionsInEnvironment lists every promoted version in an environment,
// across views.
func (s *Store) VersionsInEnvironment(ctx context.Context, envID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.view_id, v.major, v.minor, v.created_at FROM versions v
		 JOIN version_environments ve ON ve.version_id = v.id
		 WHERE ve.env_id = ? ORDER BY v.id`, envID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectVersions(rows)
}
