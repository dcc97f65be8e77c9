package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) InsertTask(ctx context.Context, t Task) error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, subject, action, state, result, output, skipped, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Subject, t.Action, t.State, t.Result, t.Output, t.Skipped,
		t.StartedAt.UTC().UnixMilli(), endedMillis(t.EndedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("task %v: %w", t.ID, ErrConflict)
	}
	return err
}

func (s *Store) UpdateTask(ctx context.Context, t Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, result = ?, output = ?, skipped = ?, ended_at = ? WHERE id = ?`,
		t.State, t.Result, t.Output, t.Skipped, endedMillis(t.EndedAt), t.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %v: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT id, subject, action, state, result, output, skipped, started_at, ended_at
		 FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %v: %w", id, ErrNotFound)
	}
	return t, err
}

// ActiveTasks lists non terminal tasks, optionally filtered by subject.
func (s *Store) ActiveTasks(ctx context.Context, subject string) ([]Task, error) {
	query := `SELECT id, subject, action, state, result, output, skipped, started_at, ended_at
		 FROM tasks WHERE state IN (?, ?)`
	args := []any{TaskPending, TaskRunning}
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY started_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// LastTask returns the most recently finished task for a subject.
func (s *Store) LastTask(ctx context.Context, subject string) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT id, subject, action, state, result, output, skipped, started_at, ended_at
		 FROM tasks WHERE subject = ? AND ended_at > 0 ORDER BY ended_at DESC LIMIT 1`, subject))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no finished tasks for %v: %w", subject, ErrNotFound)
	}
	return t, err
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var started, ended int64
	err := row.Scan(&t.ID, &t.Subject, &t.Action, &t.State, &t.Result, &t.Output,
		&t.Skipped, &started, &ended)
	if err != nil {
		return nil, err
	}
	t.StartedAt = time.UnixMilli(started).UTC()
	if ended > 0 {
		t.EndedAt = time.UnixMilli(ended).UTC()
	}
	return &t, nil
}

func endedMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}
