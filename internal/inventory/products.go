package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (s *Store) CreateProduct(ctx context.Context, orgID int64, label string) (*Product, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("product label is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (org_id, label) VALUES (?, ?)`, orgID, label)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %v: %w", label, ErrConflict)
		}
		return nil, fmt.Errorf("error creating product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Product{ID: id, OrgID: orgID, Label: label}, nil
}

func (s *Store) GetProduct(ctx context.Context, orgID int64, label string) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, label FROM products WHERE org_id = ? AND label = ?`,
		orgID, label).Scan(&p.ID, &p.OrgID, &p.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %v: %w", label, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, label FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.OrgID, &p.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, orgID int64) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, label FROM products WHERE org_id = ? ORDER BY label`, orgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Label); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// RenameProduct changes the product label. Already published names in the
// depot and on capsules are not rewritten.
func (s *Store) RenameProduct(ctx context.Context, productID int64, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return fmt.Errorf("product label is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET label = ? WHERE id = ?`, label, productID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product %v: %w", label, ErrConflict)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, productID int64) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repositories WHERE product_id = ?`, productID).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("product %d has %d repositories: %w", productID, count, ErrInUse)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, productID)
	return err
}
