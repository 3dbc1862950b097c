package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppressions WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (r *SuppressionRepo) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	s := &domain.Suppression{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, reason, created_at FROM suppressions WHERE email = $1`, email,
	).Scan(&s.Email, &s.Reason, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return s, nil
}

// Add inserts the entry unless the email is already listed. The first
// writer's reason wins; the existing row is returned untouched.
func (r *SuppressionRepo) Add(ctx context.Context, entry *domain.Suppression) (*domain.Suppression, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions (email, reason, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`, entry.Email, entry.Reason, entry.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("add suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return entry, true, nil
	}
	existing, err := r.Get(ctx, entry.Email)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM suppressions WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, limit, offset int) ([]domain.Suppression, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppressions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT email, reason, created_at FROM suppressions
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.Suppression
	for rows.Next() {
		var s domain.Suppression
		if err := rows.Scan(&s.Email, &s.Reason, &s.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
