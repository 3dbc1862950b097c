package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/service/subscriber"
)

// SubscriberRepo implements subscriber.Repository and the tracking side
// effects against PostgreSQL.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

const subscriberColumns = `id, email, name, status, tags, custom_fields,
       last_activity_at, created_at, updated_at`

func scanSubscriber(row interface{ Scan(...any) error }) (*domain.Subscriber, error) {
	s := &domain.Subscriber{}
	var fields []byte
	err := row.Scan(
		&s.ID, &s.Email, &s.Name, &s.Status, pq.Array(&s.Tags), &fields,
		&s.LastActivityAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &s.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom_fields: %w", err)
		}
	}
	return s, nil
}

func (r *SubscriberRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	s, err := scanSubscriber(r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, subscriber.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return s, nil
}

func (r *SubscriberRepo) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	s, err := scanSubscriber(r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE email = $1`, email))
	if err == sql.ErrNoRows {
		return nil, subscriber.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber by email: %w", err)
	}
	return s, nil
}

func (r *SubscriberRepo) List(ctx context.Context, f subscriber.ListFilter) ([]domain.Subscriber, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	countQ := `SELECT COUNT(*) FROM subscribers WHERE 1=1`
	q := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE 1=1`
	var args []any
	idx := 1

	add := func(clause string, val any) {
		countQ += clause
		q += clause
		args = append(args, val)
		idx++
	}
	if f.Status != "" {
		add(fmt.Sprintf(" AND status = $%d", idx), f.Status)
	}
	if f.Tag != "" {
		add(fmt.Sprintf(" AND $%d = ANY(tags)", idx), f.Tag)
	}
	if f.Search != "" {
		// the placeholder binds once and is referenced twice
		add(fmt.Sprintf(" AND (email ILIKE $%d OR name ILIKE $%d)", idx, idx), "%"+f.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count subscribers: %w", err)
	}

	q += fmt.Sprintf(" ORDER BY email ASC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

func (r *SubscriberRepo) Create(ctx context.Context, s *domain.Subscriber) error {
	fields, err := json.Marshal(s.CustomFields)
	if err != nil {
		return fmt.Errorf("encode custom_fields: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, email, name, status, tags, custom_fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.Email, s.Name, s.Status, pq.Array(s.Tags), fields, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return subscriber.ErrDuplicateEmail
		}
		return fmt.Errorf("create subscriber: %w", err)
	}
	return nil
}

func (r *SubscriberRepo) Update(ctx context.Context, id uuid.UUID, u subscriber.UpdateFields) error {
	sets := "updated_at = NOW()"
	var args []any
	idx := 1

	if u.Name != nil {
		sets += fmt.Sprintf(", name = $%d", idx)
		args = append(args, *u.Name)
		idx++
	}
	if u.Tags != nil {
		sets += fmt.Sprintf(", tags = $%d", idx)
		args = append(args, pq.Array(*u.Tags))
		idx++
	}
	if u.CustomFields != nil {
		fields, err := json.Marshal(*u.CustomFields)
		if err != nil {
			return fmt.Errorf("encode custom_fields: %w", err)
		}
		sets += fmt.Sprintf(", custom_fields = $%d", idx)
		args = append(args, fields)
		idx++
	}

	args = append(args, id)
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE subscribers SET %s WHERE id = $%d", sets, idx), args...)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

func (r *SubscriberRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.SubscriberStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set subscriber status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

func (r *SubscriberRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

// MarkUnsubscribed implements the tracking handler's unsubscribe side
// effect.
func (r *SubscriberRepo) MarkUnsubscribed(ctx context.Context, id uuid.UUID) error {
	return r.SetStatus(ctx, id, domain.SubscriberUnsubscribed)
}

// TouchActivity bumps last_activity_at for open tracking.
func (r *SubscriberRepo) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET last_activity_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}
