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
	"github.com/embermail/embermail/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, name, template_id, from_name, from_email, segment_tags,
       scheduled_at, send_rate, ab_variants, status, started_at, completed_at,
       created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var variants []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.TemplateID, &c.FromName, &c.FromEmail, pq.Array(&c.SegmentTags),
		&c.ScheduledAt, &c.SendRate, &variants, &c.Status, &c.StartedAt, &c.CompletedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &c.ABVariants); err != nil {
			return nil, fmt.Errorf("decode ab_variants: %w", err)
		}
	}
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	var args []any
	idx := 1

	if f.Status != "" {
		clause := fmt.Sprintf(" AND status = $%d", idx)
		countQ += clause
		q += clause
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		clause := fmt.Sprintf(" AND name ILIKE $%d", idx)
		countQ += clause
		q += clause
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	variants, err := json.Marshal(c.ABVariants)
	if err != nil {
		return fmt.Errorf("encode ab_variants: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, template_id, from_name, from_email, segment_tags,
		                       scheduled_at, send_rate, ab_variants, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.Name, c.TemplateID, c.FromName, c.FromEmail, pq.Array(c.SegmentTags),
		c.ScheduledAt, c.SendRate, variants, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, id uuid.UUID, u campaign.UpdateFields) error {
	sets := []string{"updated_at = NOW()"}
	var args []any
	idx := 1

	set := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.TemplateID != nil {
		set("template_id", *u.TemplateID)
	}
	if u.FromName != nil {
		set("from_name", *u.FromName)
	}
	if u.FromEmail != nil {
		set("from_email", *u.FromEmail)
	}
	if u.SegmentTags != nil {
		set("segment_tags", pq.Array(*u.SegmentTags))
	}
	if u.SendRate != nil {
		set("send_rate", *u.SendRate)
	}
	if u.ABVariants != nil {
		variants, err := json.Marshal(*u.ABVariants)
		if err != nil {
			return fmt.Errorf("encode ab_variants: %w", err)
		}
		set("ab_variants", variants)
	}

	q := "UPDATE campaigns SET "
	for i, s := range sets {
		if i > 0 {
			q += ", "
		}
		q += s
	}
	q += fmt.Sprintf(" WHERE id = $%d", idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Schedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'scheduled', scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, id, at)
	if err != nil {
		return fmt.Errorf("schedule campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// either missing or not a draft; disambiguate for the caller
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return campaign.ErrInvalidTransition
	}
	return nil
}

func (r *CampaignRepo) GetMetrics(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignMetrics, error) {
	m := &domain.CampaignMetrics{}
	err := r.db.QueryRowContext(ctx, `
		SELECT campaign_id, sent, opened, clicked, unsubscribed, bounced, computed_at
		FROM campaign_metrics WHERE campaign_id = $1
	`, campaignID).Scan(&m.CampaignID, &m.Sent, &m.Opened, &m.Clicked, &m.Unsubscribed, &m.Bounced, &m.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}
	return m, nil
}

// ListDueCampaigns returns scheduled campaigns whose send time has passed.
// Used by the scheduler's promote loop.
func (r *CampaignRepo) ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE status = 'scheduled' AND scheduled_at <= $1
		 ORDER BY scheduled_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
