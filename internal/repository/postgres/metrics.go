package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/embermail/embermail/internal/domain"
)

// MetricsStore backs the metrics aggregator. Counts are computed from the
// job and event tables; the materialized row in campaign_metrics is only a
// cache for read paths.
type MetricsStore struct{ db *sql.DB }

// NewMetricsStore creates a Postgres-backed metrics store.
func NewMetricsStore(db *sql.DB) *MetricsStore { return &MetricsStore{db: db} }

func (s *MetricsStore) ListCampaignIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE status != 'draft' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list campaign ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *MetricsStore) CountJobs(ctx context.Context, campaignID uuid.UUID, statuses ...domain.SendJobStatus) (int, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM send_jobs WHERE campaign_id = $1 AND status = ANY($2)
	`, campaignID, pq.Array(names)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func (s *MetricsStore) CountEventSubscribers(ctx context.Context, campaignID uuid.UUID, typ domain.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT subscriber_id) FROM events
		WHERE campaign_id = $1 AND type = $2
	`, campaignID, typ).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count event subscribers: %w", err)
	}
	return n, nil
}

func (s *MetricsStore) UpsertMetrics(ctx context.Context, m *domain.CampaignMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_metrics (campaign_id, sent, opened, clicked, unsubscribed, bounced, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id) DO UPDATE SET
			sent = EXCLUDED.sent,
			opened = EXCLUDED.opened,
			clicked = EXCLUDED.clicked,
			unsubscribed = EXCLUDED.unsubscribed,
			bounced = EXCLUDED.bounced,
			computed_at = EXCLUDED.computed_at
	`, m.CampaignID, m.Sent, m.Opened, m.Clicked, m.Unsubscribed, m.Bounced, m.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}
