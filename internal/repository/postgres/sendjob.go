package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/embermail/embermail/internal/dispatch"
	"github.com/embermail/embermail/internal/domain"
)

// DispatchStore is the Postgres persistence layer for the dispatch engine.
// Claims use FOR UPDATE SKIP LOCKED so concurrent workers never hand the
// same job to two senders.
type DispatchStore struct{ db *sql.DB }

// NewDispatchStore creates a Postgres-backed dispatch store.
func NewDispatchStore(db *sql.DB) *DispatchStore { return &DispatchStore{db: db} }

func (s *DispatchStore) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *DispatchStore) ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
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

// TransitionCampaign performs the status change as a single guarded UPDATE.
// Entering sending stamps started_at once; reaching sent stamps completed_at.
func (s *DispatchStore) TransitionCampaign(ctx context.Context, id uuid.UUID, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2,
		    started_at = CASE WHEN $2 = 'sending' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('sent', 'cancelled') THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), pq.Array(allowed))
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("transition campaign: %w", err)
		}
		if !exists {
			return dispatch.ErrNotFound
		}
		return dispatch.ErrInvalidTransition
	}
	return nil
}

func (s *DispatchStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	t := &domain.Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subject, html, text, version, created_at, updated_at
		FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Subject, &t.HTML, &t.Text, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *DispatchStore) GetSubscriber(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	sub, err := scanSubscriber(s.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

// ListActiveSubscribers orders by email so fan-out positions are stable
// across runs.
func (s *DispatchStore) ListActiveSubscribers(ctx context.Context, tags []string) ([]domain.Subscriber, error) {
	q := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE status = 'active'`
	args := []any{}
	if len(tags) > 0 {
		q += ` AND tags && $1`
		args = append(args, pq.Array(tags))
	}
	q += ` ORDER BY email ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// CreateJobs inserts in one multi-row statement. The unique constraint on
// (campaign_id, subscriber_id) plus ON CONFLICT DO NOTHING makes re-running
// a fan-out safe: existing jobs are left untouched and not counted.
func (s *DispatchStore) CreateJobs(ctx context.Context, jobs []domain.SendJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	q := `INSERT INTO send_jobs
		(id, campaign_id, subscriber_id, status, attempts, last_error, provider_message_id, position, created_at, updated_at)
		VALUES `
	args := make([]any, 0, len(jobs)*10)
	for i, j := range jobs {
		if i > 0 {
			q += ", "
		}
		base := i * 10
		q += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args, j.ID, j.CampaignID, j.SubscriberID, j.Status,
			j.Attempts, j.LastError, j.ProviderMessageID, j.Position, j.CreatedAt, j.UpdatedAt)
	}
	q += ` ON CONFLICT (campaign_id, subscriber_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("create jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const jobColumns = `id, campaign_id, subscriber_id, status, attempts, last_error,
       provider_message_id, position, created_at, updated_at`

// ClaimBatch claims the next batch in fan-out position order. Claimed rows
// whose updated_at is older than staleAfter belonged to a crashed worker
// and are reclaimed. The campaign status check inside the locking subquery
// means pausing a campaign stops claims immediately.
func (s *DispatchStore) ClaimBatch(ctx context.Context, campaignID uuid.UUID, limit int, staleAfter time.Duration) ([]domain.SendJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE send_jobs
		SET status = 'claimed', updated_at = NOW()
		WHERE id IN (
			SELECT j.id FROM send_jobs j
			JOIN campaigns c ON c.id = j.campaign_id
			WHERE j.campaign_id = $1
			  AND c.status = 'sending'
			  AND (j.status = 'pending'
			       OR (j.status = 'claimed' AND j.updated_at < NOW() - $2::interval))
			ORDER BY j.position ASC
			LIMIT $3
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING `+jobColumns,
		campaignID, fmt.Sprintf("%d seconds", int(staleAfter.Seconds())), limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []domain.SendJob
	for rows.Next() {
		var j domain.SendJob
		if err := rows.Scan(&j.ID, &j.CampaignID, &j.SubscriberID, &j.Status, &j.Attempts,
			&j.LastError, &j.ProviderMessageID, &j.Position, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *DispatchStore) MarkJobSent(ctx context.Context, jobID uuid.UUID, providerMessageID string) error {
	return s.markJob(ctx, jobID, `
		UPDATE send_jobs
		SET status = 'sent', provider_message_id = $2, attempts = attempts + 1,
		    last_error = '', updated_at = NOW()
		WHERE id = $1
	`, providerMessageID)
}

func (s *DispatchStore) MarkJobFailed(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error {
	return s.markJob(ctx, jobID, `
		UPDATE send_jobs
		SET status = 'failed', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, attempts, errMsg)
}

func (s *DispatchStore) MarkJobBounced(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error {
	return s.markJob(ctx, jobID, `
		UPDATE send_jobs
		SET status = 'bounced', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, attempts, errMsg)
}

func (s *DispatchStore) RequeueJob(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error {
	return s.markJob(ctx, jobID, `
		UPDATE send_jobs
		SET status = 'pending', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, attempts, errMsg)
}

func (s *DispatchStore) markJob(ctx context.Context, jobID uuid.UUID, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, append([]any{jobID}, args...)...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return dispatch.ErrNotFound
	}
	return nil
}

func (s *DispatchStore) CountJobs(ctx context.Context, campaignID uuid.UUID, statuses ...domain.SendJobStatus) (int, error) {
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

func (s *DispatchStore) RecordEvent(ctx context.Context, evt *domain.Event) error {
	payload := []byte("{}")
	if len(evt.Payload) > 0 {
		b, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, subscriber_id, campaign_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.ID, evt.SubscriberID, evt.CampaignID, evt.Type, payload, evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
