package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
)

// Store provides the source facts and the aggregate sink.
type Store interface {
	// ListCampaignIDs returns every campaign that has left draft.
	ListCampaignIDs(ctx context.Context) ([]uuid.UUID, error)
	CountJobs(ctx context.Context, campaignID uuid.UUID, statuses ...domain.SendJobStatus) (int, error)
	// CountEventSubscribers counts distinct subscribers with at least one
	// event of the given type for the campaign.
	CountEventSubscribers(ctx context.Context, campaignID uuid.UUID, typ domain.EventType) (int, error)
	UpsertMetrics(ctx context.Context, m *domain.CampaignMetrics) error
}

// Aggregator recomputes campaign metrics.
type Aggregator struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{
		store: store,
		log:   logger.Component("metrics"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Compute recomputes and upserts the aggregate for one campaign. Sent counts
// every job that reached a terminal state, delivered or not; opened, clicked,
// and unsubscribed count distinct subscribers, so repeat opens of the same
// message do not inflate the numbers.
func (a *Aggregator) Compute(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignMetrics, error) {
	sent, err := a.store.CountJobs(ctx, campaignID, domain.JobSent, domain.JobFailed, domain.JobBounced)
	if err != nil {
		return nil, fmt.Errorf("count sent: %w", err)
	}
	bounced, err := a.store.CountJobs(ctx, campaignID, domain.JobBounced)
	if err != nil {
		return nil, fmt.Errorf("count bounced: %w", err)
	}

	m := &domain.CampaignMetrics{
		CampaignID: campaignID,
		Sent:       sent,
		Bounced:    bounced,
		ComputedAt: a.now(),
	}

	counts := []struct {
		typ  domain.EventType
		dest *int
	}{
		{domain.EventOpen, &m.Opened},
		{domain.EventClick, &m.Clicked},
		{domain.EventUnsubscribe, &m.Unsubscribed},
	}
	for _, c := range counts {
		n, err := a.store.CountEventSubscribers(ctx, campaignID, c.typ)
		if err != nil {
			return nil, fmt.Errorf("count %s events: %w", c.typ, err)
		}
		*c.dest = n
	}

	if err := a.store.UpsertMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert metrics: %w", err)
	}
	return m, nil
}

// ComputeAll recomputes every campaign, continuing past per-campaign
// failures, and returns the number successfully recomputed.
func (a *Aggregator) ComputeAll(ctx context.Context) (int, error) {
	ids, err := a.store.ListCampaignIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list campaigns: %w", err)
	}

	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := a.Compute(ctx, id); err != nil {
			a.log.Error("metrics compute failed", "campaign_id", id, "error", err)
			continue
		}
		done++
	}
	return done, nil
}
