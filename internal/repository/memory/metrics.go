package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// MetricsStore implements the metrics aggregator's persistence contract.
type MetricsStore struct{ db *DB }

func (s *MetricsStore) ListCampaignIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var campaigns []*domain.Campaign
	for _, c := range s.db.campaigns {
		if c.Status != domain.CampaignDraft {
			campaigns = append(campaigns, c)
		}
	}
	sort.Slice(campaigns, func(i, j int) bool { return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt) })

	out := make([]uuid.UUID, len(campaigns))
	for i, c := range campaigns {
		out[i] = c.ID
	}
	return out, nil
}

func (s *MetricsStore) CountJobs(ctx context.Context, campaignID uuid.UUID, statuses ...domain.SendJobStatus) (int, error) {
	return s.db.Dispatch().CountJobs(ctx, campaignID, statuses...)
}

func (s *MetricsStore) CountEventSubscribers(ctx context.Context, campaignID uuid.UUID, typ domain.EventType) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	for _, e := range s.db.events {
		if e.CampaignID == campaignID && e.Type == typ {
			seen[e.SubscriberID] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *MetricsStore) UpsertMetrics(ctx context.Context, m *domain.CampaignMetrics) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *m
	s.db.metrics[m.CampaignID] = &cp
	return nil
}
