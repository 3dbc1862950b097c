package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository plus the scheduler's due-
// campaign source.
type CampaignRepo struct{ db *DB }

func (r *CampaignRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (r *CampaignRepo) List(ctx context.Context, filter campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var all []domain.Campaign
	for _, c := range r.db.campaigns {
		if filter.Status != "" && string(c.Status) != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(filter.Search)) {
			continue
		}
		all = append(all, *copyCampaign(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	return paginate(all, filter.Limit, filter.Offset), total, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, id uuid.UUID, u campaign.UpdateFields) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.TemplateID != nil {
		c.TemplateID = *u.TemplateID
	}
	if u.FromName != nil {
		c.FromName = *u.FromName
	}
	if u.FromEmail != nil {
		c.FromEmail = *u.FromEmail
	}
	if u.SegmentTags != nil {
		c.SegmentTags = append([]string(nil), (*u.SegmentTags)...)
	}
	if u.SendRate != nil {
		c.SendRate = *u.SendRate
	}
	if u.ABVariants != nil {
		c.ABVariants = append([]domain.ABVariant(nil), (*u.ABVariants)...)
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(r.db.campaigns, id)
	for jobID, j := range r.db.jobs {
		if j.CampaignID == id {
			delete(r.db.jobs, jobID)
		}
	}
	return nil
}

func (r *CampaignRepo) Schedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return campaign.ErrInvalidTransition
	}
	c.Status = domain.CampaignScheduled
	c.ScheduledAt = &at
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CampaignRepo) GetMetrics(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignMetrics, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	m, ok := r.db.metrics[campaignID]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	out := *m
	return &out, nil
}

// ListDueCampaigns returns scheduled campaigns whose send time has passed.
func (r *CampaignRepo) ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var due []domain.Campaign
	for _, c := range r.db.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, *copyCampaign(c))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(*due[j].ScheduledAt) })
	return due, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
