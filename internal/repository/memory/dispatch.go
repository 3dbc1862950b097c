package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/dispatch"
	"github.com/embermail/embermail/internal/domain"
)

// DispatchStore implements the dispatch engine's persistence contract and
// the tracking handler's event sink.
type DispatchStore struct{ db *DB }

func (s *DispatchStore) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.campaigns[id]
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (s *DispatchStore) ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.Campaign
	for _, c := range s.db.campaigns {
		if c.Status == status {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *DispatchStore) TransitionCampaign(ctx context.Context, id uuid.UUID, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.campaigns[id]
	if !ok {
		return dispatch.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if c.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return dispatch.ErrInvalidTransition
	}

	now := time.Now().UTC()
	c.Status = to
	c.UpdatedAt = now
	if to == domain.CampaignSending && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if to == domain.CampaignSent || to == domain.CampaignCancelled {
		c.CompletedAt = &now
	}
	return nil
}

func (s *DispatchStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	t, ok := s.db.templates[id]
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (s *DispatchStore) GetSubscriber(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	sub, ok := s.db.subscribers[id]
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	return copySubscriber(sub), nil
}

func (s *DispatchStore) ListActiveSubscribers(ctx context.Context, tags []string) ([]domain.Subscriber, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.Subscriber
	for _, sub := range s.db.subscribers {
		if sub.Status != domain.SubscriberActive {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(sub, tags) {
			continue
		}
		out = append(out, *copySubscriber(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func hasAnyTag(s *domain.Subscriber, tags []string) bool {
	for _, t := range tags {
		if s.HasTag(t) {
			return true
		}
	}
	return false
}

func (s *DispatchStore) CreateJobs(ctx context.Context, jobs []domain.SendJob) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	created := 0
	for _, j := range jobs {
		if s.hasJobLocked(j.CampaignID, j.SubscriberID) {
			continue
		}
		cp := j
		s.db.jobs[j.ID] = &cp
		created++
	}
	return created, nil
}

func (s *DispatchStore) hasJobLocked(campaignID, subscriberID uuid.UUID) bool {
	for _, j := range s.db.jobs {
		if j.CampaignID == campaignID && j.SubscriberID == subscriberID {
			return true
		}
	}
	return false
}

func (s *DispatchStore) ClaimBatch(ctx context.Context, campaignID uuid.UUID, limit int, staleAfter time.Duration) ([]domain.SendJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.campaigns[campaignID]
	if !ok || c.Status != domain.CampaignSending {
		return nil, nil
	}

	now := time.Now().UTC()
	var eligible []*domain.SendJob
	for _, j := range s.db.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		if j.Status == domain.JobPending ||
			(j.Status == domain.JobClaimed && now.Sub(j.UpdatedAt) > staleAfter) {
			eligible = append(eligible, j)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Position < eligible[j].Position })
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]domain.SendJob, 0, len(eligible))
	for _, j := range eligible {
		j.Status = domain.JobClaimed
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *DispatchStore) MarkJobSent(ctx context.Context, jobID uuid.UUID, providerMessageID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	j, ok := s.db.jobs[jobID]
	if !ok {
		return dispatch.ErrNotFound
	}
	j.Status = domain.JobSent
	j.ProviderMessageID = providerMessageID
	j.Attempts++
	j.LastError = ""
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *DispatchStore) MarkJobFailed(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error {
	return s.setJobStatus(jobID, domain.JobFailed, attempts, errMsg)
}

func (s *DispatchStore) MarkJobBounced(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error {
	return s.setJobStatus(jobID, domain.JobBounced, attempts, errMsg)
}

func (s *DispatchStore) RequeueJob(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error {
	return s.setJobStatus(jobID, domain.JobPending, attempts, errMsg)
}

func (s *DispatchStore) setJobStatus(jobID uuid.UUID, status domain.SendJobStatus, attempts int, errMsg string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	j, ok := s.db.jobs[jobID]
	if !ok {
		return dispatch.ErrNotFound
	}
	j.Status = status
	j.Attempts = attempts
	j.LastError = errMsg
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *DispatchStore) CountJobs(ctx context.Context, campaignID uuid.UUID, statuses ...domain.SendJobStatus) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	n := 0
	for _, j := range s.db.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		for _, st := range statuses {
			if j.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *DispatchStore) RecordEvent(ctx context.Context, evt *domain.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.events = append(s.db.events, *evt)
	return nil
}

// HasEvent implements the workflow engine's event checker.
func (s *DispatchStore) HasEvent(ctx context.Context, subscriberID, campaignID uuid.UUID, typ domain.EventType) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, e := range s.db.events {
		if e.SubscriberID == subscriberID && e.CampaignID == campaignID && e.Type == typ {
			return true, nil
		}
	}
	return false, nil
}
