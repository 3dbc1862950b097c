package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// Dispatcher is the slice of the dispatch engine the service needs for
// lifecycle operations.
type Dispatcher interface {
	Start(ctx context.Context, campaignID uuid.UUID) (int, error)
	Pause(ctx context.Context, campaignID uuid.UUID) error
	Resume(ctx context.Context, campaignID uuid.UUID) error
	Cancel(ctx context.Context, campaignID uuid.UUID) error
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
}

// NewService creates a campaign service backed by the given repository and
// dispatch engine.
func NewService(repo Repository, dispatcher Dispatcher) *Service {
	return &Service{repo: repo, dispatcher: dispatcher}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if input.TemplateID == uuid.Nil {
		return nil, ErrMissingTemplate
	}
	if strings.TrimSpace(input.FromEmail) == "" {
		return nil, fmt.Errorf("from_email is required")
	}

	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:          uuid.New(),
		Name:        input.Name,
		TemplateID:  input.TemplateID,
		FromName:    input.FromName,
		FromEmail:   domain.NormalizeEmail(input.FromEmail),
		SegmentTags: input.SegmentTags,
		SendRate:    input.SendRate,
		ABVariants:  input.ABVariants,
		Status:      domain.CampaignDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.SendRate <= 0 {
		c.SendRate = domain.DefaultSendRate
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update modifies mutable fields of a draft campaign.
func (s *Service) Update(ctx context.Context, id uuid.UUID, u UpdateFields) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft {
		return ErrNotEditable
	}
	return s.repo.Update(ctx, id, u)
}

// Delete removes a campaign. Only drafts and cancelled campaigns can be
// deleted; everything else has send history worth keeping.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignCancelled {
		return ErrInvalidTransition
	}
	return s.repo.Delete(ctx, id)
}

// Schedule queues a draft campaign for a future send time.
func (s *Service) Schedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	if at.Before(time.Now()) {
		return fmt.Errorf("scheduled time %s is in the past", at.Format(time.RFC3339))
	}
	return s.repo.Schedule(ctx, id, at.UTC())
}

// SendNow starts the campaign immediately. Returns the number of send jobs
// created by the fan-out.
func (s *Service) SendNow(ctx context.Context, id uuid.UUID) (int, error) {
	return s.dispatcher.Start(ctx, id)
}

// Pause halts a sending campaign.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.dispatcher.Pause(ctx, id)
}

// Resume continues a paused campaign.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) error {
	return s.dispatcher.Resume(ctx, id)
}

// Cancel terminally stops a campaign.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.dispatcher.Cancel(ctx, id)
}

// Metrics returns the latest computed aggregate for a campaign.
func (s *Service) Metrics(ctx context.Context, id uuid.UUID) (*domain.CampaignMetrics, error) {
	return s.repo.GetMetrics(ctx, id)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string             `json:"name"`
	TemplateID  uuid.UUID          `json:"template_id"`
	FromName    string             `json:"from_name"`
	FromEmail   string             `json:"from_email"`
	SegmentTags []string           `json:"segment_tags"`
	SendRate    float64            `json:"send_rate"`
	ABVariants  []domain.ABVariant `json:"ab_variants"`
}
