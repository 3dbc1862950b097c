package subscriber

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/suppression"
)

// Service implements subscriber business logic.
type Service struct {
	repo Repository
	gate *suppression.Gate
}

// NewService creates a subscriber service. The gate receives hard-bounced
// addresses so they stay blocked even if the subscriber row is later
// deleted and re-imported.
func NewService(repo Repository, gate *suppression.Gate) *Service {
	return &Service{repo: repo, gate: gate}
}

// Get returns a subscriber by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail returns a subscriber by email, normalizing first.
func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	return s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
}

// List returns subscribers matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Subscriber, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates, normalizes, and persists a new active subscriber.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Subscriber, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	now := time.Now().UTC()
	sub := &domain.Subscriber{
		ID:           uuid.New(),
		Email:        email,
		Name:         strings.TrimSpace(input.Name),
		Status:       domain.SubscriberActive,
		Tags:         input.Tags,
		CustomFields: input.CustomFields,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Update applies profile changes.
func (s *Service) Update(ctx context.Context, id uuid.UUID, u UpdateFields) error {
	return s.repo.Update(ctx, id, u)
}

// Unsubscribe flips the subscriber out of all future sends.
func (s *Service) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetStatus(ctx, id, domain.SubscriberUnsubscribed)
}

// MarkBounced records a hard bounce: the subscriber status flips and the
// address lands on the suppression list.
func (s *Service) MarkBounced(ctx context.Context, id uuid.UUID) error {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, id, domain.SubscriberBounced); err != nil {
		return err
	}
	_, err = s.gate.Add(ctx, sub.Email, domain.SuppressReasonBouncePermanent)
	return err
}

// Delete removes a subscriber row. Suppression entries survive deletion.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// CreateInput holds the fields for creating a subscriber.
type CreateInput struct {
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Tags         []string       `json:"tags"`
	CustomFields map[string]any `json:"custom_fields"`
}
