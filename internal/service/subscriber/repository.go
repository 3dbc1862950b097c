package subscriber

import (
	"context"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// Repository defines the data access contract for subscribers.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a subscriber by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error)

	// GetByEmail looks up by normalized email. Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)

	// List returns subscribers matching the filter plus the unpaginated
	// total, ordered by email.
	List(ctx context.Context, filter ListFilter) ([]domain.Subscriber, int, error)

	// Create inserts a subscriber. Returns ErrDuplicateEmail when the
	// normalized email is already present.
	Create(ctx context.Context, s *domain.Subscriber) error

	// Update applies the non-nil fields.
	Update(ctx context.Context, id uuid.UUID, u UpdateFields) error

	// SetStatus flips the lifecycle status.
	SetStatus(ctx context.Context, id uuid.UUID, status domain.SubscriberStatus) error

	// Delete removes a subscriber.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListFilter controls pagination and filtering for subscriber lists.
type ListFilter struct {
	Status string
	Tag    string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a subscriber update.
// Nil fields are not applied.
type UpdateFields struct {
	Name         *string         `json:"name"`
	Tags         *[]string       `json:"tags"`
	CustomFields *map[string]any `json:"custom_fields"`
}
