package template

import (
	"context"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// Repository defines the data access contract for templates.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a template by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Template, error)

	// List returns templates ordered by name with the unpaginated total.
	List(ctx context.Context, limit, offset int) ([]domain.Template, int, error)

	// Create inserts a template at version 1.
	Create(ctx context.Context, t *domain.Template) error

	// Update rewrites the content and bumps the version, writing the new
	// version back into t.
	Update(ctx context.Context, t *domain.Template) error

	// Delete removes a template. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error
}
