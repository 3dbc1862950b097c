package suppression

import (
	"context"

	"github.com/embermail/embermail/internal/domain"
)

// Repository defines the data access contract for suppression entries.
// Implementations must be safe for concurrent use. Emails passed in are
// already normalized by the service.
type Repository interface {
	// IsSuppressed reports whether the email is on the stop list.
	IsSuppressed(ctx context.Context, email string) (bool, error)

	// Get returns the entry for an email. Returns ErrNotFound if absent.
	Get(ctx context.Context, email string) (*domain.Suppression, error)

	// Add inserts an entry. If the email is already listed, the existing
	// entry is preserved and returned with inserted=false.
	Add(ctx context.Context, entry *domain.Suppression) (existing *domain.Suppression, inserted bool, err error)

	// Remove deletes an entry. Returns ErrNotFound if absent.
	Remove(ctx context.Context, email string) error

	// List returns entries ordered by created_at DESC with the total count.
	List(ctx context.Context, limit, offset int) ([]domain.Suppression, int, error)
}
