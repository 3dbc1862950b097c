package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
)

// Gate implements the suppression stop list. It is safe for concurrent use
// if the underlying repository is.
type Gate struct {
	repo Repository
	log  *logger.Logger
}

// NewGate creates a suppression gate backed by the given repository.
func NewGate(repo Repository) *Gate {
	return &Gate{repo: repo, log: logger.Component("suppression")}
}

// IsSuppressed checks whether an email address is blocked from sending.
func (g *Gate) IsSuppressed(ctx context.Context, email string) (bool, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return false, ErrEmptyEmail
	}
	return g.repo.IsSuppressed(ctx, email)
}

// Add puts an email on the stop list. Idempotent: adding an already-listed
// email is a no-op that returns the existing entry.
func (g *Gate) Add(ctx context.Context, email, reason string) (*domain.Suppression, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmptyEmail
	}

	entry := &domain.Suppression{
		Email:     email,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	existing, inserted, err := g.repo.Add(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("add suppression: %w", err)
	}
	if !inserted {
		return existing, nil
	}
	g.log.Info("email suppressed", "email", email, "reason", reason)
	return entry, nil
}

// Remove deletes an email from the stop list.
func (g *Gate) Remove(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrEmptyEmail
	}
	return g.repo.Remove(ctx, email)
}

// BulkAdd suppresses a set of emails with a shared reason, returning how
// many entries were newly inserted. No ordering guarantee; entries already
// present are skipped silently.
func (g *Gate) BulkAdd(ctx context.Context, emails []string, reason string) (int, error) {
	added := 0
	for _, email := range emails {
		email = domain.NormalizeEmail(email)
		if email == "" {
			continue
		}
		_, inserted, err := g.repo.Add(ctx, &domain.Suppression{
			Email:     email,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return added, fmt.Errorf("bulk add %s: %w", logger.RedactEmail(email), err)
		}
		if inserted {
			added++
		}
	}
	g.log.Info("bulk suppression complete", "requested", len(emails), "added", added, "reason", reason)
	return added, nil
}

// List returns suppression entries with the total count.
func (g *Gate) List(ctx context.Context, limit, offset int) ([]domain.Suppression, int, error) {
	return g.repo.List(ctx, limit, offset)
}
