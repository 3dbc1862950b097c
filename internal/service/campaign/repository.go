package campaign

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by
	// created_at DESC, plus the unpaginated total.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign.
	Create(ctx context.Context, c *domain.Campaign) error

	// Update applies the non-nil fields. The caller enforces that only
	// draft campaigns are edited.
	Update(ctx context.Context, id uuid.UUID, u UpdateFields) error

	// Delete removes a campaign and its jobs.
	Delete(ctx context.Context, id uuid.UUID) error

	// Schedule sets the send time and moves draft to scheduled. Returns
	// ErrInvalidTransition when the campaign is not a draft.
	Schedule(ctx context.Context, id uuid.UUID, at time.Time) error

	// GetMetrics returns the latest computed aggregate, or ErrNotFound when
	// no aggregation has run yet.
	GetMetrics(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignMetrics, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name        *string             `json:"name"`
	TemplateID  *uuid.UUID          `json:"template_id"`
	FromName    *string             `json:"from_name"`
	FromEmail   *string             `json:"from_email"`
	SegmentTags *[]string           `json:"segment_tags"`
	SendRate    *float64            `json:"send_rate"`
	ABVariants  *[]domain.ABVariant `json:"ab_variants"`
}
