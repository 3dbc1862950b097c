package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// Store defines the persistence contract for the dispatch engine.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetCampaign returns a campaign. Returns ErrNotFound if absent.
	GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)

	// ListCampaignsByStatus returns campaigns in the given status.
	ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)

	// TransitionCampaign moves a campaign from one of the allowed statuses
	// to the target status in a single guarded write. Returns
	// ErrInvalidTransition when the campaign is not in an allowed status.
	TransitionCampaign(ctx context.Context, id uuid.UUID, from []domain.CampaignStatus, to domain.CampaignStatus) error

	// GetTemplate returns a template. Returns ErrNotFound if absent.
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)

	// GetSubscriber returns a subscriber. Returns ErrNotFound if absent.
	GetSubscriber(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error)

	// ListActiveSubscribers returns active subscribers matching the segment
	// tags (all subscribers when tags is empty), in stable order.
	ListActiveSubscribers(ctx context.Context, tags []string) ([]domain.Subscriber, error)

	// CreateJobs inserts pending jobs, silently skipping any (campaign,
	// subscriber) pair that already has a job. Returns the number inserted.
	CreateJobs(ctx context.Context, jobs []domain.SendJob) (int, error)

	// ClaimBatch atomically moves up to limit pending jobs of the campaign
	// to claimed, in fan-out position order, and returns them. Claimed jobs
	// older than staleAfter are eligible for reclaiming (crashed worker).
	ClaimBatch(ctx context.Context, campaignID uuid.UUID, limit int, staleAfter time.Duration) ([]domain.SendJob, error)

	// MarkJobSent records a successful delivery.
	MarkJobSent(ctx context.Context, jobID uuid.UUID, providerMessageID string) error

	// MarkJobFailed records a permanent per-job failure.
	MarkJobFailed(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error

	// MarkJobBounced records a hard bounce.
	MarkJobBounced(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error

	// RequeueJob returns a claimed job to pending for a later retry,
	// recording the attempt and its error.
	RequeueJob(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) error

	// CountJobs returns how many jobs of the campaign are in any of the
	// given statuses.
	CountJobs(ctx context.Context, campaignID uuid.UUID, statuses ...domain.SendJobStatus) (int, error)

	// RecordEvent appends an engagement event.
	RecordEvent(ctx context.Context, evt *domain.Event) error
}
