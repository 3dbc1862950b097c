package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
	"github.com/embermail/embermail/internal/render"
	"github.com/embermail/embermail/internal/suppression"
	"github.com/embermail/embermail/internal/token"
	"github.com/embermail/embermail/internal/transport"
)

// Engine coordinates campaign transitions, fan-out, and batch draining.
// All public methods are safe for concurrent use.
type Engine struct {
	store     Store
	gate      *suppression.Gate
	renderer  *render.Renderer
	codec     *token.Codec
	transport transport.Transport
	cfg       config.DispatchConfig
	tracking  config.TrackingConfig
	log       *logger.Logger

	// sleep is swapped in tests that exercise retry backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires the dispatch engine.
func NewEngine(store Store, gate *suppression.Gate, renderer *render.Renderer, codec *token.Codec, tx transport.Transport, cfg config.DispatchConfig, tracking config.TrackingConfig) *Engine {
	return &Engine{
		store:     store,
		gate:      gate,
		renderer:  renderer,
		codec:     codec,
		transport: tx,
		cfg:       cfg,
		tracking:  tracking,
		log:       logger.Component("dispatch"),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start transitions a draft or scheduled campaign into sending and performs
// the one-time fan-out. Returns the number of jobs created. The fan-out is
// never re-run: resumes go through Resume, and a second Start fails on the
// status guard.
func (e *Engine) Start(ctx context.Context, campaignID uuid.UUID) (int, error) {
	if err := e.store.TransitionCampaign(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled},
		domain.CampaignSending); err != nil {
		return 0, err
	}

	created, err := e.fanOut(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("fan-out campaign %s: %w", campaignID, err)
	}
	e.log.Info("campaign started", "campaign_id", campaignID, "jobs_created", created)
	return created, nil
}

// fanOut creates one pending job per active, non-suppressed subscriber in
// the campaign's segment. Subscribers that already have a job for this
// campaign are skipped by the store's conflict handling.
func (e *Engine) fanOut(ctx context.Context, campaignID uuid.UUID) (int, error) {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	subs, err := e.store.ListActiveSubscribers(ctx, campaign.SegmentTags)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}

	now := time.Now().UTC()
	jobs := make([]domain.SendJob, 0, len(subs))
	position := 0
	for i := range subs {
		sub := &subs[i]
		suppressed, err := e.gate.IsSuppressed(ctx, sub.Email)
		if err != nil {
			return 0, fmt.Errorf("suppression check: %w", err)
		}
		if suppressed {
			continue
		}
		jobs = append(jobs, domain.SendJob{
			ID:           uuid.New(),
			CampaignID:   campaignID,
			SubscriberID: sub.ID,
			Status:       domain.JobPending,
			Position:     position,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		position++
	}

	return e.store.CreateJobs(ctx, jobs)
}

// Pause halts draining of a sending campaign. Pending jobs stay pending; a
// batch already claimed by a worker finishes normally.
func (e *Engine) Pause(ctx context.Context, campaignID uuid.UUID) error {
	err := e.store.TransitionCampaign(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignSending}, domain.CampaignPaused)
	if err == nil {
		e.log.Info("campaign paused", "campaign_id", campaignID)
	}
	return err
}

// Resume puts a paused campaign back into sending without re-running fan-out.
func (e *Engine) Resume(ctx context.Context, campaignID uuid.UUID) error {
	err := e.store.TransitionCampaign(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignPaused}, domain.CampaignSending)
	if err == nil {
		e.log.Info("campaign resumed", "campaign_id", campaignID)
	}
	return err
}

// Cancel terminally stops a campaign. Remaining pending jobs are left
// pending and never drained: the claim query only touches campaigns in
// sending status, so abandoned jobs are inert.
func (e *Engine) Cancel(ctx context.Context, campaignID uuid.UUID) error {
	err := e.store.TransitionCampaign(ctx, campaignID,
		[]domain.CampaignStatus{
			domain.CampaignDraft, domain.CampaignScheduled,
			domain.CampaignSending, domain.CampaignPaused,
		}, domain.CampaignCancelled)
	if err == nil {
		e.log.Info("campaign cancelled", "campaign_id", campaignID)
	}
	return err
}

// IsComplete reports the derived "sent" condition: a sending campaign with
// no pending or claimed jobs remaining.
func (e *Engine) IsComplete(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if campaign.Status != domain.CampaignSending {
		return false, nil
	}
	remaining, err := e.store.CountJobs(ctx, campaignID, domain.JobPending, domain.JobClaimed)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// CompleteIfDrained writes the terminal sent status when the derived
// completion condition holds. Safe to call repeatedly; a campaign that
// still has work, or was paused meanwhile, is left untouched.
func (e *Engine) CompleteIfDrained(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	done, err := e.IsComplete(ctx, campaignID)
	if err != nil || !done {
		return false, err
	}
	err = e.store.TransitionCampaign(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignSending}, domain.CampaignSent)
	if errors.Is(err, ErrInvalidTransition) {
		// lost the race with a pause or cancel; the observed condition no
		// longer holds
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.log.Info("campaign complete", "campaign_id", campaignID)
	return true, nil
}

// ClaimBatch atomically claims up to the configured batch size of pending
// jobs for the campaign.
func (e *Engine) ClaimBatch(ctx context.Context, campaignID uuid.UUID) ([]domain.SendJob, error) {
	return e.store.ClaimBatch(ctx, campaignID, e.cfg.BatchSize, e.cfg.ClaimTTL())
}
