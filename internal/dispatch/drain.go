package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/render"
)

// maxBatchRetries bounds retries of a whole batch after infrastructure
// failures (storage outage mid-drain). Per-job failures never trigger it.
const maxBatchRetries = 3

// errMissingRefs marks the non-retryable hard failure for a job whose
// subscriber or template no longer exists.
const errMissingRefs = "missing subscriber, campaign, or template"

// DrainBatch processes a claimed batch sequentially in fan-out order,
// pacing sends at the campaign's rate. Per-job failures are recorded on the
// job and never stop the batch; infrastructure errors retry the unprocessed
// remainder with backoff up to maxBatchRetries.
func (e *Engine) DrainBatch(ctx context.Context, campaign *domain.Campaign, jobs []domain.SendJob) error {
	interval := time.Duration(float64(time.Second) / campaign.EffectiveSendRate())

	remaining := jobs
	var err error
	for attempt := 1; ; attempt++ {
		remaining, err = e.drainOnce(ctx, campaign, remaining, interval)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= maxBatchRetries {
			return fmt.Errorf("drain campaign %s (attempt %d, %d jobs left): %w",
				campaign.ID, attempt, len(remaining), err)
		}
		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		e.log.Warn("batch drain failed, retrying",
			"campaign_id", campaign.ID, "attempt", attempt, "backoff", backoff, "error", err)
		if serr := e.sleep(ctx, backoff); serr != nil {
			return err
		}
	}
}

// drainOnce processes jobs until done or an infrastructure error, returning
// the unprocessed remainder alongside the error.
func (e *Engine) drainOnce(ctx context.Context, campaign *domain.Campaign, jobs []domain.SendJob, interval time.Duration) ([]domain.SendJob, error) {
	for i := range jobs {
		if ctx.Err() != nil {
			return jobs[i:], ctx.Err()
		}
		if err := e.processJob(ctx, campaign, &jobs[i], interval); err != nil {
			// a job whose terminal status was already written must not be
			// reprocessed by the batch retry, even if a later side effect
			// (suppression, event) failed
			rest := jobs[i:]
			if jobs[i].Delivered() {
				rest = jobs[i+1:]
			}
			return rest, err
		}
	}
	return nil, nil
}

// processJob drains one claimed job to a terminal or requeued state. The
// returned error is infrastructure-level only.
func (e *Engine) processJob(ctx context.Context, campaign *domain.Campaign, job *domain.SendJob, interval time.Duration) error {
	sub, err := e.store.GetSubscriber(ctx, job.SubscriberID)
	if errors.Is(err, ErrNotFound) {
		return e.store.MarkJobFailed(ctx, job.ID, job.Attempts+1, errMissingRefs)
	}
	if err != nil {
		return fmt.Errorf("load subscriber: %w", err)
	}

	tpl, err := e.store.GetTemplate(ctx, campaign.TemplateID)
	if errors.Is(err, ErrNotFound) {
		return e.store.MarkJobFailed(ctx, job.ID, job.Attempts+1, errMissingRefs)
	}
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	msg := e.buildMessage(campaign, tpl, sub)

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout())
	result, err := e.transport.Send(sendCtx, msg)
	cancel()
	if err != nil {
		// transport implementations report delivery failures in the result;
		// an error here is unexpected plumbing breakage
		result = &domain.SendResult{Success: false, Error: err}
	}

	if err := e.recordOutcome(ctx, campaign, job, sub, result); err != nil {
		return err
	}

	// fixed inter-send pacing: no bursts, no catch-up
	if err := e.sleep(ctx, interval); err != nil {
		return err
	}
	return nil
}

// recordOutcome writes the job's new status, mirroring it on the in-memory
// job so the drain loop can tell terminal jobs from interrupted ones.
func (e *Engine) recordOutcome(ctx context.Context, campaign *domain.Campaign, job *domain.SendJob, sub *domain.Subscriber, result *domain.SendResult) error {
	if result.Success {
		if err := e.store.MarkJobSent(ctx, job.ID, result.MessageID); err != nil {
			return err
		}
		job.Status = domain.JobSent
		return nil
	}

	errMsg := "send failed"
	if result.Error != nil {
		errMsg = result.Error.Error()
	}
	attempts := job.Attempts + 1

	if result.PermanentFailure {
		if err := e.store.MarkJobBounced(ctx, job.ID, attempts, errMsg); err != nil {
			return err
		}
		job.Status = domain.JobBounced
		// the one durable cross-job side effect: hard bounces feed the
		// suppression list and the event stream
		if _, err := e.gate.Add(ctx, sub.Email, domain.SuppressReasonBouncePermanent); err != nil {
			return fmt.Errorf("suppress bounced address: %w", err)
		}
		return e.store.RecordEvent(ctx, &domain.Event{
			ID:           uuid.New(),
			SubscriberID: sub.ID,
			CampaignID:   campaign.ID,
			Type:         domain.EventBounce,
			Payload:      map[string]any{"error": errMsg},
			CreatedAt:    time.Now().UTC(),
		})
	}

	if attempts >= domain.MaxSendAttempts {
		e.log.Warn("job permanently failed",
			"job_id", job.ID, "campaign_id", campaign.ID, "attempts", attempts, "error", errMsg)
		if err := e.store.MarkJobFailed(ctx, job.ID, attempts, errMsg); err != nil {
			return err
		}
		job.Status = domain.JobFailed
		return nil
	}
	if err := e.store.RequeueJob(ctx, job.ID, attempts, errMsg); err != nil {
		return err
	}
	job.Status = domain.JobPending
	return nil
}

// buildMessage renders subject and bodies for one subscriber and stamps the
// tracking pixel, redirect links, and unsubscribe headers. Degraded renders
// are logged and shipped as-is so one bad template never blocks a campaign.
func (e *Engine) buildMessage(campaign *domain.Campaign, tpl *domain.Template, sub *domain.Subscriber) *domain.EmailMessage {
	ctx := render.SubscriberContext(sub)
	cachePrefix := fmt.Sprintf("tpl:%s:v%d", tpl.ID, tpl.Version)

	// the cache key must carry the variant: Render ignores the template
	// string on a hit, so a shared key would pin every subscriber to the
	// first variant parsed
	subjectTpl, variant := e.pickSubject(campaign, tpl, sub)
	subjectKey := cachePrefix + ":subject"
	if variant >= 0 {
		subjectKey = fmt.Sprintf("%s:subject:ab%d", cachePrefix, variant)
	}
	subject := e.renderPart(subjectKey, subjectTpl, ctx, campaign.ID)
	html := e.renderPart(cachePrefix+":html", tpl.HTML, ctx, campaign.ID)
	text := e.renderPart(cachePrefix+":text", tpl.Text, ctx, campaign.ID)

	msg := &domain.EmailMessage{
		To:        sub.Email,
		ToName:    sub.DisplayName(),
		FromName:  campaign.FromName,
		FromEmail: campaign.FromEmail,
		Subject:   subject,
		HTML:      html,
		Text:      text,
		Headers:   map[string]string{},
	}
	e.injectTracking(msg, campaign.ID, sub.ID)
	return msg
}

func (e *Engine) renderPart(cacheKey, templateStr string, ctx map[string]interface{}, campaignID uuid.UUID) string {
	if templateStr == "" {
		return ""
	}
	res := e.renderer.Render(cacheKey, templateStr, ctx)
	if res.Degraded {
		e.log.Warn("degraded render", "campaign_id", campaignID, "cache_key", cacheKey, "reason", res.Reason)
	}
	return res.Output
}

// SendSingle is the workflow engine's entry into the send path: it renders
// and delivers one template to one subscriber outside any claimed batch,
// with the same tracking injection, and returns the transport outcome.
// campaignID attributes the tracking events and may belong to the flow's
// reference campaign.
func (e *Engine) SendSingle(ctx context.Context, campaignID, templateID, subscriberID uuid.UUID) (*domain.SendResult, error) {
	sub, err := e.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	tpl, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	suppressed, err := e.gate.IsSuppressed(ctx, sub.Email)
	if err != nil {
		return nil, fmt.Errorf("suppression check: %w", err)
	}
	if suppressed || sub.Status != domain.SubscriberActive {
		return &domain.SendResult{Success: false, Error: fmt.Errorf("subscriber not sendable")}, nil
	}

	rctx := render.SubscriberContext(sub)
	cachePrefix := fmt.Sprintf("tpl:%s:v%d", tpl.ID, tpl.Version)
	msg := &domain.EmailMessage{
		To:        sub.Email,
		ToName:    sub.DisplayName(),
		FromName:  e.cfg.DefaultFromName,
		FromEmail: e.cfg.DefaultFromEmail,
		Subject:   e.renderPart(cachePrefix+":subject", tpl.Subject, rctx, campaignID),
		HTML:      e.renderPart(cachePrefix+":html", tpl.HTML, rctx, campaignID),
		Text:      e.renderPart(cachePrefix+":text", tpl.Text, rctx, campaignID),
		Headers:   map[string]string{},
	}
	e.injectTracking(msg, campaignID, sub.ID)

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout())
	defer cancel()
	result, err := e.transport.Send(sendCtx, msg)
	if err != nil {
		return &domain.SendResult{Success: false, Error: err}, nil
	}
	return result, nil
}
