package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/service/campaign"
	"github.com/embermail/embermail/internal/service/template"
)

func seedCampaign(t *testing.T, db *DB, status domain.CampaignStatus) *domain.Campaign {
	t.Helper()
	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:         uuid.New(),
		Name:       "March Sale",
		TemplateID: uuid.New(),
		FromEmail:  "news@embermail.dev",
		SendRate:   10,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Campaigns().Create(context.Background(), c); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return c
}

func TestClaimBatchStopsWhenNotSending(t *testing.T) {
	ctx := context.Background()
	db := New()
	c := seedCampaign(t, db, domain.CampaignSending)

	_, err := db.Dispatch().CreateJobs(ctx, []domain.SendJob{
		{ID: uuid.New(), CampaignID: c.ID, SubscriberID: uuid.New(), Status: domain.JobPending},
	})
	if err != nil {
		t.Fatalf("CreateJobs() error: %v", err)
	}

	if err := db.Dispatch().TransitionCampaign(ctx, c.ID,
		[]domain.CampaignStatus{domain.CampaignSending}, domain.CampaignPaused); err != nil {
		t.Fatalf("TransitionCampaign() error: %v", err)
	}

	jobs, err := db.Dispatch().ClaimBatch(ctx, c.ID, 10, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch() error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("claimed %d jobs from paused campaign, want 0", len(jobs))
	}
}

func TestClaimBatchReclaimsStaleJobs(t *testing.T) {
	ctx := context.Background()
	db := New()
	c := seedCampaign(t, db, domain.CampaignSending)

	stale := domain.SendJob{
		ID:           uuid.New(),
		CampaignID:   c.ID,
		SubscriberID: uuid.New(),
		Status:       domain.JobClaimed,
		UpdatedAt:    time.Now().UTC().Add(-10 * time.Minute),
	}
	db.mu.Lock()
	db.jobs[stale.ID] = &stale
	db.mu.Unlock()

	jobs, err := db.Dispatch().ClaimBatch(ctx, c.ID, 10, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch() error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != stale.ID {
		t.Fatalf("stale claim not reclaimed: %+v", jobs)
	}
}

func TestListDueCampaigns(t *testing.T) {
	ctx := context.Background()
	db := New()
	now := time.Now().UTC()

	due := seedCampaign(t, db, domain.CampaignDraft)
	future := seedCampaign(t, db, domain.CampaignDraft)
	if err := db.Campaigns().Schedule(ctx, due.ID, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if err := db.Campaigns().Schedule(ctx, future.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}

	got, err := db.Campaigns().ListDueCampaigns(ctx, now)
	if err != nil {
		t.Fatalf("ListDueCampaigns() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("due campaigns = %+v, want just the past-deadline one", got)
	}
}

func TestScheduleRequiresDraft(t *testing.T) {
	ctx := context.Background()
	db := New()
	c := seedCampaign(t, db, domain.CampaignSending)

	err := db.Campaigns().Schedule(ctx, c.ID, time.Now().Add(time.Hour))
	if !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTemplateDeleteInUse(t *testing.T) {
	ctx := context.Background()
	db := New()

	tmpl := &domain.Template{ID: uuid.New(), Name: "welcome", Subject: "Hi", Version: 1}
	if err := db.Templates().Create(ctx, tmpl); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	c := seedCampaign(t, db, domain.CampaignDraft)
	update := campaign.UpdateFields{TemplateID: &tmpl.ID}
	if err := db.Campaigns().Update(ctx, c.ID, update); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if err := db.Templates().Delete(ctx, tmpl.ID); !errors.Is(err, template.ErrInUse) {
		t.Errorf("err = %v, want ErrInUse", err)
	}
}

func TestSharedDataAcrossViews(t *testing.T) {
	ctx := context.Background()
	db := New()
	c := seedCampaign(t, db, domain.CampaignSending)

	evt := &domain.Event{
		ID:           uuid.New(),
		SubscriberID: uuid.New(),
		CampaignID:   c.ID,
		Type:         domain.EventOpen,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.Dispatch().RecordEvent(ctx, evt); err != nil {
		t.Fatalf("RecordEvent() error: %v", err)
	}

	n, err := db.Metrics().CountEventSubscribers(ctx, c.ID, domain.EventOpen)
	if err != nil {
		t.Fatalf("CountEventSubscribers() error: %v", err)
	}
	if n != 1 {
		t.Errorf("distinct openers = %d, want 1", n)
	}
	ok, err := db.Dispatch().HasEvent(ctx, evt.SubscriberID, c.ID, domain.EventOpen)
	if err != nil || !ok {
		t.Errorf("HasEvent() = (%v, %v), want (true, nil)", ok, err)
	}
}
