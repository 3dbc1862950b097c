package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

type memRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
	metrics   map[uuid.UUID]*domain.CampaignMetrics
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns: make(map[uuid.UUID]*domain.Campaign),
		metrics:   make(map[uuid.UUID]*domain.CampaignMetrics),
	}
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, id uuid.UUID, u UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.SendRate != nil {
		c.SendRate = *u.SendRate
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memRepo) Schedule(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return ErrInvalidTransition
	}
	c.Status = domain.CampaignScheduled
	c.ScheduledAt = &at
	return nil
}

func (m *memRepo) GetMetrics(_ context.Context, campaignID uuid.UUID) (*domain.CampaignMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm, ok := m.metrics[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	return cm, nil
}

type stubDispatcher struct {
	started, paused, resumed, cancelled []uuid.UUID
}

func (d *stubDispatcher) Start(_ context.Context, id uuid.UUID) (int, error) {
	d.started = append(d.started, id)
	return 42, nil
}
func (d *stubDispatcher) Pause(_ context.Context, id uuid.UUID) error {
	d.paused = append(d.paused, id)
	return nil
}
func (d *stubDispatcher) Resume(_ context.Context, id uuid.UUID) error {
	d.resumed = append(d.resumed, id)
	return nil
}
func (d *stubDispatcher) Cancel(_ context.Context, id uuid.UUID) error {
	d.cancelled = append(d.cancelled, id)
	return nil
}

func TestCreateDefaultsAndValidation(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubDispatcher{})
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateInput{
		Name:       "Spring launch",
		TemplateID: uuid.New(),
		FromEmail:  "  News@EmberMail.dev ",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != domain.CampaignDraft {
		t.Errorf("status = %s, want draft", c.Status)
	}
	if c.SendRate != domain.DefaultSendRate {
		t.Errorf("send rate = %v, want default", c.SendRate)
	}
	if c.FromEmail != "news@embermail.dev" {
		t.Errorf("from email = %q, want normalized", c.FromEmail)
	}

	if _, err := svc.Create(ctx, CreateInput{TemplateID: uuid.New(), FromEmail: "a@b.c"}); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := svc.Create(ctx, CreateInput{Name: "x", FromEmail: "a@b.c"}); err != ErrMissingTemplate {
		t.Errorf("missing template: got %v, want ErrMissingTemplate", err)
	}
	if _, err := svc.Create(ctx, CreateInput{Name: "x", TemplateID: uuid.New()}); err == nil {
		t.Error("empty from_email accepted")
	}
}

func TestUpdateOnlyDrafts(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubDispatcher{})
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateInput{Name: "n", TemplateID: uuid.New(), FromEmail: "a@b.c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	name := "renamed"
	if err := svc.Update(ctx, c.ID, UpdateFields{Name: &name}); err != nil {
		t.Fatalf("Update draft: %v", err)
	}

	repo.campaigns[c.ID].Status = domain.CampaignSending
	if err := svc.Update(ctx, c.ID, UpdateFields{Name: &name}); err != ErrNotEditable {
		t.Errorf("update sending campaign: got %v, want ErrNotEditable", err)
	}
}

func TestScheduleRejectsPast(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubDispatcher{})
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateInput{Name: "n", TemplateID: uuid.New(), FromEmail: "a@b.c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Schedule(ctx, c.ID, time.Now().Add(-time.Hour)); err == nil {
		t.Error("past schedule time accepted")
	}
	if err := svc.Schedule(ctx, c.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got, _ := svc.Get(ctx, c.ID)
	if got.Status != domain.CampaignScheduled || got.ScheduledAt == nil {
		t.Errorf("campaign = %+v, want scheduled with time", got)
	}

	// scheduling twice hits the draft guard
	if err := svc.Schedule(ctx, c.ID, time.Now().Add(2*time.Hour)); err != ErrInvalidTransition {
		t.Errorf("reschedule: got %v, want ErrInvalidTransition", err)
	}
}

func TestDeleteGuards(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubDispatcher{})
	ctx := context.Background()

	c, _ := svc.Create(ctx, CreateInput{Name: "n", TemplateID: uuid.New(), FromEmail: "a@b.c"})
	repo.campaigns[c.ID].Status = domain.CampaignSent
	if err := svc.Delete(ctx, c.ID); err != ErrInvalidTransition {
		t.Errorf("delete sent campaign: got %v, want ErrInvalidTransition", err)
	}

	repo.campaigns[c.ID].Status = domain.CampaignCancelled
	if err := svc.Delete(ctx, c.ID); err != nil {
		t.Errorf("delete cancelled campaign: %v", err)
	}
}

func TestLifecycleDelegation(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{}
	svc := NewService(repo, disp)
	ctx := context.Background()

	id := uuid.New()
	n, err := svc.SendNow(ctx, id)
	if err != nil || n != 42 {
		t.Fatalf("SendNow = (%d, %v)", n, err)
	}
	_ = svc.Pause(ctx, id)
	_ = svc.Resume(ctx, id)
	_ = svc.Cancel(ctx, id)

	if len(disp.started) != 1 || len(disp.paused) != 1 || len(disp.resumed) != 1 || len(disp.cancelled) != 1 {
		t.Errorf("delegation counts: %d/%d/%d/%d",
			len(disp.started), len(disp.paused), len(disp.resumed), len(disp.cancelled))
	}
}
