package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/render"
	"github.com/embermail/embermail/internal/suppression"
	"github.com/embermail/embermail/internal/token"
)

// memStore is an in-memory Store for testing.
type memStore struct {
	mu          sync.Mutex
	campaigns   map[uuid.UUID]*domain.Campaign
	templates   map[uuid.UUID]*domain.Template
	subscribers map[uuid.UUID]*domain.Subscriber
	jobs        map[uuid.UUID]*domain.SendJob
	events      []domain.Event

	// failNext makes the next call of the named method return an error,
	// simulating an infrastructure outage.
	failNext map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:   make(map[uuid.UUID]*domain.Campaign),
		templates:   make(map[uuid.UUID]*domain.Template),
		subscribers: make(map[uuid.UUID]*domain.Subscriber),
		jobs:        make(map[uuid.UUID]*domain.SendJob),
		failNext:    make(map[string]int),
	}
}

func (m *memStore) maybeFail(method string) error {
	if m.failNext[method] > 0 {
		m.failNext[method]--
		return fmt.Errorf("injected %s outage", method)
	}
	return nil
}

func (m *memStore) GetCampaign(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCampaignsByStatus(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) TransitionCampaign(_ context.Context, id uuid.UUID, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrInvalidTransition
}

func (m *memStore) GetTemplate(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetSubscriber(_ context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListActiveSubscribers(_ context.Context, tags []string) ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscriber
	for _, s := range m.subscribers {
		if s.Status != domain.SubscriberActive {
			continue
		}
		if len(tags) > 0 {
			match := false
			for _, tag := range tags {
				if s.HasTag(tag) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memStore) CreateJobs(_ context.Context, jobs []domain.SendJob) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for i := range jobs {
		job := jobs[i]
		dup := false
		for _, existing := range m.jobs {
			if existing.CampaignID == job.CampaignID && existing.SubscriberID == job.SubscriberID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.jobs[job.ID] = &job
		inserted++
	}
	return inserted, nil
}

func (m *memStore) ClaimBatch(_ context.Context, campaignID uuid.UUID, limit int, _ time.Duration) ([]domain.SendJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("ClaimBatch"); err != nil {
		return nil, err
	}
	c, ok := m.campaigns[campaignID]
	if !ok || c.Status != domain.CampaignSending {
		return nil, nil
	}
	var pending []*domain.SendJob
	for _, j := range m.jobs {
		if j.CampaignID == campaignID && j.Status == domain.JobPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Position < pending[j].Position })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]domain.SendJob, 0, len(pending))
	for _, j := range pending {
		j.Status = domain.JobClaimed
		out = append(out, *j)
	}
	return out, nil
}

func (m *memStore) setJob(id uuid.UUID, status domain.SendJobStatus, attempts int, errMsg, msgID string) error {
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.Attempts = attempts
	j.LastError = errMsg
	if msgID != "" {
		j.ProviderMessageID = msgID
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) MarkJobSent(_ context.Context, id uuid.UUID, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("MarkJobSent"); err != nil {
		return err
	}
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	return m.setJob(id, domain.JobSent, j.Attempts+1, "", msgID)
}

func (m *memStore) MarkJobFailed(_ context.Context, id uuid.UUID, attempts int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setJob(id, domain.JobFailed, attempts, errMsg, "")
}

func (m *memStore) MarkJobBounced(_ context.Context, id uuid.UUID, attempts int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setJob(id, domain.JobBounced, attempts, errMsg, "")
}

func (m *memStore) RequeueJob(_ context.Context, id uuid.UUID, attempts int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setJob(id, domain.JobPending, attempts, errMsg, "")
}

func (m *memStore) CountJobs(_ context.Context, campaignID uuid.UUID, statuses ...domain.SendJobStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		for _, s := range statuses {
			if j.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memStore) RecordEvent(_ context.Context, evt *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("RecordEvent"); err != nil {
		return err
	}
	m.events = append(m.events, *evt)
	return nil
}

func (m *memStore) jobsFor(campaignID uuid.UUID) []domain.SendJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SendJob
	for _, j := range m.jobs {
		if j.CampaignID == campaignID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// memSuppressionRepo backs the gate in tests.
type memSuppressionRepo struct {
	mu    sync.Mutex
	store map[string]*domain.Suppression
}

func newMemSuppressionRepo() *memSuppressionRepo {
	return &memSuppressionRepo{store: make(map[string]*domain.Suppression)}
}

func (m *memSuppressionRepo) IsSuppressed(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.store[email]
	return ok, nil
}

func (m *memSuppressionRepo) Get(_ context.Context, email string) (*domain.Suppression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[email]
	if !ok {
		return nil, suppression.ErrNotFound
	}
	return e, nil
}

func (m *memSuppressionRepo) Add(_ context.Context, entry *domain.Suppression) (*domain.Suppression, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.store[entry.Email]; ok {
		return existing, false, nil
	}
	m.store[entry.Email] = entry
	return entry, true, nil
}

func (m *memSuppressionRepo) Remove(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, email)
	return nil
}

func (m *memSuppressionRepo) List(_ context.Context, limit, offset int) ([]domain.Suppression, int, error) {
	return nil, len(m.store), nil
}

// fakeTransport scripts delivery outcomes.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []domain.EmailMessage
	outcomes []domain.SendResult // consumed in order; empty means always succeed
}

func (f *fakeTransport) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *msg)
	if len(f.outcomes) > 0 {
		out := f.outcomes[0]
		f.outcomes = f.outcomes[1:]
		return &out, nil
	}
	return &domain.SendResult{Success: true, MessageID: fmt.Sprintf("msg-%d", len(f.sent)), SentAt: time.Now()}, nil
}

type testEnv struct {
	store    *memStore
	gate     *suppression.Gate
	gateRepo *memSuppressionRepo
	tx       *fakeTransport
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	gateRepo := newMemSuppressionRepo()
	gate := suppression.NewGate(gateRepo)
	codec, err := token.NewCodec("dispatch-test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	tx := &fakeTransport{}
	cfg := config.DispatchConfig{
		Workers:            1,
		BatchSize:          100,
		SendTimeoutSeconds: 5,
		ClaimTTLSeconds:    300,
		DefaultFromName:    "EmberMail",
		DefaultFromEmail:   "news@embermail.dev",
	}
	tracking := config.TrackingConfig{BaseURL: "https://t.example.com", Secret: "x"}
	engine := NewEngine(store, gate, render.NewRenderer(), codec, tx, cfg, tracking)
	return &testEnv{store: store, gate: gate, gateRepo: gateRepo, tx: tx, engine: engine}
}

func (env *testEnv) addSubscriber(email string, status domain.SubscriberStatus, tags ...string) *domain.Subscriber {
	s := &domain.Subscriber{
		ID:     uuid.New(),
		Email:  email,
		Status: status,
		Tags:   tags,
	}
	env.store.subscribers[s.ID] = s
	return s
}

func (env *testEnv) addCampaign(status domain.CampaignStatus, rate float64) (*domain.Campaign, *domain.Template) {
	tpl := &domain.Template{
		ID:      uuid.New(),
		Subject: "Hi {{name}}",
		HTML:    "<html><body><p>Hello {{name}}</p><a href='https://shop.example.com/sale'>Sale</a></body></html>",
		Text:    "Hello {{name}}",
		Version: 1,
	}
	env.store.templates[tpl.ID] = tpl
	c := &domain.Campaign{
		ID:         uuid.New(),
		Name:       "test",
		TemplateID: tpl.ID,
		FromName:   "EmberMail",
		FromEmail:  "news@embermail.dev",
		SendRate:   rate,
		Status:     status,
	}
	env.store.campaigns[c.ID] = c
	return c, tpl
}

func TestStartFanOutCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addSubscriber("one@example.com", domain.SubscriberActive)
	env.addSubscriber("two@example.com", domain.SubscriberActive)
	env.addSubscriber("three@example.com", domain.SubscriberActive)
	env.addSubscriber("unsub@example.com", domain.SubscriberUnsubscribed)
	env.addSubscriber("bounced@example.com", domain.SubscriberBounced)

	c, _ := env.addCampaign(domain.CampaignScheduled, 0)

	created, err := env.engine.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if created != 3 {
		t.Errorf("expected 3 jobs for 3 active subscribers, got %d", created)
	}

	jobs := env.store.jobsFor(c.ID)
	seen := map[uuid.UUID]bool{}
	for _, j := range jobs {
		if j.Status != domain.JobPending {
			t.Errorf("job %s not pending: %s", j.ID, j.Status)
		}
		if seen[j.SubscriberID] {
			t.Errorf("duplicate job for subscriber %s", j.SubscriberID)
		}
		seen[j.SubscriberID] = true
	}
}

func TestSuppressedNeverGetsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub := env.addSubscriber("a@x.com", domain.SubscriberActive)
	if _, err := env.gate.Add(ctx, "a@x.com", domain.SuppressReasonBouncePermanent); err != nil {
		t.Fatalf("suppress: %v", err)
	}

	c, _ := env.addCampaign(domain.CampaignDraft, 0)
	created, err := env.engine.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if created != 0 {
		t.Errorf("expected 0 jobs, got %d", created)
	}
	for _, j := range env.store.jobsFor(c.ID) {
		if j.SubscriberID == sub.ID {
			t.Error("suppressed subscriber received a job")
		}
	}
}

func TestFanOutSkipsExistingJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub := env.addSubscriber("dup@example.com", domain.SubscriberActive)
	env.addSubscriber("new@example.com", domain.SubscriberActive)
	c, _ := env.addCampaign(domain.CampaignScheduled, 0)

	// pre-existing job for one subscriber
	_, _ = env.store.CreateJobs(ctx, []domain.SendJob{{
		ID: uuid.New(), CampaignID: c.ID, SubscriberID: sub.ID, Status: domain.JobPending,
	}})

	created, err := env.engine.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 new job, got %d", created)
	}
	if len(env.store.jobsFor(c.ID)) != 2 {
		t.Errorf("expected 2 jobs total, got %d", len(env.store.jobsFor(c.ID)))
	}
}

func TestSegmentFiltering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addSubscriber("vip@example.com", domain.SubscriberActive, "vip")
	env.addSubscriber("plain@example.com", domain.SubscriberActive)

	c, _ := env.addCampaign(domain.CampaignDraft, 0)
	c.SegmentTags = []string{"vip"}
	env.store.campaigns[c.ID] = c

	created, err := env.engine.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 job for tagged segment, got %d", created)
	}
}

func TestStartGuardsTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addSubscriber("a@example.com", domain.SubscriberActive)
	c, _ := env.addCampaign(domain.CampaignScheduled, 0)

	if _, err := env.engine.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := env.engine.Start(ctx, c.ID); err != ErrInvalidTransition {
		t.Errorf("second Start: got %v, want ErrInvalidTransition", err)
	}
}

func TestPauseResumeDoesNotRecreateJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addSubscriber("a@example.com", domain.SubscriberActive)
	c, _ := env.addCampaign(domain.CampaignScheduled, 0)

	if _, err := env.engine.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := len(env.store.jobsFor(c.ID))

	if err := env.engine.Pause(ctx, c.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// add a subscriber while paused; resume must not fan out again
	env.addSubscriber("late@example.com", domain.SubscriberActive)
	if err := env.engine.Resume(ctx, c.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if after := len(env.store.jobsFor(c.ID)); after != before {
		t.Errorf("resume changed job count: %d -> %d", before, after)
	}
}

func TestCancelAbandonsPendingJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addSubscriber("a@example.com", domain.SubscriberActive)
	c, _ := env.addCampaign(domain.CampaignScheduled, 0)
	if _, err := env.engine.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.engine.Cancel(ctx, c.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// cancelled campaigns yield no claimable work and keep their pending jobs
	jobs, err := env.engine.ClaimBatch(ctx, c.ID)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("claimed %d jobs from a cancelled campaign", len(jobs))
	}
	for _, j := range env.store.jobsFor(c.ID) {
		if j.Status != domain.JobPending {
			t.Errorf("cancelled campaign job moved to %s", j.Status)
		}
	}

	if err := env.engine.Resume(ctx, c.ID); err != ErrInvalidTransition {
		t.Errorf("resume after cancel: got %v, want ErrInvalidTransition", err)
	}
}

func TestClaimBatchDisjoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		env.addSubscriber(fmt.Sprintf("s%02d@example.com", i), domain.SubscriberActive)
	}
	c, _ := env.addCampaign(domain.CampaignScheduled, 0)
	if _, err := env.engine.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	env.engine.cfg.BatchSize = 6
	first, err := env.engine.ClaimBatch(ctx, c.ID)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	second, err := env.engine.ClaimBatch(ctx, c.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}

	if len(first) != 6 || len(second) != 4 {
		t.Fatalf("claims: got %d and %d, want 6 and 4", len(first), len(second))
	}
	claimed := map[uuid.UUID]bool{}
	for _, j := range append(first, second...) {
		if claimed[j.ID] {
			t.Errorf("job %s claimed twice", j.ID)
		}
		claimed[j.ID] = true
	}
}

func TestCompleteIfDrained(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addSubscriber("a@example.com", domain.SubscriberActive)
	c, _ := env.addCampaign(domain.CampaignScheduled, 100)
	if _, err := env.engine.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done, err := env.engine.CompleteIfDrained(ctx, c.ID)
	if err != nil {
		t.Fatalf("CompleteIfDrained: %v", err)
	}
	if done {
		t.Error("campaign with pending jobs reported complete")
	}

	jobs, _ := env.engine.ClaimBatch(ctx, c.ID)
	if err := env.engine.DrainBatch(ctx, c, jobs); err != nil {
		t.Fatalf("DrainBatch: %v", err)
	}

	done, err = env.engine.CompleteIfDrained(ctx, c.ID)
	if err != nil {
		t.Fatalf("CompleteIfDrained: %v", err)
	}
	if !done {
		t.Error("drained campaign not marked complete")
	}
	got, _ := env.store.GetCampaign(ctx, c.ID)
	if got.Status != domain.CampaignSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
}
