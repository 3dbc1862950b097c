package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/distlock"
)

type fakeLock struct {
	key    string
	parent *fakeLocks
}

type fakeLocks struct {
	mu       sync.Mutex
	denied   map[string]bool
	acquires []string
	releases []string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{denied: make(map[string]bool)}
}

func (f *fakeLocks) lockFor(key string) distlock.DistLock {
	return &fakeLock{key: key, parent: f}
}

func (l *fakeLock) Acquire(_ context.Context) (bool, error) {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.parent.denied[l.key] {
		return false, nil
	}
	l.parent.acquires = append(l.parent.acquires, l.key)
	return true, nil
}

func (l *fakeLock) Release(_ context.Context) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	l.parent.releases = append(l.parent.releases, l.key)
	return nil
}

type fakeSource struct {
	mu  sync.Mutex
	due []domain.Campaign
}

func (f *fakeSource) ListDueCampaigns(_ context.Context, _ time.Time) ([]domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Campaign(nil), f.due...), nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	started []uuid.UUID
	errFor  map[uuid.UUID]error
}

func (f *fakeDispatcher) Start(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[id]; err != nil {
		return 0, err
	}
	f.started = append(f.started, id)
	return 1, nil
}

type fakeMetrics struct{ calls int64 }

func (f *fakeMetrics) ComputeAll(_ context.Context) (int, error) {
	f.calls++
	return 0, nil
}

type fakeFlows struct{ calls int64 }

func (f *fakeFlows) Tick(_ context.Context) (int, error) {
	f.calls++
	return 0, nil
}

func newTestScheduler(src *fakeSource, disp *fakeDispatcher, locks *fakeLocks) *Scheduler {
	cfg := config.SchedulerConfig{
		PromoteIntervalSeconds:   1,
		AggregateIntervalSeconds: 1,
		WorkflowTickSeconds:      1,
	}
	s := New(src, disp, &fakeMetrics{}, &fakeFlows{}, nil, nil, cfg)
	s.lockFor = locks.lockFor
	return s
}

func TestPromoteDueStartsUnderLock(t *testing.T) {
	src := &fakeSource{}
	disp := &fakeDispatcher{errFor: map[uuid.UUID]error{}}
	locks := newFakeLocks()
	s := newTestScheduler(src, disp, locks)

	a, b := uuid.New(), uuid.New()
	src.due = []domain.Campaign{
		{ID: a, Status: domain.CampaignScheduled},
		{ID: b, Status: domain.CampaignScheduled},
	}

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("promoteDue: %v", err)
	}

	if len(disp.started) != 2 {
		t.Fatalf("started %d campaigns, want 2", len(disp.started))
	}
	if len(locks.acquires) != 2 || len(locks.releases) != 2 {
		t.Errorf("acquires=%d releases=%d, want 2 each", len(locks.acquires), len(locks.releases))
	}
	if locks.acquires[0] != "campaign:promote:"+disp.started[0].String() {
		t.Errorf("lock key = %q", locks.acquires[0])
	}
}

func TestPromoteDueSkipsHeldLocks(t *testing.T) {
	src := &fakeSource{}
	disp := &fakeDispatcher{errFor: map[uuid.UUID]error{}}
	locks := newFakeLocks()
	s := newTestScheduler(src, disp, locks)

	held, free := uuid.New(), uuid.New()
	locks.denied["campaign:promote:"+held.String()] = true
	src.due = []domain.Campaign{
		{ID: held, Status: domain.CampaignScheduled},
		{ID: free, Status: domain.CampaignScheduled},
	}

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("promoteDue: %v", err)
	}
	if len(disp.started) != 1 || disp.started[0] != free {
		t.Errorf("started = %v, want only the unheld campaign", disp.started)
	}
}

func TestPromoteDueContinuesPastStartErrors(t *testing.T) {
	src := &fakeSource{}
	bad, good := uuid.New(), uuid.New()
	disp := &fakeDispatcher{errFor: map[uuid.UUID]error{bad: errors.New("already sending")}}
	locks := newFakeLocks()
	s := newTestScheduler(src, disp, locks)

	src.due = []domain.Campaign{
		{ID: bad, Status: domain.CampaignScheduled},
		{ID: good, Status: domain.CampaignScheduled},
	}

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("promoteDue: %v", err)
	}
	if len(disp.started) != 1 || disp.started[0] != good {
		t.Errorf("started = %v, want only the healthy campaign", disp.started)
	}
	// the lock around the failed start must still be released
	if len(locks.releases) != 2 {
		t.Errorf("releases = %d, want 2", len(locks.releases))
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	disp := &fakeDispatcher{errFor: map[uuid.UUID]error{}}
	s := newTestScheduler(src, disp, newFakeLocks())

	s.Start()
	s.Start() // second start is a no-op

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop() // second stop is a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
