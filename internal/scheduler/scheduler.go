package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/distlock"
	"github.com/embermail/embermail/internal/pkg/logger"
)

const promoteLockTTL = 2 * time.Minute

// CampaignSource lists scheduled campaigns whose send time has arrived.
type CampaignSource interface {
	ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)
}

// Dispatcher starts a campaign. Implemented by the dispatch engine.
type Dispatcher interface {
	Start(ctx context.Context, campaignID uuid.UUID) (int, error)
}

// MetricsRunner recomputes campaign aggregates.
type MetricsRunner interface {
	ComputeAll(ctx context.Context) (int, error)
}

// FlowTicker advances parked workflow instances.
type FlowTicker interface {
	Tick(ctx context.Context) (int, error)
}

// Scheduler owns the three trigger loops. Start launches them; Stop blocks
// until all loops have drained.
type Scheduler struct {
	source     CampaignSource
	dispatcher Dispatcher
	metrics    MetricsRunner
	flows      FlowTicker
	cfg        config.SchedulerConfig
	log        *logger.Logger

	// lockFor builds the per-campaign promotion lock; swapped in tests.
	lockFor func(key string) distlock.DistLock

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New wires the scheduler. redisClient may be nil; the lock then falls back
// to a postgres advisory lock.
func New(source CampaignSource, dispatcher Dispatcher, metrics MetricsRunner, flows FlowTicker,
	redisClient *redis.Client, db *sql.DB, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		source:     source,
		dispatcher: dispatcher,
		metrics:    metrics,
		flows:      flows,
		cfg:        cfg,
		log:        logger.Component("scheduler"),
		lockFor: func(key string) distlock.DistLock {
			return distlock.NewLock(redisClient, db, key, promoteLockTTL)
		},
	}
}

// Start launches the trigger loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.loop("promote", s.cfg.PromoteInterval(), s.promoteDue)
	s.loop("aggregate", s.cfg.AggregateInterval(), s.aggregate)
	s.loop("workflow", s.cfg.WorkflowTick(), s.tickFlows)
	s.log.Info("scheduler started",
		"promote_interval", s.cfg.PromoteInterval(),
		"aggregate_interval", s.cfg.AggregateInterval(),
		"workflow_tick", s.cfg.WorkflowTick())
}

// Stop cancels the loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := run(s.ctx); err != nil && s.ctx.Err() == nil {
					s.log.Error("trigger failed", "loop", name, "error", err)
				}
			}
		}
	}()
}

// promoteDue starts every scheduled campaign whose ScheduledAt has passed.
// Each start runs under its own lock, so concurrent scheduler instances
// partition the due set between them instead of double-starting.
func (s *Scheduler) promoteDue(ctx context.Context) error {
	due, err := s.source.ListDueCampaigns(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("list due campaigns: %w", err)
	}

	for i := range due {
		campaign := &due[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lock := s.lockFor("campaign:promote:" + campaign.ID.String())
		acquired, err := distlock.WithLock(ctx, lock, func(ctx context.Context) error {
			created, err := s.dispatcher.Start(ctx, campaign.ID)
			if err != nil {
				return err
			}
			s.log.Info("campaign promoted", "campaign_id", campaign.ID, "jobs_created", created)
			return nil
		})
		if err != nil {
			// another instance may have started it between list and lock;
			// the status guard inside Start turns that into a clean error
			s.log.Warn("promote failed", "campaign_id", campaign.ID, "error", err)
			continue
		}
		if !acquired {
			s.log.Debug("promotion lock held elsewhere", "campaign_id", campaign.ID)
		}
	}
	return nil
}

func (s *Scheduler) aggregate(ctx context.Context) error {
	done, err := s.metrics.ComputeAll(ctx)
	if err != nil {
		return err
	}
	s.log.Debug("metrics recomputed", "campaigns", done)
	return nil
}

func (s *Scheduler) tickFlows(ctx context.Context) error {
	advanced, err := s.flows.Tick(ctx)
	if err != nil {
		return err
	}
	if advanced > 0 {
		s.log.Info("workflow instances advanced", "count", advanced)
	}
	return nil
}
