package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
)

// Pool runs the configured number of drain workers. Workers pull one
// claimable batch at a time from campaigns in sending status; within a
// batch, sends are strictly sequential to honor the pacing rate, while
// different campaigns drain in parallel across workers. The atomic claim in
// the store guarantees two workers never hold the same job.
type Pool struct {
	engine       *Engine
	numWorkers   int
	pollInterval time.Duration
	log          *logger.Logger

	totalBatches int64
	totalErrors  int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPool creates a drain worker pool.
func NewPool(engine *Engine, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &Pool{
		engine:       engine,
		numWorkers:   numWorkers,
		pollInterval: time.Second,
		log:          logger.Component("dispatch.pool"),
	}
}

// Start launches the workers. Idempotent while running.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.log.Info("starting drain workers", "workers", p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	go p.heartbeat()
}

// Stop cancels the workers and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("drain workers stopped",
		"batches", atomic.LoadInt64(&p.totalBatches),
		"errors", atomic.LoadInt64(&p.totalErrors))
}

// Stats returns cumulative batch counters.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"batches": atomic.LoadInt64(&p.totalBatches),
		"errors":  atomic.LoadInt64(&p.totalErrors),
	}
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		worked, err := p.drainOne(p.ctx)
		if err != nil {
			atomic.AddInt64(&p.totalErrors, 1)
			p.log.Error("worker batch error", "worker", n, "error", err)
		}
		if !worked {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
		}
	}
}

// drainOne claims and drains one batch from the first sending campaign
// that has claimable work. Returns false when no work was found.
func (p *Pool) drainOne(ctx context.Context) (bool, error) {
	campaigns, err := p.engine.store.ListCampaignsByStatus(ctx, domain.CampaignSending)
	if err != nil {
		return false, err
	}

	for i := range campaigns {
		campaign := &campaigns[i]
		jobs, err := p.engine.ClaimBatch(ctx, campaign.ID)
		if err != nil {
			return false, err
		}
		if len(jobs) == 0 {
			// nothing left to claim; maybe the campaign just finished
			if _, err := p.engine.CompleteIfDrained(ctx, campaign.ID); err != nil {
				p.log.Warn("completion check failed", "campaign_id", campaign.ID, "error", err)
			}
			continue
		}

		if err := p.engine.DrainBatch(ctx, campaign, jobs); err != nil {
			atomic.AddInt64(&p.totalBatches, 1)
			return true, err
		}
		atomic.AddInt64(&p.totalBatches, 1)
		if _, err := p.engine.CompleteIfDrained(ctx, campaign.ID); err != nil {
			p.log.Warn("completion check failed", "campaign_id", campaign.ID, "error", err)
		}
		return true, nil
	}
	return false, nil
}

func (p *Pool) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.log.Debug("pool heartbeat",
				"batches", atomic.LoadInt64(&p.totalBatches),
				"errors", atomic.LoadInt64(&p.totalErrors))
		}
	}
}
