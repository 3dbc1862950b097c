// Worker binary: dispatch drain pool, scheduler loops, and the workflow
// engine. Runs alongside one or more server instances; the atomic claim in
// the job store and the promotion locks make extra workers safe.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/dispatch"
	"github.com/embermail/embermail/internal/metrics"
	"github.com/embermail/embermail/internal/pkg/logger"
	"github.com/embermail/embermail/internal/render"
	"github.com/embermail/embermail/internal/repository/postgres"
	"github.com/embermail/embermail/internal/scheduler"
	"github.com/embermail/embermail/internal/suppression"
	"github.com/embermail/embermail/internal/token"
	"github.com/embermail/embermail/internal/transport"
	"github.com/embermail/embermail/internal/workflow"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flowDir := flag.String("flows", "", "directory of workflow definition JSON files")
	flag.Parse()

	log := logger.Component("worker")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *flowDir, log); err != nil {
		log.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, flowDir string, log *logger.Logger) error {
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	codec, err := token.NewCodec(cfg.Tracking.Secret)
	if err != nil {
		return fmt.Errorf("tracking codec: %w", err)
	}

	tx, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	gate := suppression.NewGate(postgres.NewSuppressionRepo(db))
	engine := dispatch.NewEngine(postgres.NewDispatchStore(db), gate,
		render.NewRenderer(), codec, tx, cfg.Dispatch, cfg.Tracking)

	flows := workflow.NewEngine(postgres.NewWorkflowStore(db), postgres.NewEventRepo(db), engine)
	if flowDir != "" {
		n, err := loadFlows(flows, flowDir)
		if err != nil {
			return err
		}
		log.Info("workflow definitions loaded", "count", n, "dir", flowDir)
	}

	aggregator := metrics.NewAggregator(postgres.NewMetricsStore(db))

	pool := dispatch.NewPool(engine, cfg.Dispatch.Workers)
	sched := scheduler.New(postgres.NewCampaignRepo(db), engine, aggregator, flows,
		redisClient, db, cfg.Scheduler)

	pool.Start()
	sched.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("shutting down", "signal", sig.String())

	sched.Stop()
	pool.Stop()
	log.Info("worker stopped")
	return nil
}

// loadFlows registers every *.json definition in dir. A broken definition
// aborts startup rather than silently running a partial automation set.
func loadFlows(engine *workflow.Engine, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("list flow dir: %w", err)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read flow %s: %w", path, err)
		}
		var def workflow.Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return 0, fmt.Errorf("parse flow %s: %w", path, err)
		}
		if err := engine.Register(&def); err != nil {
			return 0, fmt.Errorf("register flow %s: %w", path, err)
		}
	}
	return len(paths), nil
}

func buildTransport(cfg *config.Config) (transport.Transport, error) {
	if cfg.SES.Enabled {
		return transport.NewSESTransport(context.Background(), cfg.SES)
	}
	return transport.NewSMTPTransport(cfg.SMTP)
}
