// Server binary: admin API plus tracking endpoints.
//
// With -mem the server runs entirely in memory with a dry-run transport,
// which is enough to exercise the whole API locally without Postgres or an
// SMTP relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embermail/embermail/internal/api"
	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/dispatch"
	"github.com/embermail/embermail/internal/pkg/logger"
	"github.com/embermail/embermail/internal/render"
	"github.com/embermail/embermail/internal/repository/memory"
	"github.com/embermail/embermail/internal/repository/postgres"
	"github.com/embermail/embermail/internal/service/campaign"
	"github.com/embermail/embermail/internal/service/subscriber"
	"github.com/embermail/embermail/internal/service/template"
	"github.com/embermail/embermail/internal/suppression"
	"github.com/embermail/embermail/internal/token"
	"github.com/embermail/embermail/internal/tracking"
	"github.com/embermail/embermail/internal/transport"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	memMode := flag.Bool("mem", false, "run with in-memory storage and a dry-run transport")
	flag.Parse()

	log := logger.Component("server")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	handlers, cleanup, err := buildHandlers(cfg, *memMode)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := api.NewServer(cfg.Server, handlers)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server exited", "error", err)
		os.Exit(1)
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func buildHandlers(cfg *config.Config, memMode bool) (*api.Handlers, func(), error) {
	codec, err := token.NewCodec(cfg.Tracking.Secret)
	if err != nil {
		return nil, nil, fmt.Errorf("tracking codec: %w", err)
	}
	renderer := render.NewRenderer()

	if memMode {
		db := memory.New()
		gate := suppression.NewGate(db.Suppressions())
		engine := dispatch.NewEngine(db.Dispatch(), gate, renderer, codec,
			transport.NewLogTransport(), cfg.Dispatch, cfg.Tracking)

		return &api.Handlers{
			Campaigns:   campaign.NewService(db.Campaigns(), engine),
			Subscribers: subscriber.NewService(db.Subscribers(), gate),
			Templates:   template.NewService(db.Templates(), renderer),
			Gate:        gate,
			Tracking:    tracking.NewHandler(codec, db.Dispatch(), db.Subscribers(), cfg.Tracking.FallbackURL),
		}, func() {}, nil
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	tx, err := buildTransport(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	gate := suppression.NewGate(postgres.NewSuppressionRepo(db))
	subscriberRepo := postgres.NewSubscriberRepo(db)
	dispatchStore := postgres.NewDispatchStore(db)
	engine := dispatch.NewEngine(dispatchStore, gate, renderer, codec,
		tx, cfg.Dispatch, cfg.Tracking)

	handlers := &api.Handlers{
		Campaigns:   campaign.NewService(postgres.NewCampaignRepo(db), engine),
		Subscribers: subscriber.NewService(subscriberRepo, gate),
		Templates:   template.NewService(postgres.NewTemplateRepo(db), renderer),
		Gate:        gate,
		Tracking:    tracking.NewHandler(codec, dispatchStore, subscriberRepo, cfg.Tracking.FallbackURL),
	}
	return handlers, func() { db.Close() }, nil
}

func buildTransport(cfg *config.Config) (transport.Transport, error) {
	if cfg.SES.Enabled {
		return transport.NewSESTransport(context.Background(), cfg.SES)
	}
	return transport.NewSMTPTransport(cfg.SMTP)
}
