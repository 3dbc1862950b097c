// Migrate applies the embedded schema. Safe to re-run: every statement is
// idempotent.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/pkg/logger"
	"github.com/embermail/embermail/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	log := logger.Component("migrate")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Error("open database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("schema up to date")
}
