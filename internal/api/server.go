// Package api exposes the admin HTTP surface: campaign, subscriber,
// template, and suppression management. Tracking endpoints live in the
// tracking package and are mounted alongside these routes so a single
// binary can serve both.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/pkg/logger"
	"github.com/embermail/embermail/internal/service/campaign"
	"github.com/embermail/embermail/internal/service/subscriber"
	"github.com/embermail/embermail/internal/service/template"
	"github.com/embermail/embermail/internal/suppression"
	"github.com/embermail/embermail/internal/tracking"
)

// Server wraps the HTTP server with graceful shutdown.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	server  *http.Server
	log     *logger.Logger
}

// Handlers bundles the services the API routes over.
type Handlers struct {
	Campaigns   *campaign.Service
	Subscribers *subscriber.Service
	Templates   *template.Service
	Gate        *suppression.Gate
	Tracking    *tracking.Handler
}

// NewServer builds the router and wraps it in a configured http.Server.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{
		cfg:     cfg,
		handler: Routes(h),
		log:     logger.Component("api"),
	}
}

// ListenAndServe starts serving and blocks until the listener closes.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.log.Info("listening", "addr", s.cfg.Addr())
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
