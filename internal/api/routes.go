package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/embermail/embermail/internal/pkg/httputil"
)

// Routes assembles the full router: admin API under /api, tracking
// endpoints at the root so tokenized links stay short.
func Routes(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	if h.Tracking != nil {
		r.Get("/track/open", h.Tracking.HandleOpen)
		r.Get("/track/click", h.Tracking.HandleClick)
		r.Get("/track/unsubscribe", h.Tracking.HandleUnsubscribe)
		r.Post("/track/unsubscribe", h.Tracking.HandleUnsubscribe)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.listCampaigns)
			r.Post("/", h.createCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCampaign)
				r.Put("/", h.updateCampaign)
				r.Delete("/", h.deleteCampaign)
				r.Post("/schedule", h.scheduleCampaign)
				r.Post("/send", h.sendCampaign)
				r.Post("/pause", h.pauseCampaign)
				r.Post("/resume", h.resumeCampaign)
				r.Post("/cancel", h.cancelCampaign)
				r.Get("/metrics", h.campaignMetrics)
			})
		})

		r.Route("/subscribers", func(r chi.Router) {
			r.Get("/", h.listSubscribers)
			r.Post("/", h.createSubscriber)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getSubscriber)
				r.Put("/", h.updateSubscriber)
				r.Delete("/", h.deleteSubscriber)
				r.Post("/unsubscribe", h.unsubscribeSubscriber)
				r.Post("/bounce", h.bounceSubscriber)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.listTemplates)
			r.Post("/", h.createTemplate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getTemplate)
				r.Put("/", h.updateTemplate)
				r.Delete("/", h.deleteTemplate)
				r.Post("/preview", h.previewTemplate)
			})
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", h.listSuppressions)
			r.Post("/", h.addSuppression)
			r.Post("/bulk", h.bulkAddSuppressions)
			r.Delete("/{email}", h.removeSuppression)
		})
	})

	return r
}
