// Package tracking serves the pixel, click, and unsubscribe endpoints that
// turn recipient activity into events. Open and click handlers fail silently
// on bad tokens so scanners and link-rewriting proxies never see errors;
// unsubscribe fails loudly because a silent failure would keep mailing
// someone who opted out.
package tracking

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
	"github.com/embermail/embermail/internal/token"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EventStore appends engagement events.
type EventStore interface {
	RecordEvent(ctx context.Context, evt *domain.Event) error
}

// SubscriberStore applies subscriber-level tracking side effects.
type SubscriberStore interface {
	MarkUnsubscribed(ctx context.Context, id uuid.UUID) error
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Handler struct {
	codec       *token.Codec
	store       EventStore
	subscribers SubscriberStore
	fallbackURL string
	log         *logger.Logger
}

// NewHandler wires the tracking endpoints. fallbackURL is where broken click
// links land.
func NewHandler(codec *token.Codec, events EventStore, subscribers SubscriberStore, fallbackURL string) *Handler {
	if fallbackURL == "" {
		fallbackURL = "/"
	}
	return &Handler{
		codec:       codec,
		store:       events,
		subscribers: subscribers,
		fallbackURL: fallbackURL,
		log:         logger.Component("tracking"),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open", h.HandleOpen)
	r.Get("/track/click", h.HandleClick)
	r.Get("/track/unsubscribe", h.HandleUnsubscribe)
	r.Post("/track/unsubscribe", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open event and always serves the pixel: a broken or
// forged token must render identically to a valid one.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	claims, err := h.codec.Decode(r.URL.Query().Get("token"))
	if err != nil {
		h.log.Debug("open token rejected", "remote", realIP(r))
		h.servePixel(w)
		return
	}

	h.record(r, claims, domain.EventOpen, nil)
	if err := h.subscribers.TouchActivity(r.Context(), claims.SubscriberID, time.Now().UTC()); err != nil {
		h.log.Error("touch activity", "subscriber_id", claims.SubscriberID, "error", err)
	}
	h.servePixel(w)
}

// HandleClick records a click event and redirects to the URL carried in the
// token. Bad tokens and tokens without a destination both land on the
// fallback URL.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	claims, err := h.codec.Decode(r.URL.Query().Get("token"))
	if err != nil || claims.RedirectURL == "" {
		h.log.Debug("click token rejected", "remote", realIP(r))
		http.Redirect(w, r, h.fallbackURL, http.StatusTemporaryRedirect)
		return
	}

	h.record(r, claims, domain.EventClick, map[string]any{"url": claims.RedirectURL})
	http.Redirect(w, r, claims.RedirectURL, http.StatusTemporaryRedirect)
}

// HandleUnsubscribe flips the subscriber to unsubscribed and confirms.
// Invalid tokens get an explicit 400.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	claims, err := h.codec.Decode(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid unsubscribe link", http.StatusBadRequest)
		return
	}

	if err := h.subscribers.MarkUnsubscribed(r.Context(), claims.SubscriberID); err != nil {
		h.log.Error("mark unsubscribed", "subscriber_id", claims.SubscriberID, "error", err)
		http.Error(w, "unsubscribe failed", http.StatusInternalServerError)
		return
	}
	h.record(r, claims, domain.EventUnsubscribe, nil)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) record(r *http.Request, claims *token.Claims, typ domain.EventType, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["ip"] = realIP(r)
	payload["user_agent"] = r.UserAgent()

	evt := &domain.Event{
		ID:           uuid.New(),
		SubscriberID: claims.SubscriberID,
		CampaignID:   claims.CampaignID,
		Type:         typ,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.RecordEvent(r.Context(), evt); err != nil {
		// tracking never surfaces storage errors to the recipient
		h.log.Error("record event", "type", typ, "campaign_id", claims.CampaignID, "error", err)
	}
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
