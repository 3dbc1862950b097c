package tracking

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/token"
)

type memEventStore struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEventStore) RecordEvent(_ context.Context, evt *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *evt)
	return nil
}

type memSubscriberStore struct {
	mu           sync.Mutex
	unsubscribed []uuid.UUID
	touched      []uuid.UUID
}

func (m *memSubscriberStore) MarkUnsubscribed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, id)
	return nil
}

func (m *memSubscriberStore) TouchActivity(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	return nil
}

type trackEnv struct {
	codec   *token.Codec
	events  *memEventStore
	subs    *memSubscriberStore
	handler http.Handler
}

func newTrackEnv(t *testing.T) *trackEnv {
	t.Helper()
	codec, err := token.NewCodec("tracking-test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	events := &memEventStore{}
	subs := &memSubscriberStore{}
	h := NewHandler(codec, events, subs, "https://embermail.dev/link-expired")
	return &trackEnv{codec: codec, events: events, subs: subs, handler: h.Routes()}
}

func (env *trackEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func (env *trackEnv) mustToken(t *testing.T, claims token.Claims) string {
	t.Helper()
	tok, err := env.codec.Encode(claims)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return tok
}

func TestOpenRecordsEventAndServesPixel(t *testing.T) {
	env := newTrackEnv(t)
	sub, camp := uuid.New(), uuid.New()
	tok := env.mustToken(t, token.Claims{SubscriberID: sub, CampaignID: camp})

	rec := env.get(t, "/track/open?token="+tok)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), pixelGIF) {
		t.Error("body is not the tracking pixel")
	}

	if len(env.events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(env.events.events))
	}
	evt := env.events.events[0]
	if evt.Type != domain.EventOpen || evt.SubscriberID != sub || evt.CampaignID != camp {
		t.Errorf("event = %+v", evt)
	}
	if len(env.subs.touched) != 1 || env.subs.touched[0] != sub {
		t.Error("subscriber activity not touched")
	}
}

func TestOpenInvalidTokenStillServesPixel(t *testing.T) {
	env := newTrackEnv(t)

	for _, tok := range []string{"", "garbage", "AAAA^^^"} {
		rec := env.get(t, "/track/open?token="+tok)
		if rec.Code != http.StatusOK {
			t.Errorf("token %q: status = %d, want 200", tok, rec.Code)
		}
		if !bytes.Equal(rec.Body.Bytes(), pixelGIF) {
			t.Errorf("token %q: pixel not served", tok)
		}
	}
	if len(env.events.events) != 0 {
		t.Errorf("forged tokens produced %d events", len(env.events.events))
	}
}

func TestClickRedirectsToClaimURL(t *testing.T) {
	env := newTrackEnv(t)
	sub, camp := uuid.New(), uuid.New()
	dest := "https://shop.example.com/sale?ref=nl"
	tok := env.mustToken(t, token.Claims{SubscriberID: sub, CampaignID: camp, RedirectURL: dest})

	rec := env.get(t, "/track/click?token="+tok)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != dest {
		t.Errorf("location = %q, want %q", loc, dest)
	}
	if len(env.events.events) != 1 || env.events.events[0].Type != domain.EventClick {
		t.Fatalf("events = %+v", env.events.events)
	}
	if env.events.events[0].Payload["url"] != dest {
		t.Errorf("click payload = %v", env.events.events[0].Payload)
	}
}

func TestClickBadTokenFallsBack(t *testing.T) {
	env := newTrackEnv(t)

	rec := env.get(t, "/track/click?token=not-a-token")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://embermail.dev/link-expired" {
		t.Errorf("location = %q, want fallback", loc)
	}

	// valid token without a destination also falls back
	tok := env.mustToken(t, token.Claims{SubscriberID: uuid.New(), CampaignID: uuid.New()})
	rec = env.get(t, "/track/click?token="+tok)
	if loc := rec.Header().Get("Location"); loc != "https://embermail.dev/link-expired" {
		t.Errorf("location = %q, want fallback for URL-less token", loc)
	}
	if len(env.events.events) != 0 {
		t.Errorf("fallback redirects produced %d events", len(env.events.events))
	}
}

func TestUnsubscribeFlipsSubscriber(t *testing.T) {
	env := newTrackEnv(t)
	sub, camp := uuid.New(), uuid.New()
	tok := env.mustToken(t, token.Claims{SubscriberID: sub, CampaignID: camp})

	rec := env.get(t, "/track/unsubscribe?token="+tok)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("unsubscribed")) {
		t.Error("confirmation page missing")
	}
	if len(env.subs.unsubscribed) != 1 || env.subs.unsubscribed[0] != sub {
		t.Errorf("unsubscribed = %v, want %s", env.subs.unsubscribed, sub)
	}
	if len(env.events.events) != 1 || env.events.events[0].Type != domain.EventUnsubscribe {
		t.Fatalf("events = %+v", env.events.events)
	}
}

func TestUnsubscribeBadTokenIs400(t *testing.T) {
	env := newTrackEnv(t)

	rec := env.get(t, "/track/unsubscribe?token=tampered")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(env.subs.unsubscribed) != 0 {
		t.Error("bad token unsubscribed someone")
	}
}

func TestOneClickUnsubscribePost(t *testing.T) {
	env := newTrackEnv(t)
	sub := uuid.New()
	tok := env.mustToken(t, token.Claims{SubscriberID: sub, CampaignID: uuid.New()})

	req := httptest.NewRequest(http.MethodPost, "/track/unsubscribe?token="+tok, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if len(env.subs.unsubscribed) != 1 {
		t.Error("POST unsubscribe did not flip the subscriber")
	}
}

func TestRealIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"

	if got := realIP(req); got != "10.0.0.1" {
		t.Errorf("remote addr ip = %q", got)
	}
	req.Header.Set("X-Real-Ip", "203.0.113.9")
	if got := realIP(req); got != "203.0.113.9" {
		t.Errorf("x-real-ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := realIP(req); got != "198.51.100.7" {
		t.Errorf("x-forwarded-for = %q", got)
	}
}
