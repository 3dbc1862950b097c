package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/dispatch"
	"github.com/embermail/embermail/internal/pkg/httputil"
	"github.com/embermail/embermail/internal/service/campaign"
)

// listResponse is the standard paginated envelope.
type listResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	return limit, offset
}

func (h *Handlers) listCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	filter := campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}

	items, total, err := h.Campaigns.List(r.Context(), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, listResponse{Items: items, Total: total})
}

func (h *Handlers) createCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	c, err := h.Campaigns.Create(r.Context(), input)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, c)
}

func (h *Handlers) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}

	c, err := h.Campaigns.Get(r.Context(), id)
	if err != nil {
		campaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) updateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}

	if err := h.Campaigns.Update(r.Context(), id, u); err != nil {
		campaignError(w, err)
		return
	}
	c, err := h.Campaigns.Get(r.Context(), id)
	if err != nil {
		campaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}
	if err := h.Campaigns.Delete(r.Context(), id); err != nil {
		campaignError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) scheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}
	var body struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}

	if err := h.Campaigns.Schedule(r.Context(), id, body.ScheduledAt); err != nil {
		campaignError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"scheduled_at": body.ScheduledAt})
}

func (h *Handlers) sendCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}
	created, err := h.Campaigns.SendNow(r.Context(), id)
	if err != nil {
		campaignError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"jobs_created": created})
}

func (h *Handlers) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Campaigns.Pause)
}

func (h *Handlers) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Campaigns.Resume)
}

func (h *Handlers) cancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Campaigns.Cancel)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}
	if err := op(r.Context(), id); err != nil {
		campaignError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) campaignMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}
	m, err := h.Campaigns.Metrics(r.Context(), id)
	if err != nil {
		campaignError(w, err)
		return
	}
	httputil.OK(w, m)
}

// campaignError maps service errors onto HTTP statuses.
func campaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, dispatch.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition), errors.Is(err, dispatch.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, campaign.ErrNotEditable), errors.Is(err, campaign.ErrMissingTemplate):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
