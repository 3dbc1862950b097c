package api

import (
	"errors"
	"net/http"

	"github.com/embermail/embermail/internal/pkg/httputil"
	"github.com/embermail/embermail/internal/service/subscriber"
)

func (h *Handlers) listSubscribers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	filter := subscriber.ListFilter{
		Status: r.URL.Query().Get("status"),
		Tag:    r.URL.Query().Get("tag"),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}

	items, total, err := h.Subscribers.List(r.Context(), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, listResponse{Items: items, Total: total})
}

func (h *Handlers) createSubscriber(w http.ResponseWriter, r *http.Request) {
	var input subscriber.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	s, err := h.Subscribers.Create(r.Context(), input)
	if err != nil {
		subscriberError(w, err)
		return
	}
	httputil.Created(w, s)
}

func (h *Handlers) getSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid subscriber id")
		return
	}

	s, err := h.Subscribers.Get(r.Context(), id)
	if err != nil {
		subscriberError(w, err)
		return
	}
	httputil.OK(w, s)
}

func (h *Handlers) updateSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid subscriber id")
		return
	}
	var u subscriber.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}

	if err := h.Subscribers.Update(r.Context(), id, u); err != nil {
		subscriberError(w, err)
		return
	}
	s, err := h.Subscribers.Get(r.Context(), id)
	if err != nil {
		subscriberError(w, err)
		return
	}
	httputil.OK(w, s)
}

func (h *Handlers) deleteSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid subscriber id")
		return
	}
	if err := h.Subscribers.Delete(r.Context(), id); err != nil {
		subscriberError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) unsubscribeSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid subscriber id")
		return
	}
	if err := h.Subscribers.Unsubscribe(r.Context(), id); err != nil {
		subscriberError(w, err)
		return
	}
	httputil.NoContent(w)
}

// bounceSubscriber marks a hard bounce reported out of band, e.g. from a
// provider webhook relay. The address lands on the suppression list.
func (h *Handlers) bounceSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid subscriber id")
		return
	}
	if err := h.Subscribers.MarkBounced(r.Context(), id); err != nil {
		subscriberError(w, err)
		return
	}
	httputil.NoContent(w)
}

func subscriberError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscriber.ErrNotFound):
		httputil.NotFound(w, "subscriber not found")
	case errors.Is(err, subscriber.ErrDuplicateEmail):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, subscriber.ErrInvalidEmail):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
