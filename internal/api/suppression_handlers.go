package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/httputil"
	"github.com/embermail/embermail/internal/suppression"
)

func (h *Handlers) listSuppressions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	items, total, err := h.Gate.List(r.Context(), limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, listResponse{Items: items, Total: total})
}

func (h *Handlers) addSuppression(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email  string `json:"email"`
		Reason string `json:"reason"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	if body.Reason == "" {
		body.Reason = domain.SuppressReasonManual
	}

	entry, err := h.Gate.Add(r.Context(), body.Email, body.Reason)
	if err != nil {
		if errors.Is(err, suppression.ErrEmptyEmail) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, entry)
}

// bulkAddSuppressions takes a list of addresses and one shared reason,
// typically an exported stop list from a previous provider.
func (h *Handlers) bulkAddSuppressions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emails []string `json:"emails"`
		Reason string   `json:"reason"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if len(body.Emails) == 0 {
		httputil.BadRequest(w, "emails is required")
		return
	}
	if body.Reason == "" {
		body.Reason = domain.SuppressReasonManual
	}

	added, err := h.Gate.BulkAdd(r.Context(), body.Emails, body.Reason)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"added": added})
}

func (h *Handlers) removeSuppression(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || email == "" {
		httputil.BadRequest(w, "invalid email")
		return
	}

	if err := h.Gate.Remove(r.Context(), email); err != nil {
		if errors.Is(err, suppression.ErrNotFound) {
			httputil.NotFound(w, "suppression not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}
