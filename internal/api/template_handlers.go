package api

import (
	"errors"
	"net/http"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/httputil"
	"github.com/embermail/embermail/internal/service/template"
)

func (h *Handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	items, total, err := h.Templates.List(r.Context(), limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, listResponse{Items: items, Total: total})
}

func (h *Handlers) createTemplate(w http.ResponseWriter, r *http.Request) {
	var input template.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	t, err := h.Templates.Create(r.Context(), input)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, t)
}

func (h *Handlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid template id")
		return
	}

	t, err := h.Templates.Get(r.Context(), id)
	if err != nil {
		templateError(w, err)
		return
	}
	httputil.OK(w, t)
}

func (h *Handlers) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid template id")
		return
	}
	var input template.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	t, err := h.Templates.Update(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, template.ErrNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, t)
}

func (h *Handlers) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid template id")
		return
	}
	if err := h.Templates.Delete(r.Context(), id); err != nil {
		templateError(w, err)
		return
	}
	httputil.NoContent(w)
}

// previewTemplate renders the template against an optional sample
// subscriber supplied in the body.
func (h *Handlers) previewTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid template id")
		return
	}
	var body struct {
		Sample *domain.Subscriber `json:"sample"`
	}
	if r.ContentLength > 0 && !httputil.Decode(w, r, &body) {
		return
	}

	p, err := h.Templates.Preview(r.Context(), id, body.Sample)
	if err != nil {
		templateError(w, err)
		return
	}
	httputil.OK(w, p)
}

func templateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, template.ErrNotFound):
		httputil.NotFound(w, "template not found")
	case errors.Is(err, template.ErrInvalidSyntax):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, template.ErrInUse):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
