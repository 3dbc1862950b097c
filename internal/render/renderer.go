// Package render merges subscriber attributes into email content using the
// Liquid template language.
//
// Rendering never fails the pipeline: a template that cannot be parsed or
// rendered degrades to its original text, and the Result records why, so
// callers can log or alert instead of shipping broken output silently.
package render

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Result is the outcome of one render. When Degraded is true, Output holds
// the original template text and Reason describes the failure.
type Result struct {
	Output   string
	Degraded bool
	Reason   string
}

// Renderer renders Liquid templates with a parsed-template cache.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the platform's custom filters
// registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// Fallback value: {{ name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// Capitalize first letter: {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// Truncate with ellipsis: {{ bio | truncate: 50 }}
	r.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	// URL encode: {{ email | urlencode }}
	r.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// HTML escape: {{ user_input | escape }}
	r.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	// Extract domain from email: {{ email | email_domain }}
	r.engine.RegisterFilter("email_domain", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	})

	// Mask email for privacy: {{ email | mask_email }}
	r.engine.RegisterFilter("mask_email", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) != 2 {
			return email
		}
		local := parts[0]
		if len(local) <= 2 {
			return local + "***@" + parts[1]
		}
		return local[:2] + "***@" + parts[1]
	})
}

// Render processes a template with the given context. cacheKey enables the
// parsed-template cache for repeated renders of the same content; pass ""
// to skip caching (one-off previews).
func (r *Renderer) Render(cacheKey, templateStr string, ctx map[string]interface{}) Result {
	if cacheKey != "" {
		if cached, ok := r.cache.Load(cacheKey); ok {
			return r.renderParsed(cached.(*liquid.Template), templateStr, ctx)
		}
	}

	tpl, err := r.engine.ParseString(templateStr)
	if err != nil {
		return Result{Output: templateStr, Degraded: true, Reason: fmt.Sprintf("parse: %v", err)}
	}
	if cacheKey != "" {
		r.cache.Store(cacheKey, tpl)
	}
	return r.renderParsed(tpl, templateStr, ctx)
}

func (r *Renderer) renderParsed(tpl *liquid.Template, original string, ctx map[string]interface{}) Result {
	out, err := tpl.RenderString(ctx)
	if err != nil {
		return Result{Output: original, Degraded: true, Reason: fmt.Sprintf("render: %v", err)}
	}
	return Result{Output: out}
}

// Validate compiles a template string and returns any syntax error. Used by
// the template CRUD path to reject broken templates before they reach
// dispatch.
func (r *Renderer) Validate(templateStr string) error {
	_, err := r.engine.ParseString(templateStr)
	return err
}

// InvalidateCache removes a cached parsed template, e.g. after an edit bumps
// the template version.
func (r *Renderer) InvalidateCache(cacheKey string) {
	r.cache.Delete(cacheKey)
}
