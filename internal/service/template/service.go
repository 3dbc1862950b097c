package template

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/render"
)

// Service provides template business logic.
type Service struct {
	repo     Repository
	renderer *render.Renderer
}

// NewService creates a template service.
func NewService(repo Repository, renderer *render.Renderer) *Service {
	return &Service{repo: repo, renderer: renderer}
}

// CreateInput holds the fields accepted when creating a template.
type CreateInput struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.Template, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Template, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, fmt.Errorf("template subject is required")
	}
	if err := s.validateSyntax(input.Subject, input.HTML, input.Text); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &domain.Template{
		ID:        uuid.New(),
		Name:      input.Name,
		Subject:   input.Subject,
		HTML:      input.HTML,
		Text:      input.Text,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update rewrites the template content. The version bump invalidates the
// renderer's parsed cache for the old content.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input CreateInput) (*domain.Template, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, fmt.Errorf("template subject is required")
	}
	if err := s.validateSyntax(input.Subject, input.HTML, input.Text); err != nil {
		return nil, err
	}

	t.Name = input.Name
	t.Subject = input.Subject
	t.HTML = input.HTML
	t.Text = input.Text
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Preview renders the template against a sample subscriber so an operator
// can check personalization without sending. Unknown variables degrade to
// the raw template text rather than failing.
type Preview struct {
	Subject         string `json:"subject"`
	HTML            string `json:"html"`
	Text            string `json:"text"`
	Degraded        bool   `json:"degraded"`
	DegradedReasons string `json:"degraded_reasons,omitempty"`
}

func (s *Service) Preview(ctx context.Context, id uuid.UUID, sample *domain.Subscriber) (*Preview, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sample == nil {
		sample = &domain.Subscriber{
			Email: "sample@example.com",
			Name:  "Sample Subscriber",
		}
	}

	rctx := render.SubscriberContext(sample)
	subject := s.renderer.Render("", t.Subject, rctx)
	html := s.renderer.Render("", t.HTML, rctx)
	text := s.renderer.Render("", t.Text, rctx)

	p := &Preview{Subject: subject.Output, HTML: html.Output, Text: text.Output}
	var reasons []string
	for _, r := range []render.Result{subject, html, text} {
		if r.Degraded {
			p.Degraded = true
			reasons = append(reasons, r.Reason)
		}
	}
	p.DegradedReasons = strings.Join(reasons, "; ")
	return p, nil
}

func (s *Service) validateSyntax(parts ...string) error {
	for _, part := range parts {
		if part == "" {
			continue
		}
		if err := s.renderer.Validate(part); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
		}
	}
	return nil
}
