package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/service/template"
)

// TemplateRepo stores templates with the same version-bump-on-update
// behavior as the Postgres implementation.
type TemplateRepo struct{ db *DB }

func (r *TemplateRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.templates[id]
	if !ok {
		return nil, template.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (r *TemplateRepo) List(ctx context.Context, limit, offset int) ([]domain.Template, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var all []domain.Template
	for _, t := range r.db.templates {
		all = append(all, *t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	total := len(all)
	return paginate(all, limit, offset), total, nil
}

func (r *TemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *t
	r.db.templates[t.ID] = &cp
	return nil
}

func (r *TemplateRepo) Update(ctx context.Context, t *domain.Template) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	existing, ok := r.db.templates[t.ID]
	if !ok {
		return template.ErrNotFound
	}
	existing.Name = t.Name
	existing.Subject = t.Subject
	existing.HTML = t.HTML
	existing.Text = t.Text
	existing.Version++
	existing.UpdatedAt = time.Now().UTC()
	t.Version = existing.Version
	return nil
}

func (r *TemplateRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.templates[id]; !ok {
		return template.ErrNotFound
	}
	for _, c := range r.db.campaigns {
		if c.TemplateID == id {
			return template.ErrInUse
		}
	}
	delete(r.db.templates, id)
	return nil
}
