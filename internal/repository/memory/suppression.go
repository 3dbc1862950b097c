package memory

import (
	"context"
	"sort"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/suppression"
)

// SuppressionRepo implements suppression.Repository. The first entry for an
// email wins; later adds return the existing entry unchanged.
type SuppressionRepo struct{ db *DB }

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, ok := r.db.suppressed[email]
	return ok, nil
}

func (r *SuppressionRepo) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	entry, ok := r.db.suppressed[email]
	if !ok {
		return nil, suppression.ErrNotFound
	}
	out := *entry
	return &out, nil
}

func (r *SuppressionRepo) Add(ctx context.Context, entry *domain.Suppression) (*domain.Suppression, bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if existing, ok := r.db.suppressed[entry.Email]; ok {
		out := *existing
		return &out, false, nil
	}
	cp := *entry
	r.db.suppressed[entry.Email] = &cp
	return entry, true, nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.suppressed[email]; !ok {
		return suppression.ErrNotFound
	}
	delete(r.db.suppressed, email)
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, limit, offset int) ([]domain.Suppression, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var all []domain.Suppression
	for _, entry := range r.db.suppressed {
		all = append(all, *entry)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if limit <= 0 {
		limit = 100
	}
	return paginate(all, limit, offset), total, nil
}
