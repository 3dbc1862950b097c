package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/service/subscriber"
)

// SubscriberRepo implements subscriber.Repository plus the tracking
// handler's subscriber mutations.
type SubscriberRepo struct{ db *DB }

func (r *SubscriberRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.subscribers[id]
	if !ok {
		return nil, subscriber.ErrNotFound
	}
	return copySubscriber(s), nil
}

func (r *SubscriberRepo) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, s := range r.db.subscribers {
		if s.Email == email {
			return copySubscriber(s), nil
		}
	}
	return nil, subscriber.ErrNotFound
}

func (r *SubscriberRepo) List(ctx context.Context, filter subscriber.ListFilter) ([]domain.Subscriber, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var all []domain.Subscriber
	for _, s := range r.db.subscribers {
		if filter.Status != "" && string(s.Status) != filter.Status {
			continue
		}
		if filter.Tag != "" && !s.HasTag(filter.Tag) {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(s.Email), needle) &&
				!strings.Contains(strings.ToLower(s.Name), needle) {
				continue
			}
		}
		all = append(all, *copySubscriber(s))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })

	total := len(all)
	return paginate(all, filter.Limit, filter.Offset), total, nil
}

func (r *SubscriberRepo) Create(ctx context.Context, s *domain.Subscriber) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.subscribers {
		if existing.Email == s.Email {
			return subscriber.ErrDuplicateEmail
		}
	}
	r.db.subscribers[s.ID] = copySubscriber(s)
	return nil
}

func (r *SubscriberRepo) Update(ctx context.Context, id uuid.UUID, u subscriber.UpdateFields) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.subscribers[id]
	if !ok {
		return subscriber.ErrNotFound
	}
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Tags != nil {
		s.Tags = append([]string(nil), (*u.Tags)...)
	}
	if u.CustomFields != nil {
		s.CustomFields = *u.CustomFields
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SubscriberRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.SubscriberStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.subscribers[id]
	if !ok {
		return subscriber.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SubscriberRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.subscribers[id]; !ok {
		return subscriber.ErrNotFound
	}
	delete(r.db.subscribers, id)
	return nil
}

// MarkUnsubscribed flips the subscriber to unsubscribed for the tracking
// handler.
func (r *SubscriberRepo) MarkUnsubscribed(ctx context.Context, id uuid.UUID) error {
	return r.SetStatus(ctx, id, domain.SubscriberUnsubscribed)
}

// TouchActivity stamps last_activity_at.
func (r *SubscriberRepo) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.subscribers[id]
	if !ok {
		return subscriber.ErrNotFound
	}
	s.LastActivityAt = &at
	return nil
}
