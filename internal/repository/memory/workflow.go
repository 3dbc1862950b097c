package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/workflow"
)

// WorkflowStore implements the workflow engine's persistence contract.
type WorkflowStore struct{ db *DB }

func copyInstance(inst *domain.WorkflowInstance) *domain.WorkflowInstance {
	out := *inst
	out.State.Visited = append([]domain.VisitedNode(nil), inst.State.Visited...)
	if inst.State.LastSend != nil {
		send := *inst.State.LastSend
		out.State.LastSend = &send
	}
	if inst.State.Wait != nil {
		wait := *inst.State.Wait
		out.State.Wait = &wait
	}
	if inst.State.LastCondition != nil {
		cond := *inst.State.LastCondition
		out.State.LastCondition = &cond
	}
	return &out
}

func (s *WorkflowStore) GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	inst, ok := s.db.instances[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return copyInstance(inst), nil
}

func (s *WorkflowStore) FindInstance(ctx context.Context, flowID string, subscriberID uuid.UUID) (*domain.WorkflowInstance, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, inst := range s.db.instances {
		if inst.FlowID == flowID && inst.SubscriberID == subscriberID {
			return copyInstance(inst), nil
		}
	}
	return nil, workflow.ErrNotFound
}

func (s *WorkflowStore) CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *WorkflowStore) UpdateInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.instances[inst.ID]; !ok {
		return workflow.ErrNotFound
	}
	s.db.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *WorkflowStore) ListWaiting(ctx context.Context, limit int) ([]domain.WorkflowInstance, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.WorkflowInstance
	for _, inst := range s.db.instances {
		if inst.CompletedAt == nil && inst.State.Wait != nil {
			out = append(out, *copyInstance(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
