package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/workflow"
)

// WorkflowStore persists workflow instances. The per-node flow state is a
// single JSONB document so one UPDATE is enough to checkpoint an advance.
type WorkflowStore struct{ db *sql.DB }

// NewWorkflowStore creates a Postgres-backed workflow store.
func NewWorkflowStore(db *sql.DB) *WorkflowStore { return &WorkflowStore{db: db} }

const instanceColumns = `id, flow_id, subscriber_id, current_node, state, started_at, updated_at, completed_at`

func scanInstance(row interface{ Scan(...any) error }) (*domain.WorkflowInstance, error) {
	inst := &domain.WorkflowInstance{}
	var state []byte
	err := row.Scan(&inst.ID, &inst.FlowID, &inst.SubscriberID, &inst.CurrentNode,
		&state, &inst.StartedAt, &inst.UpdatedAt, &inst.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &inst.State); err != nil {
			return nil, fmt.Errorf("decode flow state: %w", err)
		}
	}
	return inst, nil
}

func (s *WorkflowStore) GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

func (s *WorkflowStore) FindInstance(ctx context.Context, flowID string, subscriberID uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE flow_id = $1 AND subscriber_id = $2`,
		flowID, subscriberID))
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find instance: %w", err)
	}
	return inst, nil
}

func (s *WorkflowStore) CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	state, err := json.Marshal(inst.State)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, flow_id, subscriber_id, current_node, state, started_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inst.ID, inst.FlowID, inst.SubscriberID, inst.CurrentNode, state,
		inst.StartedAt, inst.UpdatedAt, inst.CompletedAt)
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

func (s *WorkflowStore) UpdateInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	state, err := json.Marshal(inst.State)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_node = $2, state = $3, updated_at = $4, completed_at = $5
		WHERE id = $1
	`, inst.ID, inst.CurrentNode, state, inst.UpdatedAt, inst.CompletedAt)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

// ListWaiting returns parked instances, oldest checkpoint first, so a slow
// tick still reaches every instance eventually.
func (s *WorkflowStore) ListWaiting(ctx context.Context, limit int) ([]domain.WorkflowInstance, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM workflow_instances
		WHERE completed_at IS NULL AND state ? 'wait'
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// EventRepo answers event existence checks for workflow waits and
// conditions.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event checker.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) HasEvent(ctx context.Context, subscriberID, campaignID uuid.UUID, typ domain.EventType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE subscriber_id = $1 AND campaign_id = $2 AND type = $3
		)
	`, subscriberID, campaignID, typ).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has event: %w", err)
	}
	return exists, nil
}
