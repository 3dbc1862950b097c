package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowInstance is a per-subscriber cursor through a multi-step journey.
// One instance exists per (flow, subscriber) pair.
type WorkflowInstance struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	FlowID       string     `json:"flow_id" db:"flow_id"`
	SubscriberID uuid.UUID  `json:"subscriber_id" db:"subscriber_id"`
	CurrentNode  string     `json:"current_node" db:"current_node"`
	State        FlowState  `json:"state" db:"state"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at" db:"completed_at"`
}

// Completed reports whether the instance has reached the end of its flow.
func (w *WorkflowInstance) Completed() bool {
	return w.CompletedAt != nil
}

// FlowState is the typed per-instance state bag. Visited is an append-only
// audit trail; the pointer fields hold the most recent outcome of their node
// type and are nil until that node type has executed.
type FlowState struct {
	Visited       []VisitedNode    `json:"visited_nodes"`
	LastSend      *SendRecord      `json:"last_send,omitempty"`
	Wait          *WaitState       `json:"wait,omitempty"`
	LastCondition *ConditionRecord `json:"last_condition,omitempty"`
}

// VisitedNode records one node execution in the audit trail.
type VisitedNode struct {
	NodeID    string    `json:"node_id"`
	NodeType  string    `json:"node_type"`
	VisitedAt time.Time `json:"visited_at"`
}

// SendRecord captures the outcome of a workflow send node.
type SendRecord struct {
	TemplateID        uuid.UUID `json:"template_id"`
	Status            string    `json:"status"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// WaitState holds an in-progress wait. For duration waits Until is set; for
// event waits Event is set (and Until may additionally cap the wait).
type WaitState struct {
	Until *time.Time      `json:"until,omitempty"`
	Event *EventPredicate `json:"event,omitempty"`
}

// EventPredicate names an awaited engagement event.
type EventPredicate struct {
	Type       EventType `json:"type"`
	CampaignID uuid.UUID `json:"campaign_id"`
}

// ConditionRecord captures an evaluated condition node for auditability.
type ConditionRecord struct {
	Predicate   string    `json:"predicate"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	Result      bool      `json:"result"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
