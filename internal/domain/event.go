package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the tracked engagement event kinds.
type EventType string

const (
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventUnsubscribe EventType = "unsubscribe"
	EventBounce      EventType = "bounce"
)

// Event is an append-only engagement fact. Events are never updated or
// deleted except by retention pruning.
type Event struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	SubscriberID uuid.UUID      `json:"subscriber_id" db:"subscriber_id"`
	CampaignID   uuid.UUID      `json:"campaign_id" db:"campaign_id"`
	Type         EventType      `json:"type" db:"type"`
	Payload      map[string]any `json:"payload,omitempty" db:"payload"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}
