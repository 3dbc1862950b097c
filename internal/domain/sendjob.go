package domain

import (
	"time"

	"github.com/google/uuid"
)

// SendJobStatus enumerates the delivery states of a single queued send.
type SendJobStatus string

const (
	JobPending SendJobStatus = "pending"
	JobClaimed SendJobStatus = "claimed"
	JobSent    SendJobStatus = "sent"
	JobFailed  SendJobStatus = "failed"
	JobBounced SendJobStatus = "bounced"
)

// MaxSendAttempts is the per-job retry ceiling. A job that fails this many
// times stays failed permanently.
const MaxSendAttempts = 3

// SendJob is one queued/attempted delivery of one campaign to one
// subscriber. The (CampaignID, SubscriberID) pair is unique and immutable;
// status, attempts, and error fields are mutable.
type SendJob struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	CampaignID        uuid.UUID     `json:"campaign_id" db:"campaign_id"`
	SubscriberID      uuid.UUID     `json:"subscriber_id" db:"subscriber_id"`
	Status            SendJobStatus `json:"status" db:"status"`
	Attempts          int           `json:"attempts" db:"attempts"`
	LastError         string        `json:"last_error" db:"last_error"`
	ProviderMessageID string        `json:"provider_message_id" db:"provider_message_id"`
	Position          int           `json:"position" db:"position"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// Delivered reports whether the job reached a state that counts toward the
// campaign's sent total (an attempt was fully processed, whatever the
// outcome).
func (j *SendJob) Delivered() bool {
	return j.Status == JobSent || j.Status == JobFailed || j.Status == JobBounced
}
