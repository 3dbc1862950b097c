package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCancelled CampaignStatus = "cancelled"
)

// DefaultSendRate is the pacing rate (emails/second) applied when a campaign
// does not specify one.
const DefaultSendRate = 10.0

// ABVariant is one weighted subject alternative in a campaign's A/B config.
type ABVariant struct {
	Subject string `json:"subject"`
	Weight  int    `json:"weight"`
}

// Campaign references exactly one template by id; later template edits
// affect jobs that have not yet been drained.
type Campaign struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	TemplateID    uuid.UUID      `json:"template_id" db:"template_id"`
	FromName      string         `json:"from_name" db:"from_name"`
	FromEmail     string         `json:"from_email" db:"from_email"`
	SegmentTags   []string       `json:"segment_tags" db:"segment_tags"`
	ScheduledAt   *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SendRate      float64        `json:"send_rate" db:"send_rate"`
	ABVariants    []ABVariant    `json:"ab_variants,omitempty" db:"ab_variants"`
	Status        CampaignStatus `json:"status" db:"status"`
	StartedAt     *time.Time     `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at" db:"completed_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignCancelled
}

// EffectiveSendRate returns the campaign's pacing rate, applying the default
// when unset or invalid.
func (c *Campaign) EffectiveSendRate() float64 {
	if c.SendRate <= 0 {
		return DefaultSendRate
	}
	return c.SendRate
}

// CanStart reports whether the campaign may transition into sending.
func (c *Campaign) CanStart() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// CanPause reports whether the campaign may be paused.
func (c *Campaign) CanPause() bool {
	return c.Status == CampaignSending
}

// CanResume reports whether the campaign may resume draining.
func (c *Campaign) CanResume() bool {
	return c.Status == CampaignPaused
}

// CanCancel reports whether the campaign may be cancelled.
func (c *Campaign) CanCancel() bool {
	return c.Status == CampaignSending || c.Status == CampaignPaused ||
		c.Status == CampaignScheduled || c.Status == CampaignDraft
}

// CampaignMetrics is a derived aggregate keyed 1:1 with a campaign. It is
// safe to drop and recompute from send jobs and events at any time.
type CampaignMetrics struct {
	CampaignID   uuid.UUID `json:"campaign_id" db:"campaign_id"`
	Sent         int       `json:"sent" db:"sent"`
	Opened       int       `json:"opened" db:"opened"`
	Clicked      int       `json:"clicked" db:"clicked"`
	Unsubscribed int       `json:"unsubscribed" db:"unsubscribed"`
	Bounced      int       `json:"bounced" db:"bounced"`
	ComputedAt   time.Time `json:"computed_at" db:"computed_at"`
}
