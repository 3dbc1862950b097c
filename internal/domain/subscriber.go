package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubscriberStatus enumerates the lifecycle states of a subscriber.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
)

// Subscriber is a single recipient identity. Email is the natural key and
// is stored lower-cased.
type Subscriber struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	Email          string           `json:"email" db:"email"`
	Name           string           `json:"name" db:"name"`
	Status         SubscriberStatus `json:"status" db:"status"`
	Tags           []string         `json:"tags" db:"tags"`
	CustomFields   map[string]any   `json:"custom_fields" db:"custom_fields"`
	LastActivityAt *time.Time       `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the subscriber's name, falling back to the local part
// of the email address when no name is set.
func (s *Subscriber) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if at := strings.Index(s.Email, "@"); at > 0 {
		return s.Email[:at]
	}
	return s.Email
}

// HasTag reports whether the subscriber carries the given tag.
func (s *Subscriber) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeEmail canonicalizes an email address for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
