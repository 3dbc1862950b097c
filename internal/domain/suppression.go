package domain

import "time"

// Common suppression reasons. Reason is free text; these are the values the
// platform itself writes.
const (
	SuppressReasonBouncePermanent = "bounce_permanent"
	SuppressReasonUnsubscribe     = "unsubscribe"
	SuppressReasonComplaint       = "complaint"
	SuppressReasonManual          = "manual"
)

// Suppression is a stop-list entry. Its presence is binary and
// authoritative: no send job may ever be created for a suppressed email,
// regardless of subscriber status.
type Suppression struct {
	Email     string    `json:"email" db:"email"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
