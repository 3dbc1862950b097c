package domain

import "time"

// EmailMessage is a fully rendered email ready for transport delivery.
type EmailMessage struct {
	To          string
	ToName      string
	FromName    string
	FromEmail   string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Headers     map[string]string
}

// SendResult is the outcome of one transport delivery attempt.
// PermanentFailure marks hard rejections (bad mailbox, policy block) that
// must feed the suppression list rather than be retried.
type SendResult struct {
	Success          bool
	MessageID        string
	PermanentFailure bool
	Error            error
	SentAt           time.Time
}
