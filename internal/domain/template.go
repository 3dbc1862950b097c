package domain

import (
	"time"

	"github.com/google/uuid"
)

// Template is a versioned content unit. Every edit bumps Version; no
// historical versions are retained beyond the counter.
type Template struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	HTML      string    `json:"html" db:"html"`
	Text      string    `json:"text" db:"text"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
