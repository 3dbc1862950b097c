package subscriber

import "errors"

// Sentinel errors for the subscriber service layer.
var (
	ErrNotFound       = errors.New("subscriber not found")
	ErrDuplicateEmail = errors.New("subscriber email already exists")
	ErrInvalidEmail   = errors.New("invalid email address")
)
