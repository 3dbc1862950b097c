package dispatch

import "errors"

// Sentinel errors for the dispatch engine.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
)
