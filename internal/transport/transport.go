// Package transport delivers rendered emails through an outbound relay.
//
// Transports are constructed from immutable config at startup and never
// reconfigured at runtime. A SendResult with PermanentFailure set marks a
// hard rejection that should feed the suppression list.
package transport

import (
	"context"

	"github.com/embermail/embermail/internal/domain"
)

// Transport is the delivery contract consumed by the dispatch engine.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}
