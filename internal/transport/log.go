package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
)

// LogTransport logs deliveries instead of sending them. Used by the
// in-memory development mode.
type LogTransport struct {
	log *logger.Logger
}

// NewLogTransport creates a transport that only logs.
func NewLogTransport() *LogTransport {
	return &LogTransport{log: logger.Component("transport.log")}
}

func (t *LogTransport) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	t.log.Info("delivery (dry run)",
		"to", logger.RedactEmail(msg.To),
		"subject", msg.Subject,
	)
	return &domain.SendResult{
		Success:   true,
		MessageID: uuid.NewString(),
		SentAt:    time.Now().UTC(),
	}, nil
}
