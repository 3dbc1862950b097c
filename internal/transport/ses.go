package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
)

// SESTransport delivers mail through AWS SES (SDK v2).
type SESTransport struct {
	client *sesv2.Client
	log    *logger.Logger
}

// NewSESTransport creates an SES transport. With empty credentials the
// default AWS credential chain is used (IAM role in deployment).
func NewSESTransport(ctx context.Context, cfg config.SESConfig) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return &SESTransport{
		client: sesv2.NewFromConfig(awsCfg),
		log:    logger.Component("ses"),
	}, nil
}

// Send delivers one message through SES simple content.
func (t *SESTransport) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if v, ok := msg.Headers["List-Unsubscribe"]; ok {
		input.Content.Simple.Headers = append(input.Content.Simple.Headers,
			types.MessageHeader{Name: aws.String("List-Unsubscribe"), Value: aws.String(v)})
	}
	if v, ok := msg.Headers["List-Unsubscribe-Post"]; ok {
		input.Content.Simple.Headers = append(input.Content.Simple.Headers,
			types.MessageHeader{Name: aws.String("List-Unsubscribe-Post"), Value: aws.String(v)})
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		t.log.Warn("ses send failed", "to", msg.To, "error", err)
		return &domain.SendResult{
			Success:          false,
			PermanentFailure: isPermanentSESError(err),
			Error:            err,
		}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	t.log.Debug("ses delivery ok", "to", msg.To, "message_id", messageID)
	return &domain.SendResult{Success: true, MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

// isPermanentSESError reports whether an SES rejection is a hard failure
// that should feed the suppression list.
func isPermanentSESError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "MessageRejected") ||
		strings.Contains(s, "MailFromDomainNotVerified") ||
		strings.Contains(s, "AccountSuspended")
}
