package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/embermail/embermail/internal/config"
	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
	"github.com/google/uuid"
)

// SMTPTransport delivers mail through an SMTP relay. The connection is
// established per send: campaign pacing keeps throughput low enough that
// connection reuse is not worth the stale-session handling.
type SMTPTransport struct {
	cfg config.SMTPConfig
	log *logger.Logger
}

// NewSMTPTransport creates an SMTP transport from immutable config.
func NewSMTPTransport(cfg config.SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp: host is required")
	}
	if _, err := buildAuth(cfg); err != nil {
		return nil, err
	}
	return &SMTPTransport{cfg: cfg, log: logger.Component("smtp")}, nil
}

// Send delivers one message. The context deadline bounds the whole exchange;
// a 5xx reply on RCPT or DATA is reported as a permanent failure.
func (t *SMTPTransport) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.cfg.Timeout())
	}

	client, err := t.dial(deadline)
	if err != nil {
		return &domain.SendResult{Success: false, Error: err}, nil
	}
	defer client.Close()

	if !t.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
				return &domain.SendResult{Success: false, Error: fmt.Errorf("starttls: %w", err)}, nil
			}
		}
	}

	auth, _ := buildAuth(t.cfg)
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return &domain.SendResult{Success: false, Error: fmt.Errorf("auth: %w", err)}, nil
		}
	}

	if err := client.Mail(msg.FromEmail); err != nil {
		return &domain.SendResult{Success: false, Error: fmt.Errorf("mail from: %w", err)}, nil
	}
	if err := client.Rcpt(msg.To); err != nil {
		return &domain.SendResult{
			Success:          false,
			PermanentFailure: isPermanentSMTPError(err),
			Error:            fmt.Errorf("rcpt to: %w", err),
		}, nil
	}

	w, err := client.Data()
	if err != nil {
		return &domain.SendResult{Success: false, Error: fmt.Errorf("data: %w", err)}, nil
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), t.cfg.Host)
	if _, err := w.Write([]byte(buildMIME(msg, messageID, t.cfg.Host))); err != nil {
		w.Close()
		return &domain.SendResult{Success: false, Error: fmt.Errorf("write body: %w", err)}, nil
	}
	if err := w.Close(); err != nil {
		return &domain.SendResult{
			Success:          false,
			PermanentFailure: isPermanentSMTPError(err),
			Error:            fmt.Errorf("close data: %w", err),
		}, nil
	}
	client.Quit()

	t.log.Debug("smtp delivery ok", "to", msg.To, "message_id", messageID)
	return &domain.SendResult{Success: true, MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

func (t *SMTPTransport) dial(deadline time.Time) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	dialer := &net.Dialer{Deadline: deadline}

	var conn net.Conn
	var err error
	if t.cfg.UseTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: t.cfg.Host})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	return client, nil
}

func buildAuth(cfg config.SMTPConfig) (smtp.Auth, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.AuthType)) {
	case "", "plain":
		if cfg.Username == "" {
			return nil, nil
		}
		return smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host), nil
	case "login":
		return &loginAuth{username: cfg.Username, password: cfg.Password, host: cfg.Host}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("smtp: unsupported auth type %q", cfg.AuthType)
	}
}

// loginAuth implements the LOGIN SMTP auth mechanism.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("unexpected server name %s", server.Name)
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch strings.ToLower(string(fromServer)) {
		case "username:", "user:":
			return []byte(a.username), nil
		case "password:", "pass:":
			return []byte(a.password), nil
		default:
			return nil, fmt.Errorf("unexpected login challenge: %s", string(fromServer))
		}
	}
	return nil, nil
}

// buildMIME assembles the wire message. Text-only and HTML-only messages
// get a single part; both together get multipart/alternative.
func buildMIME(msg *domain.EmailMessage, messageID, host string) string {
	var b strings.Builder
	from := mail.Address{Name: msg.FromName, Address: msg.FromEmail}
	to := mail.Address{Name: msg.ToName, Address: msg.To}

	b.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to.String()))
	if msg.ReplyTo != "" {
		b.WriteString(fmt.Sprintf("Reply-To: %s\r\n", msg.ReplyTo))
	}
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString(fmt.Sprintf("Message-ID: <%s>\r\n", messageID))
	b.WriteString("MIME-Version: 1.0\r\n")
	for k, v := range msg.Headers {
		if strings.EqualFold(k, "Content-Type") {
			continue
		}
		b.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}

	switch {
	case msg.HTML != "" && msg.Text != "":
		boundary := "alt-" + uuid.New().String()
		b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary))
		b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
		b.WriteString("\r\n\r\n")
		b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
		b.WriteString("\r\n\r\n")
		b.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	case msg.HTML != "":
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
		b.WriteString("\r\n")
	default:
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
		b.WriteString("\r\n")
	}
	return b.String()
}

// isPermanentSMTPError reports whether an SMTP error is a 5xx hard failure.
func isPermanentSMTPError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for i := 0; i+2 < len(s); i++ {
		if s[i] == '5' && s[i+1] >= '0' && s[i+1] <= '9' && s[i+2] >= '0' && s[i+2] <= '9' {
			// match only at a reply-code position: start of string or after a space/colon
			if i == 0 || s[i-1] == ' ' || s[i-1] == ':' {
				return true
			}
		}
	}
	return false
}
