package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/platform/env"
)

// Sender is the offline fallback path: users known offline at fan-out time
// get a notification here instead of a live push.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender delivers over plain SMTP with optional auth.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
	Host     string
}

func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.From, to, subject, body))
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return smtp.SendMail(s.Addr, auth, s.From, []string{to}, msg)
}

// LogSender records the notification instead of delivering it. Used when
// SMTP is unconfigured (development, tests).
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, _ string) error {
	s.Logger.Info("offline notification (email disabled)",
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}

// FromEnv selects the SMTP sender when SMTP_HOST is configured, otherwise
// the log-only fallback.
func FromEnv(logger *zap.Logger) Sender {
	host := env.String("SMTP_HOST", "")
	if host == "" {
		return &LogSender{Logger: logger}
	}
	port := env.Int("SMTP_PORT", 587)
	return &SMTPSender{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Host:     host,
		From:     env.String("SMTP_FROM", "noreply@journeytrack.local"),
		Username: env.String("SMTP_USERNAME", ""),
		Password: env.String("SMTP_PASSWORD", ""),
	}
}
