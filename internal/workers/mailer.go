package workers

import (
	"context"

	"github.com/rs/zerolog"
)

// Email is a rendered plain-text message
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers rendered emails
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer writes emails to the log instead of delivering them
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, email Email) error {
	m.logger.Info().
		Str("to", email.To).
		Str("subject", email.Subject).
		Str("body", email.Body).
		Msg("Email sent")
	return nil
}
