package workers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"text/template"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/authsession/internal/metrics"
	"github.com/branchd-dev/authsession/internal/tasks"
)

const (
	verificationSubject  = "Confirm your email address"
	passwordResetSubject = "Reset your password"

	verificationTemplate = `Hello {{.Username}},

Please confirm your email address by opening the link below:

{{.Link}}
`

	passwordResetTemplate = `Hello {{.Username}},

A password reset was requested for your account. Open the link below to choose a new password:

{{.Link}}

This link expires soon. If you did not request a reset, you can ignore this email.
`
)

type emailData struct {
	Username string
	Link     string
}

// EmailHandler renders and sends the emails queued by the API
type EmailHandler struct {
	mailer       Mailer
	frontendURL  string
	verification *template.Template
	reset        *template.Template
	logger       zerolog.Logger
}

// NewEmailHandler creates a handler whose links point at frontendURL
func NewEmailHandler(mailer Mailer, frontendURL string, logger zerolog.Logger) (*EmailHandler, error) {
	verification, err := template.New("verification").Parse(verificationTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse verification template: %w", err)
	}
	reset, err := template.New("password_reset").Parse(passwordResetTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse password reset template: %w", err)
	}

	return &EmailHandler{
		mailer:       mailer,
		frontendURL:  frontendURL,
		verification: verification,
		reset:        reset,
		logger:       logger,
	}, nil
}

// Register adds the email task handlers to mux
func (h *EmailHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeSendVerificationEmail, h.HandleVerificationEmail)
	mux.HandleFunc(tasks.TypeSendPasswordResetEmail, h.HandlePasswordResetEmail)
}

func (h *EmailHandler) HandleVerificationEmail(ctx context.Context, t *asynq.Task) error {
	return h.send(ctx, t, "/verify-email", verificationSubject, h.verification)
}

func (h *EmailHandler) HandlePasswordResetEmail(ctx context.Context, t *asynq.Task) error {
	return h.send(ctx, t, "/reset-password", passwordResetSubject, h.reset)
}

func (h *EmailHandler) send(ctx context.Context, t *asynq.Task, path, subject string, tmpl *template.Template) error {
	payload, err := tasks.ParseEmailPayload(t)
	if err != nil {
		metrics.EmailsSentTotal.WithLabelValues(t.Type(), metrics.OutcomeFailure).Inc()
		h.logger.Error().Err(err).Str("task_type", t.Type()).Msg("Invalid email task payload")
		return err
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, emailData{
		Username: payload.Username,
		Link:     h.frontendURL + path + "?token=" + url.QueryEscape(payload.Token),
	}); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(t.Type(), metrics.OutcomeFailure).Inc()
		return fmt.Errorf("failed to render email: %w", err)
	}

	if err := h.mailer.Send(ctx, Email{To: payload.Email, Subject: subject, Body: body.String()}); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(t.Type(), metrics.OutcomeFailure).Inc()
		h.logger.Warn().Err(err).Str("user_id", payload.UserID).Str("task_type", t.Type()).Msg("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	metrics.EmailsSentTotal.WithLabelValues(t.Type(), metrics.OutcomeSuccess).Inc()
	h.logger.Info().Str("user_id", payload.UserID).Str("task_type", t.Type()).Msg("Email delivered")
	return nil
}
