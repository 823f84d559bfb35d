package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TypeSendVerificationEmail  = "email:verification"
	TypeSendPasswordResetEmail = "email:password_reset"
)

// Queue names
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

const (
	emailMaxRetry = 5
	emailTimeout  = 30 * time.Second
)

// EmailPayload is the payload shared by the email tasks
type EmailPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Token    string `json:"token"`
}

// NewVerificationEmailTask creates a task that sends the email verification link
func NewVerificationEmailTask(p EmailPayload) (*asynq.Task, error) {
	return newEmailTask(TypeSendVerificationEmail, p)
}

// NewPasswordResetEmailTask creates a task that sends the password recovery link
func NewPasswordResetEmailTask(p EmailPayload) (*asynq.Task, error) {
	return newEmailTask(TypeSendPasswordResetEmail, p)
}

func newEmailTask(typename string, p EmailPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(typename, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(emailMaxRetry),
		asynq.Timeout(emailTimeout),
	), nil
}

// ParseEmailPayload parses task payload from Asynq task
func ParseEmailPayload(task *asynq.Task) (EmailPayload, error) {
	var payload EmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.Email == "" || payload.Token == "" {
		return payload, fmt.Errorf("payload missing email or token: %w", asynq.SkipRetry)
	}
	return payload, nil
}
