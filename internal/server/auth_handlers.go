package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/branchd-dev/authsession/internal/auth"
	"github.com/branchd-dev/authsession/internal/metrics"
	"github.com/branchd-dev/authsession/internal/models"
	"github.com/branchd-dev/authsession/internal/tasks"
)

// Response messages
const (
	msgInvalidJSON          = "Invalid JSON data"
	msgInternalError        = "Internal server error"
	msgSignupRequired       = "Username, email and password are required"
	msgPasswordTooShort     = "Password must be at least 6 characters long"
	msgInvalidEmail         = "Invalid email format"
	msgUsernameTaken        = "This username is already taken"
	msgEmailTaken           = "This email is already in use"
	msgUserCreated          = "User created successfully"
	msgLoginRequired        = "Login and password are required"
	msgInvalidCredentials   = "Invalid username or password"
	msgAuthenticated        = "Authentication successful"
	msgLoggedOut            = "Logged out successfully"
	msgNoUserLoggedIn       = "No user logged in"
	msgUserNotLoggedIn      = "User not logged in"
	msgTokenRequired        = "Token required"
	msgInvalidToken         = "Invalid or expired token"
	msgEmailVerified        = "Email verified successfully"
	msgEmailRequired        = "Email required"
	msgNoUserWithEmail      = "No user found with this email"
	msgRecoveryEmailSent    = "Password recovery email sent"
	msgRecoveryEmailFailed  = "Error while sending the email"
	msgResetRequired        = "Token and password are required"
	msgPasswordResetSuccess = "Password has been reset"
)

// SignupRequest represents a signup request. Unknown fields are ignored.
type SignupRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginRequest represents a login request. Login is a username or an email.
type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// AuthResponse is returned by login and signup
type AuthResponse struct {
	Success               bool        `json:"success"`
	Message               string      `json:"message"`
	User                  *UserDetail `json:"user"`
	Token                 string      `json:"token"`
	EmailVerificationSent *bool       `json:"email_verification_sent,omitempty"`
}

func newUserDetail(user *models.User, withCreatedAt bool) *UserDetail {
	detail := &UserDetail{
		ID:         user.ID,
		Username:   user.Username,
		Email:      user.Email,
		IsVerified: user.IsVerified,
	}
	if withCreatedAt {
		createdAt := user.CreatedAt.UTC()
		detail.CreatedAt = &createdAt
	}
	return detail
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": status < http.StatusBadRequest, "message": message})
}

// bindRequest decodes the JSON body into req and validates it. On failure the
// response is written and false is returned. messages maps a validation tag
// to its response message; tags are checked in the order given by priority.
func (s *Server) bindRequest(c *gin.Context, req any, priority []string, messages map[string]string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondMessage(c, http.StatusBadRequest, msgInvalidJSON)
		return false
	}

	err := s.validator.Struct(req)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, tag := range priority {
			for _, fe := range verrs {
				if fe.Tag() == tag {
					respondMessage(c, http.StatusBadRequest, messages[tag])
					return false
				}
			}
		}
	}

	respondMessage(c, http.StatusBadRequest, messages["required"])
	return false
}

// issueSession signs a token for user and mirrors it in the session cookie
func (s *Server) issueSession(c *gin.Context, user *models.User) (string, error) {
	token, claims, err := s.tokens.GenerateToken(user.ID, user.Username, user.Email)
	if err != nil {
		return "", err
	}

	maxAge := int(claims.ExpiresAt.Sub(s.clock.Now()).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, maxAge, "/", "", s.config.HTTP.CookieSecure, true)
	return token, nil
}

// enqueueEmail hands an email task to the queue and reports whether it was accepted
func (s *Server) enqueueEmail(ctx context.Context, task *asynq.Task, err error) bool {
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build email task")
		return false
	}

	info, err := s.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		metrics.EmailTasksEnqueued.WithLabelValues(task.Type(), metrics.OutcomeFailure).Inc()
		s.logger.Error().Err(err).Str("task_type", task.Type()).Msg("Failed to enqueue email task")
		return false
	}

	metrics.EmailTasksEnqueued.WithLabelValues(task.Type(), metrics.OutcomeSuccess).Inc()
	s.logger.Info().Str("task_id", info.ID).Str("task_type", task.Type()).Msg("Enqueued email task")
	return true
}

// duplicateUserMessage picks the message for a signup that lost an insert
// race on one of the unique columns
func (s *Server) duplicateUserMessage(username string) string {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err == nil && count > 0 {
		return msgUsernameTaken
	}
	return msgEmailTaken
}

// @Summary Sign up
// @Description Creates an account, starts a session and sends the verification email
// @Tags auth
// @Accept json
// @Produce json
// @Param request body SignupRequest true "Signup request"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} map[string]interface{}
// @Router /auth/api/signup/ [post]
func (s *Server) signup(c *gin.Context) {
	var req SignupRequest
	if !s.bindRequest(c, &req, []string{"required", "min", "email"}, map[string]string{
		"required": msgSignupRequired,
		"min":      msgPasswordTooShort,
		"email":    msgInvalidEmail,
	}) {
		metrics.RecordAuthEvent("signup", false)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check username")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}
	if count > 0 {
		metrics.RecordAuthEvent("signup", false)
		respondMessage(c, http.StatusBadRequest, msgUsernameTaken)
		return
	}

	if err := s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check email")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}
	if count > 0 {
		metrics.RecordAuthEvent("signup", false)
		respondMessage(c, http.StatusBadRequest, msgEmailTaken)
		return
	}

	passwordHash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	emailToken := uuid.NewString()
	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		IsActive:     true,
		EmailToken:   &emailToken,
	}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.RecordAuthEvent("signup", false)
			respondMessage(c, http.StatusBadRequest, s.duplicateUserMessage(req.Username))
			return
		}
		s.logger.Error().Err(err).Msg("Failed to create user")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	token, err := s.issueSession(c, &user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	task, err := tasks.NewVerificationEmailTask(tasks.EmailPayload{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Token:    emailToken,
	})
	sent := s.enqueueEmail(c.Request.Context(), task, err)

	metrics.RecordAuthEvent("signup", true)
	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("User signed up")

	c.JSON(http.StatusCreated, AuthResponse{
		Success:               true,
		Message:               msgUserCreated,
		User:                  newUserDetail(&user, false),
		Token:                 token,
		EmailVerificationSent: &sent,
	})
}

// @Summary Login
// @Description Authenticates by username or email and starts a session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} map[string]interface{}
// @Router /auth/api/login/ [post]
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if !s.bindRequest(c, &req, []string{"required"}, map[string]string{"required": msgLoginRequired}) {
		metrics.RecordAuthEvent("login", false)
		return
	}

	column := "username"
	if strings.Contains(req.Login, "@") {
		column = "email"
	}

	var user models.User
	err := s.db.Where(column+" = ?", strings.TrimSpace(req.Login)).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error().Err(err).Msg("Failed to load user")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}
	if err != nil || !user.IsActive {
		metrics.RecordAuthEvent("login", false)
		s.logger.Warn().Str("login", req.Login).Msg("Failed login attempt")
		respondMessage(c, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	if err := s.hasher.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Stored password hash is unreadable")
		}
		metrics.RecordAuthEvent("login", false)
		respondMessage(c, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	token, err := s.issueSession(c, &user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	metrics.RecordAuthEvent("login", true)
	s.logger.Info().Str("user_id", user.ID).Msg("User logged in")

	c.JSON(http.StatusOK, AuthResponse{
		Success: true,
		Message: msgAuthenticated,
		User:    newUserDetail(&user, false),
		Token:   token,
	})
}

// logout revokes the presented token and clears the session cookie
func (s *Server) logout(c *gin.Context) {
	session, ok := GetSessionData(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, msgNoUserLoggedIn)
		return
	}

	revoked := models.RevokedToken{
		TokenID:   session.TokenID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt.UTC(),
	}
	if err := s.db.Create(&revoked).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", session.UserID).Msg("Failed to revoke token")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", s.config.HTTP.CookieSecure, true)

	metrics.RecordAuthEvent("logout", true)
	s.logger.Info().Str("user_id", session.UserID).Str("auth_method", session.AuthMethod).Msg("User logged out")

	respondMessage(c, http.StatusOK, msgLoggedOut)
}

func (s *Server) profile(c *gin.Context) {
	session, ok := GetSessionData(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, msgUserNotLoggedIn)
		return
	}

	var user models.User
	if err := models.FindByID(s.db, session.UserID, &user); err != nil {
		s.logger.Error().Err(err).Str("user_id", session.UserID).Msg("Failed to load user")
		respondMessage(c, http.StatusUnauthorized, msgUserNotLoggedIn)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    newUserDetail(&user, true),
	})
}

// verifyEmail consumes an email verification token
func (s *Server) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if !s.bindRequest(c, &req, []string{"required"}, map[string]string{"required": msgTokenRequired}) {
		return
	}

	var user models.User
	if err := s.db.Where("email_token = ?", req.Token).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error().Err(err).Msg("Failed to look up email token")
			respondMessage(c, http.StatusInternalServerError, msgInternalError)
			return
		}
		metrics.RecordAuthEvent("verify_email", false)
		respondMessage(c, http.StatusBadRequest, msgInvalidToken)
		return
	}

	if err := s.db.Model(&user).Updates(map[string]any{
		"is_verified": true,
		"email_token": nil,
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to mark email verified")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	metrics.RecordAuthEvent("verify_email", true)
	s.logger.Info().Str("user_id", user.ID).Msg("Email verified")
	respondMessage(c, http.StatusOK, msgEmailVerified)
}

// forgotPassword issues a reset token and enqueues the recovery email
func (s *Server) forgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if !s.bindRequest(c, &req, []string{"required"}, map[string]string{"required": msgEmailRequired}) {
		return
	}

	var user models.User
	if err := s.db.Where("email = ?", strings.TrimSpace(req.Email)).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error().Err(err).Msg("Failed to look up user by email")
			respondMessage(c, http.StatusInternalServerError, msgInternalError)
			return
		}
		metrics.RecordAuthEvent("forgot_password", false)
		respondMessage(c, http.StatusNotFound, msgNoUserWithEmail)
		return
	}

	resetToken := uuid.NewString()
	expiresAt := s.clock.Now().UTC().Add(s.config.Auth.ResetTokenTTL)
	if err := s.db.Model(&user).Updates(map[string]any{
		"reset_token":            resetToken,
		"reset_token_expires_at": expiresAt,
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to store reset token")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	task, err := tasks.NewPasswordResetEmailTask(tasks.EmailPayload{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Token:    resetToken,
	})
	sent := s.enqueueEmail(c.Request.Context(), task, err)
	metrics.RecordAuthEvent("forgot_password", true)

	if !sent {
		respondMessage(c, http.StatusOK, msgRecoveryEmailFailed)
		return
	}
	respondMessage(c, http.StatusOK, msgRecoveryEmailSent)
}

// resetPassword sets a new password from an unexpired reset token
func (s *Server) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if !s.bindRequest(c, &req, []string{"required", "min"}, map[string]string{
		"required": msgResetRequired,
		"min":      msgPasswordTooShort,
	}) {
		return
	}

	var user models.User
	err := s.db.Where("reset_token = ?", req.Token).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error().Err(err).Msg("Failed to look up reset token")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}
	if err != nil || user.ResetTokenExpiresAt == nil || !s.clock.Now().Before(*user.ResetTokenExpiresAt) {
		metrics.RecordAuthEvent("reset_password", false)
		respondMessage(c, http.StatusBadRequest, msgInvalidToken)
		return
	}

	passwordHash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	if err := s.db.Model(&user).Updates(map[string]any{
		"password_hash":          passwordHash,
		"reset_token":            nil,
		"reset_token_expires_at": nil,
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to reset password")
		respondMessage(c, http.StatusInternalServerError, msgInternalError)
		return
	}

	metrics.RecordAuthEvent("reset_password", true)
	s.logger.Info().Str("user_id", user.ID).Msg("Password reset")
	respondMessage(c, http.StatusOK, msgPasswordResetSuccess)
}
