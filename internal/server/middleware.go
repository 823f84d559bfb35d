package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/branchd-dev/authsession/internal/auth"
	"github.com/branchd-dev/authsession/internal/metrics"
	"github.com/branchd-dev/authsession/internal/models"
)

const (
	bearerPrefix      = "Bearer "
	sessionCookieName = "session"
	sessionContextKey = "session"
)

var (
	ErrMissingCredentials = errors.New("missing bearer token or session cookie")
	ErrInvalidAuthFormat  = errors.New("invalid authorization header format")
	ErrEmptyToken         = errors.New("empty token")
	ErrRevokedToken       = errors.New("token has been revoked")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user is inactive")
)

func setSession(c *gin.Context, sessionData *auth.SessionData) {
	c.Set(sessionContextKey, sessionData)
}

// GetSessionData returns the session stored by SessionAuthMiddleware
func GetSessionData(c *gin.Context) (*auth.SessionData, bool) {
	session, exists := c.Get(sessionContextKey)
	if !exists {
		return nil, false
	}

	sessionData, ok := session.(*auth.SessionData)
	return sessionData, ok
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingCredentials
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// extractToken reads the bearer header first and falls back to the session cookie
func extractToken(c *gin.Context) (token, method string, err error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, err = extractBearerToken(header)
		return token, "bearer", err
	}

	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie == "" {
		return "", "", ErrMissingCredentials
	}
	return cookie, "cookie", nil
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg(message)
	c.AbortWithStatusJSON(statusCode, gin.H{"success": false, "message": message})
}

// SessionAuthMiddleware authenticates the request from the bearer token or the
// session cookie. missingMessage is returned when neither is present.
func (s *Server) SessionAuthMiddleware(missingMessage string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, method, err := extractToken(c)
		if errors.Is(err, ErrMissingCredentials) {
			respondWithError(c, s.logger, http.StatusUnauthorized, err, missingMessage)
			return
		}
		if err != nil {
			respondWithError(c, s.logger, http.StatusUnauthorized, err, msgInvalidToken)
			return
		}

		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			respondWithError(c, s.logger, http.StatusUnauthorized, err, msgInvalidToken)
			return
		}

		var revoked int64
		if err := s.db.Model(&models.RevokedToken{}).Where("token_id = ?", claims.ID).Count(&revoked).Error; err != nil {
			s.logger.Error().Err(err).Msg("Failed to check token revocation")
			respondWithError(c, s.logger, http.StatusInternalServerError, err, msgInternalError)
			return
		}
		if revoked > 0 {
			respondWithError(c, s.logger, http.StatusUnauthorized, ErrRevokedToken, msgInvalidToken)
			return
		}

		var user models.User
		if err := models.FindByID(s.db, claims.UserID, &user); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				s.logger.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to load user")
			}
			respondWithError(c, s.logger, http.StatusUnauthorized, ErrUserNotFound, missingMessage)
			return
		}
		if !user.IsActive {
			respondWithError(c, s.logger, http.StatusUnauthorized, ErrUserInactive, missingMessage)
			return
		}

		setSession(c, &auth.SessionData{
			UserID:     user.ID,
			Username:   user.Username,
			Email:      user.Email,
			TokenID:    claims.ID,
			ExpiresAt:  claims.ExpiresAt.Time,
			AuthMethod: method,
		})

		c.Next()
	}
}

// metricsMiddleware records request counts and latency by matched route
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
