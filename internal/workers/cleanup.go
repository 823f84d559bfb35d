package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/branchd-dev/authsession/internal/metrics"
	"github.com/branchd-dev/authsession/internal/models"
)

// CleanupResult counts the rows touched by one cleanup run
type CleanupResult struct {
	RevokedTokens int64
	ResetTokens   int64
}

// CleanupExpired deletes revoked-token rows whose token has expired and clears
// reset tokens past their expiry. Timestamps are compared in UTC.
func CleanupExpired(ctx context.Context, db *gorm.DB, now time.Time) (CleanupResult, error) {
	var result CleanupResult
	now = now.UTC()

	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.RevokedToken{})
	if res.Error != nil {
		return result, fmt.Errorf("failed to delete revoked tokens: %w", res.Error)
	}
	result.RevokedTokens = res.RowsAffected

	res = db.WithContext(ctx).Model(&models.User{}).
		Where("reset_token IS NOT NULL AND reset_token_expires_at <= ?", now).
		Updates(map[string]any{
			"reset_token":            nil,
			"reset_token_expires_at": nil,
		})
	if res.Error != nil {
		return result, fmt.Errorf("failed to clear reset tokens: %w", res.Error)
	}
	result.ResetTokens = res.RowsAffected

	return result, nil
}

// CleanupScheduler runs CleanupExpired on a cron schedule
type CleanupScheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	db      *gorm.DB
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// NewCleanupScheduler parses schedule (standard 5-field cron or a descriptor
// such as "@every 1h") and registers the cleanup job
func NewCleanupScheduler(db *gorm.DB, schedule string, clock clockwork.Clock, logger zerolog.Logger) (*CleanupScheduler, error) {
	s := &CleanupScheduler{
		cron:   cron.New(),
		db:     db,
		clock:  clock,
		logger: logger,
	}

	id, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	s.entryID = id

	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *CleanupScheduler) Start() {
	s.cron.Start()
	s.logger.Info().Time("next_run", s.cron.Entry(s.entryID).Next).Msg("Cleanup scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Cleanup scheduler stopped")
}

// RunOnce performs a single cleanup pass and records the outcome
func (s *CleanupScheduler) RunOnce(ctx context.Context) {
	result, err := CleanupExpired(ctx, s.db, s.clock.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Cleanup failed")
		return
	}

	metrics.CleanupRowsDeleted.WithLabelValues("revoked_tokens").Add(float64(result.RevokedTokens))
	metrics.CleanupRowsDeleted.WithLabelValues("reset_tokens").Add(float64(result.ResetTokens))

	s.logger.Info().
		Int64("revoked_tokens", result.RevokedTokens).
		Int64("reset_tokens", result.ResetTokens).
		Msg("Cleanup completed")
}
