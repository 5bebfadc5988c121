// Package maintenance runs periodic housekeeping jobs.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/XpNow/PHX-Bot/internal/settings"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRetentionSchedule runs the cleanup daily at 03:00 UTC.
const DefaultRetentionSchedule = "0 3 * * *"

// RetentionStore defines the interface for audit log retention.
type RetentionStore interface {
	GetAllSettings(ctx context.Context) (map[string]string, error)
	CleanupAuditLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionScheduler deletes audit log entries older than the configured
// AUDIT_RETENTION_DAYS. The retention is re-read on every run.
type RetentionScheduler struct {
	store    RetentionStore
	schedule string
	now      func() time.Time
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewRetentionScheduler creates a new retention cleanup scheduler. An empty
// schedule uses DefaultRetentionSchedule.
func NewRetentionScheduler(store RetentionStore, schedule string, logger zerolog.Logger) *RetentionScheduler {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	return &RetentionScheduler{
		store:    store,
		schedule: schedule,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		logger:   logger.With().Str("component", "retention").Logger(),
	}
}

// Start begins the retention cleanup schedule.
func (s *RetentionScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("retention scheduler already running")
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		_, _ = s.RunNow(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Msg("retention scheduler started")
	return nil
}

// Stop stops the retention scheduler. The returned context is done once any
// running cleanup has finished.
func (s *RetentionScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping retention scheduler")
	return s.cron.Stop()
}

// RunNow deletes expired audit log entries immediately and returns how many
// were removed.
func (s *RetentionScheduler) RunNow(ctx context.Context) (int64, error) {
	cfg, err := settings.Load(ctx, s.store)
	if settings.IsFatal(err) {
		s.logger.Error().Err(err).Msg("audit log cleanup skipped")
		return 0, err
	}

	cutoff := s.now().AddDate(0, 0, -cfg.AuditRetentionDays)
	s.logger.Info().
		Int("retention_days", cfg.AuditRetentionDays).
		Time("cutoff", cutoff).
		Msg("starting audit log cleanup")

	deleted, err := s.store.CleanupAuditLogs(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("audit log cleanup failed")
		return 0, err
	}

	s.logger.Info().
		Int64("deleted_rows", deleted).
		Int("retention_days", cfg.AuditRetentionDays).
		Msg("audit log cleanup completed")
	return deleted, nil
}
