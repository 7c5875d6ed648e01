package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ashare_backend/models"
	"ashare_backend/services/syncer"
)

// Runner accepts sync requests. A busy runner returns false.
type Runner interface {
	StartRun(req syncer.RunRequest) bool
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron   *gocron.Scheduler
	runner Runner
	db     *gorm.DB
	logger zerolog.Logger
	at     string
	now    func() time.Time
}

// NewScheduler creates a scheduler that fires the daily update at
// hour:minute in loc. db may be nil, which disables session cleanup.
func NewScheduler(runner Runner, db *gorm.DB, loc *time.Location, hour, minute int, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:   gocron.NewScheduler(loc),
		runner: runner,
		db:     db,
		logger: logger.With().Str("component", "scheduler").Logger(),
		at:     fmt.Sprintf("%02d:%02d", hour, minute),
		now:    time.Now,
	}
}

// Start registers the jobs and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.Every(1).Day().At(s.at).Do(s.dailyUpdate); err != nil {
		return fmt.Errorf("schedule daily update: %w", err)
	}

	if s.db != nil {
		if _, err := s.cron.Every(1).Week().Sunday().At("01:00").Do(s.cleanupSessions); err != nil {
			return fmt.Errorf("schedule session cleanup: %w", err)
		}
	}

	s.cron.StartAsync()
	s.logger.Info().
		Str("daily_update_at", s.at).
		Str("timezone", s.cron.Location().String()).
		Msg("Scheduler started")
	return nil
}

// Stop stops the scheduler. A run already handed to the worker continues.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}

// JobCount reports the registered jobs.
func (s *Scheduler) JobCount() int {
	return len(s.cron.Jobs())
}

func (s *Scheduler) dailyUpdate() {
	if !s.runner.StartRun(syncer.RunRequest{Mode: syncer.ModeDailyUpdate}) {
		s.logger.Warn().Msg("Scheduled daily update skipped: a sync is already running")
		return
	}
	s.logger.Info().Msg("Scheduled daily update started")
}

func (s *Scheduler) cleanupSessions() {
	n, err := models.PurgeExpiredAdminSessions(s.db, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge expired admin sessions")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("Expired admin sessions purged")
	}
}
