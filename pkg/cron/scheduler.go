// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the page image purge at minute zero of every hour.
const DefaultSchedule = "@hourly"

// Purger removes stored files created before a cutoff.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron      *cron.Cron
	purger    Purger
	retention time.Duration
	schedule  string
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewScheduler creates a janitor that purges page images older than
// retention. An empty schedule means DefaultSchedule.
func NewScheduler(purger Purger, retention time.Duration, schedule string, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Scheduler{
		cron:      c,
		purger:    purger,
		retention: retention,
		schedule:  schedule,
		timeout:   10 * time.Minute,
		now:       time.Now,
		logger:    logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() { s.purgeExpiredPages() })
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("schedule", s.schedule),
		slog.Duration("retention", s.retention),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow purges synchronously and returns how many files were removed.
func (s *Scheduler) RunNow() int {
	return s.purgeExpiredPages()
}

// purgeExpiredPages deletes page images left behind by interrupted runs.
func (s *Scheduler) purgeExpiredPages() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	removed, err := s.purger.Purge(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge page images",
			slog.Time("cutoff", cutoff),
			slog.Int("removed", removed),
			slog.Any("error", err),
		)
		return removed
	}

	if removed > 0 {
		s.logger.Info("purged page images", slog.Int("removed", removed), slog.Time("cutoff", cutoff))
	} else {
		s.logger.Debug("no page images to purge", slog.Time("cutoff", cutoff))
	}
	return removed
}
