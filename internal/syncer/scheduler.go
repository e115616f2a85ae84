package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/chrisklg/stock-data-tracker/internal/config"
	"github.com/chrisklg/stock-data-tracker/internal/models"
	"github.com/chrisklg/stock-data-tracker/internal/store"
	"go.uber.org/zap"
)

// Scheduler gates and drives synchronization runs. It owns the once-per-
// trading-day policy: a polling loop checks eligibility, triggers the
// coordinator, and records every outcome for future gating decisions.
type Scheduler struct {
	logger        *zap.Logger
	store         *store.Store
	coordinator   *Coordinator
	pollInterval  time.Duration
	errorInterval time.Duration
	windowStart   int
	windowEnd     int
	now           func() time.Time
}

// NewScheduler creates a new scheduler.
func NewScheduler(logger *zap.Logger, st *store.Store, coordinator *Coordinator, cfg *config.Sync) *Scheduler {
	windowEnd := cfg.WindowEndHour
	if windowEnd == 0 {
		windowEnd = 24
	}
	return &Scheduler{
		logger:        logger,
		store:         st,
		coordinator:   coordinator,
		pollInterval:  time.Duration(cfg.PollIntervalSeconds) * time.Second,
		errorInterval: time.Duration(cfg.ErrorRetrySeconds) * time.Second,
		windowStart:   cfg.WindowStartHour,
		windowEnd:     windowEnd,
		now:           time.Now,
	}
}

// ShouldRun reports whether a scheduled update is due at now. A failure to
// read the run history gates open: a redundant run is an idempotent upsert
// pass, a missed run loses a day of data.
func (s *Scheduler) ShouldRun(now time.Time) bool {
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		s.logger.Debug("Skipping update, markets closed on weekends")
		return false
	}

	if h := now.Hour(); h < s.windowStart || h >= s.windowEnd {
		s.logger.Debug("Skipping update, outside update window", zap.Int("hour", h))
		return false
	}

	runs, err := s.store.CountRunsToday(models.JobKindDaily,
		[]string{models.RunStatusCompleted, models.RunStatusPartialSuccess})
	if err != nil {
		s.logger.Warn("Could not check run history, assuming update is due", zap.Error(err))
		return true
	}
	if runs > 0 {
		s.logger.Debug("Skipping update, already ran successfully today")
		return false
	}

	return true
}

// Run drives the polling loop until ctx is cancelled. Cancellation mid-run
// finishes the in-flight symbol and exits without recording a failure; only
// unexpected errors produce an error record. After a loop-level error the next
// eligibility check happens sooner than the normal cadence, so a transient
// failure does not cost a whole poll interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started", zap.Duration("poll_interval", s.pollInterval))

	for {
		wait := s.pollInterval

		if s.ShouldRun(s.now()) {
			if err := s.runScheduled(ctx); err != nil {
				// A cancelled run is a cooperative stop, not a failure;
				// the select below sees ctx.Done and exits the loop.
				if !errors.Is(err, context.Canceled) {
					s.logger.Error("Scheduler cycle failed", zap.Error(err))
					_ = s.store.AppendRunRecord(models.JobKindDaily, models.RunStatusError,
						map[string]string{"error": err.Error()})
					wait = s.errorInterval
				}
			}
		} else {
			s.logger.Debug("Skipping update, conditions not met")
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}

// runScheduled executes one gated daily update and records its outcome.
func (s *Scheduler) runScheduled(ctx context.Context) error {
	s.logger.Info("Starting daily incremental update")

	summary, err := s.coordinator.Run(ctx)
	if err != nil {
		return err
	}

	status := summary.Status()
	if err := s.store.AppendRunRecord(models.JobKindDaily, status, summary); err != nil {
		return err
	}

	s.logger.Info("Daily update finished",
		zap.String("status", status),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("new_records", summary.TotalNewRecords))
	return nil
}

// RunOnce performs a single run outside the polling loop. A manual run
// bypasses the eligibility check but not the audit trail; any other job kind
// is still gated and returns a nil summary when not due.
func (s *Scheduler) RunOnce(ctx context.Context, jobKind string) (*RunSummary, error) {
	if jobKind != models.JobKindManual && !s.ShouldRun(s.now()) {
		s.logger.Info("Update not needed today")
		return nil, nil
	}

	s.logger.Info("Starting one-shot update", zap.String("job_kind", jobKind))

	summary, err := s.coordinator.Run(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			_ = s.store.AppendRunRecord(jobKind, models.RunStatusError,
				map[string]string{"error": err.Error()})
		}
		return nil, err
	}

	if err := s.store.AppendRunRecord(jobKind, summary.Status(), summary); err != nil {
		return summary, err
	}
	return summary, nil
}
