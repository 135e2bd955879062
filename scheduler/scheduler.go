// quotebook/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quotebook/models"
	"quotebook/utils"

	"github.com/robfig/cron/v3"
)

// Sweeper auto-refuses signatures that have been pending too long.
type Sweeper interface {
	RefuseStaleSignatures(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)
}

// Scheduler runs the stale-signature sweep on a cron schedule and on demand. At most one
// sweep runs at a time.
type Scheduler struct {
	cron       *cron.Cron
	sweeper    Sweeper
	staleAfter time.Duration
	logger     *slog.Logger
	running    sync.Mutex
}

func New(sweeper Sweeper, staleAfter time.Duration, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sweeper:    sweeper,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start registers the sweep under a standard five-field cron spec and starts the timer.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.scheduledRun); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("Stale signature sweep scheduled", "schedule", spec, "stale_after", s.staleAfter.String())
	return nil
}

// Stop halts the timer and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow runs a sweep immediately. It fails with ErrConflict if one is already running.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		return 0, fmt.Errorf("%w: a stale signature sweep is already running", models.ErrConflict)
	}
	defer s.running.Unlock()
	return s.sweep(ctx)
}

func (s *Scheduler) scheduledRun() {
	if !s.running.TryLock() {
		s.logger.Info("Skipping scheduled sweep, another run is in progress")
		return
	}
	defer s.running.Unlock()
	if _, err := s.sweep(context.Background()); err != nil {
		s.logger.Error("Scheduled stale signature sweep failed", "error", err)
	}
}

func (s *Scheduler) sweep(ctx context.Context) (int, error) {
	start := time.Now()
	refused, err := s.sweeper.RefuseStaleSignatures(ctx, utils.GetSQLTime(), s.staleAfter)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Stale signature sweep complete", "refused", refused, "duration", time.Since(start))
	return refused, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
