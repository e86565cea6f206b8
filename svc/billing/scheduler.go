package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// StuckRunSweeper is the part of billing.Service the scheduler drives.
type StuckRunSweeper interface {
	SweepStuckRuns(ctx context.Context, now time.Time) (int64, error)
}

// SweepScheduler runs the stuck-run sweep on a cron schedule evaluated in UTC.
// Overlapping ticks are skipped while a sweep is still in progress.
type SweepScheduler struct {
	cron    *cron.Cron
	sweeper StuckRunSweeper
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewSweepScheduler parses schedule (standard five-field cron or a
// descriptor such as "@every 10m").
func NewSweepScheduler(sweeper StuckRunSweeper, schedule string, log *slog.Logger) (*SweepScheduler, error) {
	if sweeper == nil {
		panic("billing: nil sweeper")
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &SweepScheduler{
		sweeper: sweeper,
		timeout: 5 * time.Minute,
		log:     log.With(logger.Component("sweep")),
		now:     time.Now,
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(schedule, s.Tick); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Tick performs one sweep. Errors are logged, not returned.
func (s *SweepScheduler) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.sweeper.SweepStuckRuns(ctx, s.now().UTC())
	if err != nil {
		s.log.ErrorContext(ctx, "stuck run sweep failed", logger.Error(err))
		return
	}
	if n > 0 {
		s.log.InfoContext(ctx, "stuck runs swept", slog.Int64("count", n))
	}
}

func (s *SweepScheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep until ctx is done.
func (s *SweepScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
