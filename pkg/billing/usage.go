package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// StuckRunReason is written to the error field of runs failed by self-healing.
const StuckRunReason = "stuck run auto-failed"

// Default thresholds for run classification.
const (
	DefaultMaxCompletedRun = 4 * time.Hour
	DefaultStuckRunAfter   = time.Hour
	DefaultActiveRunCap    = 30 * time.Minute
)

// ExclusionReason explains why a run contributed nothing.
type ExclusionReason string

const (
	ExcludedNone        ExclusionReason = ""
	ExcludedOverCeiling ExclusionReason = "over_ceiling"
	ExcludedStuck       ExclusionReason = "stuck"
	ExcludedHealed      ExclusionReason = "healed"
	ExcludedUnbillable  ExclusionReason = "unbillable"
)

// RunUsage is the billed contribution of a single run.
type RunUsage struct {
	RunID    uuid.UUID       `json:"run_id"`
	Status   RunStatus       `json:"status"`
	Started  time.Time       `json:"started_at"`
	Billed   time.Duration   `json:"billed"`
	Excluded ExclusionReason `json:"excluded,omitempty"`
}

// UsageReport is the result of one monthly usage computation.
type UsageReport struct {
	AccountID   uuid.UUID   `json:"account_id"`
	PeriodStart time.Time   `json:"period_start"`
	Runs        []RunUsage  `json:"runs"`
	Seconds     float64     `json:"seconds"`
	Stuck       []uuid.UUID `json:"stuck,omitempty"`
	Healed      int64       `json:"healed"`
}

// Minutes returns the billed total in minutes.
func (r UsageReport) Minutes() float64 {
	return r.Seconds / 60
}

// PeriodStart returns the first instant of now's calendar month in UTC.
func PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// UsageOption configures a UsageAggregator.
type UsageOption func(*UsageAggregator)

// WithMaxCompletedRun sets the ceiling above which a finished run is treated
// as a measurement error and not billed.
func WithMaxCompletedRun(d time.Duration) UsageOption {
	return func(u *UsageAggregator) {
		if d > 0 {
			u.maxCompleted = d
		}
	}
}

// WithStuckRunAfter sets how long a run may stay running before it is failed.
func WithStuckRunAfter(d time.Duration) UsageOption {
	return func(u *UsageAggregator) {
		if d > 0 {
			u.stuckAfter = d
		}
	}
}

// WithActiveRunCap bounds the billed duration of an in-flight run.
func WithActiveRunCap(d time.Duration) UsageOption {
	return func(u *UsageAggregator) {
		if d > 0 {
			u.activeCap = d
		}
	}
}

func WithUsageLogger(l *slog.Logger) UsageOption {
	return func(u *UsageAggregator) {
		if l != nil {
			u.log = l
		}
	}
}

func WithUsageMetrics(m *Metrics) UsageOption {
	return func(u *UsageAggregator) {
		u.metrics = m
	}
}

// UsageAggregator computes monthly consumption and repairs stuck runs.
type UsageAggregator struct {
	runs         RunLog
	maxCompleted time.Duration
	stuckAfter   time.Duration
	activeCap    time.Duration
	log          *slog.Logger
	metrics      *Metrics
}

// NewUsageAggregator panics if runs is nil.
func NewUsageAggregator(runs RunLog, opts ...UsageOption) *UsageAggregator {
	if runs == nil {
		panic("billing: RunLog is required")
	}
	u := &UsageAggregator{
		runs:         runs,
		maxCompleted: DefaultMaxCompletedRun,
		stuckAfter:   DefaultStuckRunAfter,
		activeCap:    DefaultActiveRunCap,
		log:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// MonthlyUsage returns the minutes consumed since the start of now's month.
func (u *UsageAggregator) MonthlyUsage(ctx context.Context, accountID uuid.UUID, now time.Time) (float64, error) {
	report, err := u.Report(ctx, accountID, now)
	if err != nil {
		return 0, err
	}
	return report.Minutes(), nil
}

// Report computes usage with a per-run breakdown. Stuck runs are excluded and
// then failed in the run log; a failure to persist that is logged only.
func (u *UsageAggregator) Report(ctx context.Context, accountID uuid.UUID, now time.Time) (UsageReport, error) {
	report := UsageReport{
		AccountID:   accountID,
		PeriodStart: PeriodStart(now),
	}

	threads, err := u.runs.ListThreads(ctx, accountID)
	if err != nil {
		return report, errors.Join(ErrDataAccess, fmt.Errorf("list threads of account %s: %w", accountID, err))
	}
	if len(threads) == 0 {
		return report, nil
	}

	runs, err := u.runs.ListRuns(ctx, threads, report.PeriodStart)
	if err != nil {
		return report, errors.Join(ErrDataAccess, fmt.Errorf("list runs of account %s: %w", accountID, err))
	}

	var billed time.Duration
	report.Runs = make([]RunUsage, 0, len(runs))
	for _, run := range runs {
		ru := u.classify(run, now)
		switch ru.Excluded {
		case ExcludedOverCeiling:
			u.log.WarnContext(ctx, "skipping run with implausible duration",
				logger.AccountID(accountID),
				logger.RunID(run.ID),
				logger.Duration(run.CompletedAt.Sub(run.StartedAt)),
			)
			u.metrics.excluded(ru.Excluded)
		case ExcludedStuck:
			u.log.WarnContext(ctx, "found stuck run",
				logger.AccountID(accountID),
				logger.RunID(run.ID),
				logger.Duration(now.Sub(run.StartedAt)),
			)
			u.metrics.excluded(ru.Excluded)
			report.Stuck = append(report.Stuck, run.ID)
		}
		billed += ru.Billed
		report.Runs = append(report.Runs, ru)
	}
	report.Seconds = billed.Seconds()

	if len(report.Stuck) > 0 {
		report.Healed = u.heal(ctx, accountID, report.Stuck, now)
	}

	u.log.DebugContext(ctx, "computed monthly usage",
		logger.AccountID(accountID),
		logger.Minutes(report.Minutes()),
		logger.Count(len(runs)),
	)

	return report, nil
}

func (u *UsageAggregator) classify(run Run, now time.Time) RunUsage {
	ru := RunUsage{RunID: run.ID, Status: run.Status, Started: run.StartedAt}

	switch {
	case run.Status == RunFailed && run.Error == StuckRunReason:
		// completed_at is the heal time, not the end of real work.
		ru.Excluded = ExcludedHealed
	case run.Status.Finished() && run.CompletedAt != nil:
		d := run.CompletedAt.Sub(run.StartedAt)
		if d > u.maxCompleted {
			ru.Excluded = ExcludedOverCeiling
			return ru
		}
		ru.Billed = max(d, 0)
	case run.Status == RunRunning:
		elapsed := now.Sub(run.StartedAt)
		if elapsed > u.stuckAfter {
			ru.Excluded = ExcludedStuck
			return ru
		}
		ru.Billed = min(max(elapsed, 0), u.activeCap)
	default:
		ru.Excluded = ExcludedUnbillable
	}

	return ru
}

func (u *UsageAggregator) heal(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID, now time.Time) int64 {
	n, err := u.runs.FailRuns(ctx, ids, now, StuckRunReason)
	if err != nil {
		u.log.ErrorContext(ctx, "failed to mark stuck runs as failed",
			logger.AccountID(accountID),
			logger.Count(len(ids)),
			logger.Error(err),
		)
		return 0
	}
	u.metrics.healed(n)
	u.log.InfoContext(ctx, "marked stuck runs as failed",
		logger.AccountID(accountID),
		logger.Count(int(n)),
	)
	return n
}

// SweepStuckRuns fails every run, across all accounts, that has been running
// longer than the stuck threshold.
func (u *UsageAggregator) SweepStuckRuns(ctx context.Context, sweeper RunSweeper, now time.Time) (int64, error) {
	n, err := sweeper.FailRunsStartedBefore(ctx, now.Add(-u.stuckAfter), now, StuckRunReason)
	if err != nil {
		return 0, errors.Join(ErrDataAccess, err)
	}
	u.metrics.healed(n)
	if n > 0 {
		u.log.InfoContext(ctx, "swept stuck runs", logger.Count(int(n)))
	}
	return n, nil
}

// StuckAfter returns the configured stuck-run threshold.
func (u *UsageAggregator) StuckAfter() time.Duration {
	return u.stuckAfter
}
