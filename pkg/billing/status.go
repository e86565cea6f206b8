package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// Status values beyond the provider's own subscription statuses.
const (
	StatusNoSubscription     = "no_subscription"
	StatusScheduledDowngrade = "scheduled_downgrade"
)

// StatusReport describes an account's plan, usage and any pending change.
type StatusReport struct {
	Status              string     `json:"status"`
	PlanName            string     `json:"plan_name,omitempty"`
	PriceID             string     `json:"price_id,omitempty"`
	CurrentPeriodEnd    *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd   bool       `json:"cancel_at_period_end"`
	TrialEnd            *time.Time `json:"trial_end,omitempty"`
	MinutesLimit        Allowance  `json:"minutes_limit"`
	CurrentUsage        float64    `json:"current_usage"`
	HasSchedule         bool       `json:"has_schedule"`
	ScheduledPlanName   string     `json:"scheduled_plan_name,omitempty"`
	ScheduledPriceID    string     `json:"scheduled_price_id,omitempty"`
	ScheduledChangeDate *time.Time `json:"scheduled_change_date,omitempty"`
}

// Status reports the account's subscription state. A schedule phase that
// starts exactly at the current period end is reported as a scheduled
// downgrade; schedule read failures are logged and ignored.
func (g *Gate) Status(ctx context.Context, accountID uuid.UUID, now time.Time) (*StatusReport, error) {
	if !g.env.Metered() {
		return &StatusReport{
			Status:       string(SubscriptionActive),
			PlanName:     "Local Development",
			PriceID:      "local_dev",
			MinutesLimit: 9999,
		}, nil
	}

	ent, err := g.resolver.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if ent.Source == SourceOverride {
		return &StatusReport{
			Status:       string(SubscriptionActive),
			PlanName:     ent.Tier.Name,
			PriceID:      ent.Tier.PriceID,
			MinutesLimit: AllowanceUnlimited,
		}, nil
	}

	used, err := g.usage.MonthlyUsage(ctx, accountID, now)
	if err != nil {
		return nil, err
	}
	used = roundCents(used)

	if ent.Source == SourceFree {
		free := g.resolver.catalog.Free()
		return &StatusReport{
			Status:       StatusNoSubscription,
			PlanName:     free.Name,
			PriceID:      free.PriceID,
			MinutesLimit: Allowance(free.MinuteAllowance),
			CurrentUsage: used,
		}, nil
	}

	sub := ent.Subscription
	report := &StatusReport{
		Status:            string(sub.Status),
		PlanName:          "unknown",
		PriceID:           sub.PriceID,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          sub.TrialEnd,
		CurrentUsage:      used,
	}
	if tier, err := g.resolver.catalog.Resolve(sub.PriceID); err == nil {
		report.PlanName = tier.Name
		report.MinutesLimit = Allowance(tier.MinuteAllowance)
	}
	if !sub.PeriodEnd.IsZero() {
		end := sub.PeriodEnd.UTC()
		report.CurrentPeriodEnd = &end
	}

	if sub.ScheduleID != "" {
		g.attachSchedule(ctx, report, sub)
	}

	return report, nil
}

func (g *Gate) attachSchedule(ctx context.Context, report *StatusReport, sub *Subscription) {
	sched, err := g.resolver.provider.GetSchedule(ctx, sub.ScheduleID)
	if err != nil {
		g.metrics.providerError("get_schedule")
		g.log.ErrorContext(ctx, "failed to read subscription schedule",
			logger.SubscriptionID(sub.ID),
			logger.ScheduleID(sub.ScheduleID),
			logger.Error(err),
		)
		return
	}

	next, ok := sched.PhaseStartingAt(sub.PeriodEnd)
	if !ok || len(next.Items) == 0 {
		return
	}

	priceID := next.Items[0].Price.ID()
	report.HasSchedule = true
	report.Status = StatusScheduledDowngrade
	report.ScheduledPriceID = priceID
	report.ScheduledPlanName = "unknown"
	if tier, err := g.resolver.catalog.Resolve(priceID); err == nil {
		report.ScheduledPlanName = tier.Name
	}
	at := next.Start.UTC()
	report.ScheduledChangeDate = &at
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
