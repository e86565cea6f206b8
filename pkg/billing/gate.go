package billing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/environment"
	"github.com/dmitrymomot/runmeter/pkg/logger"
)

const (
	MessageLocalMode      = "Local development mode - billing disabled"
	MessageOverrideActive = "Custom subscription active"
	MessageOK             = "OK"
	MessageModelAllowed   = "Model access allowed"
)

// Allowance is a minute limit as presented to callers.
type Allowance int64

const (
	// AllowanceUnlimited is granted by manual overrides.
	AllowanceUnlimited = Allowance(Unlimited)
	// AllowanceUnmetered is reported when metering is disabled.
	AllowanceUnmetered Allowance = -2
)

// MarshalJSON renders sentinel allowances as text.
func (a Allowance) MarshalJSON() ([]byte, error) {
	switch a {
	case AllowanceUnlimited:
		return []byte(`"unlimited"`), nil
	case AllowanceUnmetered:
		return []byte(`"no limit"`), nil
	}
	return []byte(strconv.FormatInt(int64(a), 10)), nil
}

// SubscriptionSnapshot summarizes the plan a decision was made against.
type SubscriptionSnapshot struct {
	PriceID        string             `json:"price_id"`
	PlanName       string             `json:"plan_name"`
	MinutesLimit   Allowance          `json:"minutes_limit"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	Status         SubscriptionStatus `json:"status,omitempty"`
}

// RunDecision answers whether an account may start metered work.
type RunDecision struct {
	Allowed      bool                  `json:"can_run"`
	Message      string                `json:"message"`
	Subscription *SubscriptionSnapshot `json:"subscription"`
	UsageMinutes float64               `json:"-"`
}

// ModelDecision answers whether an account may use a model.
type ModelDecision struct {
	Allowed       bool     `json:"allowed"`
	Message       string   `json:"message"`
	AllowedModels []string `json:"allowed_models"`
}

// Gate is the admission point consulted before metered work starts.
type Gate struct {
	env      environment.Environment
	resolver *Resolver
	usage    *UsageAggregator
	models   *ModelPolicy
	log      *slog.Logger
	metrics  *Metrics
}

// GateOption configures a Gate.
type GateOption func(*Gate)

func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

func WithGateMetrics(m *Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = m
	}
}

// NewGate panics on missing dependencies.
func NewGate(env environment.Environment, resolver *Resolver, usage *UsageAggregator, models *ModelPolicy, opts ...GateOption) *Gate {
	if resolver == nil || usage == nil || models == nil {
		panic("billing: gate requires resolver, usage aggregator and model policy")
	}
	g := &Gate{
		env:      env,
		resolver: resolver,
		usage:    usage,
		models:   models,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func localSnapshot() *SubscriptionSnapshot {
	return &SubscriptionSnapshot{
		PriceID:      "local_dev",
		PlanName:     "Local Development",
		MinutesLimit: AllowanceUnmetered,
	}
}

// Snapshot describes an entitlement for callers.
func Snapshot(ent Entitlement) *SubscriptionSnapshot {
	s := &SubscriptionSnapshot{
		PriceID:      ent.Tier.PriceID,
		PlanName:     ent.Tier.Name,
		MinutesLimit: Allowance(ent.Tier.MinuteAllowance),
	}
	if ent.Subscription != nil {
		s.PriceID = ent.Subscription.PriceID
		s.SubscriptionID = ent.Subscription.ID
		s.Status = ent.Subscription.Status
	}
	return s
}

// CheckCanRun allows iff usage is below the tier allowance, unless metering
// is disabled or a manual override is active.
func (g *Gate) CheckCanRun(ctx context.Context, accountID uuid.UUID, now time.Time) (RunDecision, error) {
	if !g.env.Metered() {
		return RunDecision{Allowed: true, Message: MessageLocalMode, Subscription: localSnapshot()}, nil
	}

	ent, err := g.resolver.Resolve(ctx, accountID)
	if err != nil {
		return RunDecision{}, err
	}
	snap := Snapshot(ent)

	if ent.Unlimited() {
		g.metrics.gateDecision("run", true)
		return RunDecision{Allowed: true, Message: MessageOverrideActive, Subscription: snap}, nil
	}

	used, err := g.usage.MonthlyUsage(ctx, accountID, now)
	if err != nil {
		g.log.ErrorContext(ctx, "failed to compute usage", logger.AccountID(accountID), logger.Error(err))
		return RunDecision{}, err
	}

	if used >= float64(ent.Tier.MinuteAllowance) {
		g.metrics.gateDecision("run", false)
		g.log.InfoContext(ctx, "monthly limit reached",
			logger.AccountID(accountID),
			logger.Minutes(used),
			slog.String("tier", ent.Tier.Name),
		)
		return RunDecision{
			Allowed:      false,
			Message:      LimitReachedMessage(ent.Tier.MinuteAllowance),
			Subscription: snap,
			UsageMinutes: used,
		}, nil
	}

	g.metrics.gateDecision("run", true)
	return RunDecision{Allowed: true, Message: MessageOK, Subscription: snap, UsageMinutes: used}, nil
}

// LimitReachedMessage is shown when the monthly allowance is exhausted.
func LimitReachedMessage(minutes int64) string {
	return fmt.Sprintf("Monthly limit of %d minutes reached. Please upgrade your plan or wait until next month.", minutes)
}

// CheckCanUseModel resolves model aliases and checks the account's allow-list.
func (g *Gate) CheckCanUseModel(ctx context.Context, accountID uuid.UUID, model string) (ModelDecision, error) {
	if !g.env.Metered() {
		return ModelDecision{Allowed: true, Message: MessageLocalMode, AllowedModels: g.models.Models()}, nil
	}

	allowed, err := g.resolver.AllowedModels(ctx, accountID)
	if err != nil {
		return ModelDecision{}, err
	}

	if slices.Contains(allowed, g.models.Canonical(model)) {
		g.metrics.gateDecision("model", true)
		return ModelDecision{Allowed: true, Message: MessageModelAllowed, AllowedModels: allowed}, nil
	}

	g.metrics.gateDecision("model", false)
	return ModelDecision{
		Allowed: false,
		Message: fmt.Sprintf(
			"Your current subscription plan does not include access to %s. Please upgrade your subscription or choose from your available models: %s",
			model, strings.Join(allowed, ", "),
		),
		AllowedModels: allowed,
	}, nil
}

// ModelInfo describes one model for listing.
type ModelInfo struct {
	ID                   string `json:"id"`
	DisplayName          string `json:"display_name"`
	ShortName            string `json:"short_name,omitempty"`
	RequiresSubscription bool   `json:"requires_subscription"`
	Available            bool   `json:"is_available"`
}

// ModelListing is the set of models with availability for one account.
type ModelListing struct {
	Models           []ModelInfo `json:"models"`
	SubscriptionTier string      `json:"subscription_tier"`
	TotalModels      int         `json:"total_models"`
}

// AvailableModels lists every known model with the account's access to it.
func (g *Gate) AvailableModels(ctx context.Context, accountID uuid.UUID) (ModelListing, error) {
	all := g.models.Models()

	if !g.env.Metered() {
		out := make([]ModelInfo, 0, len(all))
		for _, m := range all {
			out = append(out, ModelInfo{
				ID:          m,
				DisplayName: g.models.DisplayName(m),
				ShortName:   g.models.ShortName(m),
				Available:   true,
			})
		}
		return ModelListing{Models: out, SubscriptionTier: "Local Development", TotalModels: len(out)}, nil
	}

	ent, err := g.resolver.Resolve(ctx, accountID)
	if err != nil {
		return ModelListing{}, err
	}
	allowed := g.resolver.modelsFor(ent)

	out := make([]ModelInfo, 0, len(all))
	for _, m := range all {
		out = append(out, ModelInfo{
			ID:                   m,
			DisplayName:          g.models.DisplayName(m),
			ShortName:            g.models.ShortName(m),
			RequiresSubscription: g.models.RequiresSubscription(m),
			Available:            slices.Contains(allowed, m),
		})
	}
	return ModelListing{Models: out, SubscriptionTier: ent.Tier.Name, TotalModels: len(out)}, nil
}
