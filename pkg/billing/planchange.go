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

// ChangeKind is the outcome of a plan change request.
type ChangeKind string

const (
	ChangeNone               ChangeKind = "no_change"
	ChangeUpgraded           ChangeKind = "updated"
	ChangeDowngradeScheduled ChangeKind = "scheduled"
	ChangeCheckout           ChangeKind = "new"
)

// Effective dates reported in ChangeDetails.
const (
	EffectiveImmediate   = "immediate"
	EffectiveEndOfPeriod = "end_of_period"
)

// ChangeRequest asks to move an account to another price.
type ChangeRequest struct {
	AccountID  uuid.UUID
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Referral   string
}

// ChangeOutcome is the tagged result of a plan change. Exactly the fields
// relevant to Kind are set.
type ChangeOutcome struct {
	Kind           ChangeKind    `json:"status"`
	Message        string        `json:"message"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	ScheduleID     string        `json:"schedule_id,omitempty"`
	Checkout       *CheckoutLink `json:"checkout,omitempty"`
	Details        ChangeDetails `json:"details"`
}

// ChangeDetails carries prices in major units and the effective date.
type ChangeDetails struct {
	IsUpgrade     *bool           `json:"is_upgrade"`
	EffectiveDate string          `json:"effective_date,omitempty"`
	EffectiveAt   *time.Time      `json:"effective_at,omitempty"`
	CurrentPrice  float64         `json:"current_price"`
	NewPrice      float64         `json:"new_price"`
	Invoice       *InvoiceSummary `json:"invoice,omitempty"`
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithOrchestratorMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithValidProducts restricts plan changes to prices of the given products.
func WithValidProducts(ids ...string) OrchestratorOption {
	return func(o *Orchestrator) {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if o.products == nil {
				o.products = make(map[string]struct{}, len(ids))
			}
			o.products[id] = struct{}{}
		}
	}
}

// Orchestrator drives plan changes against the provider. Upgrades apply
// immediately with proration; downgrades are deferred to the end of the
// paid period through a two-phase schedule.
type Orchestrator struct {
	provider  Provider
	customers CustomerStore
	resolver  *Resolver
	products  map[string]struct{}
	log       *slog.Logger
	metrics   *Metrics
}

// NewOrchestrator panics on missing dependencies.
func NewOrchestrator(provider Provider, customers CustomerStore, resolver *Resolver, opts ...OrchestratorOption) *Orchestrator {
	if provider == nil || customers == nil || resolver == nil {
		panic("billing: orchestrator requires provider, customer store and resolver")
	}
	o := &Orchestrator{
		provider:  provider,
		customers: customers,
		resolver:  resolver,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ChangePlan moves the account to req.PriceID. Provider failures are
// returned with the subscription named and are never retried here.
func (o *Orchestrator) ChangePlan(ctx context.Context, req ChangeRequest, now time.Time) (*ChangeOutcome, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	price, err := o.provider.GetPrice(ctx, req.PriceID)
	if err != nil {
		o.metrics.providerError("get_price")
		return nil, fmt.Errorf("retrieve price %s: %w", req.PriceID, err)
	}
	if o.products != nil {
		if _, ok := o.products[price.ProductID]; !ok {
			return nil, fmt.Errorf("%w: price %s belongs to product %s", ErrInvalidPrice, price.ID, price.ProductID)
		}
	}

	customerID, err := o.ensureCustomer(ctx, req.AccountID, req.Email)
	if err != nil {
		return nil, err
	}

	sub, err := o.resolver.ActiveSubscription(ctx, req.AccountID, customerID)
	if err != nil {
		return nil, fmt.Errorf("look up subscription of account %s: %w", req.AccountID, err)
	}

	var out *ChangeOutcome
	switch {
	case sub == nil:
		out, err = o.checkout(ctx, req, customerID, price)
	case sub.PriceID == price.ID:
		out = &ChangeOutcome{
			Kind:           ChangeNone,
			Message:        "Already subscribed to this plan.",
			SubscriptionID: sub.ID,
			Details:        ChangeDetails{CurrentPrice: price.Dollars(), NewPrice: price.Dollars()},
		}
	default:
		out, err = o.change(ctx, req.AccountID, customerID, *sub, *price, now)
	}
	if err != nil {
		return nil, err
	}

	o.metrics.planChange(out.Kind)
	o.log.InfoContext(ctx, "plan change processed",
		logger.AccountID(req.AccountID),
		logger.SubscriptionID(out.SubscriptionID),
		logger.PriceID(price.ID),
		slog.String("outcome", string(out.Kind)),
	)
	return out, nil
}

func (o *Orchestrator) ensureCustomer(ctx context.Context, accountID uuid.UUID, email string) (string, error) {
	c, err := o.customers.GetCustomer(ctx, accountID)
	if err == nil {
		return c.ID, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return "", errors.Join(ErrDataAccess, err)
	}

	id, err := o.provider.CreateCustomer(ctx, accountID, email)
	if err != nil {
		o.metrics.providerError("create_customer")
		return "", fmt.Errorf("create customer for account %s: %w", accountID, err)
	}
	if err := o.customers.SaveCustomer(ctx, Customer{ID: id, AccountID: accountID, Email: email, Provider: "stripe"}); err != nil {
		return "", errors.Join(ErrDataAccess, fmt.Errorf("save customer %s: %w", id, err))
	}
	return id, nil
}

func (o *Orchestrator) checkout(ctx context.Context, req ChangeRequest, customerID string, price *Price) (*ChangeOutcome, error) {
	link, err := o.provider.CreateCheckout(ctx, CheckoutRequest{
		CustomerID: customerID,
		AccountID:  req.AccountID,
		PriceID:    price.ID,
		ProductID:  price.ProductID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Referral:   req.Referral,
	})
	if err != nil {
		o.metrics.providerError("create_checkout")
		return nil, fmt.Errorf("create checkout for customer %s: %w", customerID, err)
	}

	// Confirmed or reverted by the subscription webhook.
	o.markActive(ctx, customerID)

	return &ChangeOutcome{
		Kind:     ChangeCheckout,
		Message:  "Checkout session created",
		Checkout: link,
		Details:  ChangeDetails{NewPrice: price.Dollars()},
	}, nil
}

func (o *Orchestrator) change(ctx context.Context, accountID uuid.UUID, customerID string, sub Subscription, price Price, now time.Time) (*ChangeOutcome, error) {
	current, err := o.provider.GetPrice(ctx, sub.PriceID)
	if err != nil {
		o.metrics.providerError("get_price")
		return nil, fmt.Errorf("retrieve current price of subscription %s: %w", sub.ID, err)
	}

	if price.Amount > current.Amount {
		return o.upgrade(ctx, customerID, sub, *current, price)
	}
	return o.scheduleDowngrade(ctx, accountID, sub, *current, price, now)
}

func (o *Orchestrator) upgrade(ctx context.Context, customerID string, sub Subscription, current, next Price) (*ChangeOutcome, error) {
	updated, err := o.provider.UpdateSubscriptionPrice(ctx, PriceChange{
		SubscriptionID: sub.ID,
		ItemID:         sub.ItemID,
		PriceID:        next.ID,
		Proration:      ProrationAlwaysInvoice,
		ResetAnchor:    true,
	})
	if err != nil {
		o.metrics.providerError("update_subscription")
		return nil, fmt.Errorf("upgrade subscription %s: %w", sub.ID, err)
	}

	o.markActive(ctx, customerID)

	var invoice *InvoiceSummary
	if updated.LatestInvoiceID != "" {
		invoice, err = o.provider.GetInvoice(ctx, updated.LatestInvoiceID)
		if err != nil {
			o.metrics.providerError("get_invoice")
			o.log.WarnContext(ctx, "failed to retrieve upgrade invoice",
				logger.SubscriptionID(sub.ID),
				logger.Error(err),
			)
		}
	}

	isUpgrade := true
	return &ChangeOutcome{
		Kind:           ChangeUpgraded,
		Message:        "Subscription upgraded successfully",
		SubscriptionID: updated.ID,
		Details: ChangeDetails{
			IsUpgrade:     &isUpgrade,
			EffectiveDate: EffectiveImmediate,
			CurrentPrice:  current.Dollars(),
			NewPrice:      next.Dollars(),
			Invoice:       invoice,
		},
	}, nil
}

func (o *Orchestrator) scheduleDowngrade(ctx context.Context, accountID uuid.UUID, sub Subscription, current, next Price, now time.Time) (*ChangeOutcome, error) {
	fresh, err := o.provider.GetSubscription(ctx, sub.ID)
	if err != nil {
		o.metrics.providerError("get_subscription")
		return nil, fmt.Errorf("refresh subscription %s: %w", sub.ID, err)
	}

	var sched *Schedule
	if fresh.ScheduleID != "" {
		sched, err = o.provider.GetSchedule(ctx, fresh.ScheduleID)
		if err != nil {
			o.metrics.providerError("get_schedule")
			return nil, fmt.Errorf("retrieve schedule %s of subscription %s: %w", fresh.ScheduleID, sub.ID, err)
		}
	} else {
		sched, err = o.provider.CreateScheduleFromSubscription(ctx, sub.ID)
		if err != nil {
			o.metrics.providerError("create_schedule")
			return nil, fmt.Errorf("create schedule for subscription %s: %w", sub.ID, err)
		}
		o.log.InfoContext(ctx, "created schedule from subscription",
			logger.SubscriptionID(sub.ID),
			logger.ScheduleID(sched.ID),
		)
	}

	phase, err := sched.CurrentPhase(now)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	phases, err := DowngradePhases(phase, fresh.PeriodEnd, next.ID)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	updated, err := o.provider.UpdateSchedule(ctx, sched.ID, phases, EndBehaviorRelease)
	if err != nil {
		o.metrics.providerError("update_schedule")
		return nil, fmt.Errorf("schedule downgrade of subscription %s: %w", sub.ID, err)
	}

	effective := fresh.PeriodEnd.UTC()
	isUpgrade := false
	o.log.InfoContext(ctx, "downgrade scheduled",
		logger.AccountID(accountID),
		logger.SubscriptionID(sub.ID),
		logger.ScheduleID(updated.ID),
		slog.Time("effective_at", effective),
	)

	return &ChangeOutcome{
		Kind:           ChangeDowngradeScheduled,
		Message:        "Subscription downgrade scheduled",
		SubscriptionID: sub.ID,
		ScheduleID:     updated.ID,
		Details: ChangeDetails{
			IsUpgrade:     &isUpgrade,
			EffectiveDate: EffectiveEndOfPeriod,
			EffectiveAt:   &effective,
			CurrentPrice:  current.Dollars(),
			NewPrice:      next.Dollars(),
		},
	}, nil
}

func (o *Orchestrator) markActive(ctx context.Context, customerID string) {
	if err := o.customers.SetCustomerActive(ctx, customerID, true); err != nil {
		o.log.ErrorContext(ctx, "failed to mark customer active",
			logger.CustomerID(customerID),
			logger.Error(err),
		)
	}
}

// PortalLink opens the provider's customer portal for the account.
func (o *Orchestrator) PortalLink(ctx context.Context, accountID uuid.UUID, returnURL string) (*PortalLink, error) {
	c, err := o.customers.GetCustomer(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return nil, err
		}
		return nil, errors.Join(ErrDataAccess, err)
	}
	link, err := o.provider.CreatePortal(ctx, c.ID, returnURL)
	if err != nil {
		o.metrics.providerError("create_portal")
		return nil, fmt.Errorf("create portal for customer %s: %w", c.ID, err)
	}
	return link, nil
}
