package billing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// Source tells where an entitlement came from.
type Source string

const (
	SourceFree         Source = "free"
	SourceSubscription Source = "subscription"
	SourceOverride     Source = "override"
)

// ManualPriceID stands in for a price identifier on override entitlements,
// which have no provider price.
const ManualPriceID = "manual"

// Entitlement is the effective plan of an account.
type Entitlement struct {
	Tier         Tier
	Source       Source
	Subscription *Subscription
	Override     *ManualOverride
}

// Unlimited reports whether usage limits are lifted.
func (e Entitlement) Unlimited() bool {
	return e.Source == SourceOverride
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithResolveTimeout bounds one shared resolution. Non-positive values are ignored.
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// DefaultResolveTimeout bounds a shared resolution when no timeout is set.
const DefaultResolveTimeout = 15 * time.Second

// Resolver determines an account's effective tier. The external provider is
// consulted first, then the manual override store, then the free tier.
type Resolver struct {
	catalog   *Catalog
	models    *ModelPolicy
	provider  Provider
	customers CustomerStore
	overrides OverrideStore
	log       *slog.Logger
	metrics   *Metrics
	timeout   time.Duration
	group     singleflight.Group
}

// NewResolver panics on missing dependencies.
func NewResolver(catalog *Catalog, models *ModelPolicy, provider Provider, customers CustomerStore, overrides OverrideStore, opts ...ResolverOption) *Resolver {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if models == nil {
		panic("billing: ModelPolicy is required")
	}
	if provider == nil {
		panic("billing: Provider is required")
	}
	if customers == nil {
		panic("billing: CustomerStore is required")
	}
	if overrides == nil {
		panic("billing: OverrideStore is required")
	}

	r := &Resolver{
		catalog:   catalog,
		models:    models,
		provider:  provider,
		customers: customers,
		overrides: overrides,
		log:       logger.Discard(),
		timeout:   DefaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the account's entitlement. Provider failures degrade to the
// override store and free tier; only override store failures are returned.
// Concurrent calls for the same account share one resolution. The shared
// work ignores the cancellation of whichever caller started it and is bounded
// by the resolve timeout instead; each caller still returns on its own ctx.
func (r *Resolver) Resolve(ctx context.Context, accountID uuid.UUID) (Entitlement, error) {
	ch := r.group.DoChan(accountID.String(), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(shared, accountID)
	})

	select {
	case <-ctx.Done():
		return Entitlement{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entitlement{}, res.Err
		}
		return res.Val.(Entitlement), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, accountID uuid.UUID) (Entitlement, error) {
	if sub := r.subscriptionOrNil(ctx, accountID); sub != nil {
		tier, err := r.catalog.Resolve(sub.PriceID)
		if err != nil {
			r.log.WarnContext(ctx, "unknown subscription tier, defaulting to free tier",
				logger.AccountID(accountID),
				logger.SubscriptionID(sub.ID),
				logger.PriceID(sub.PriceID),
				logger.Error(ErrUnknownTier),
			)
			tier = r.catalog.Free()
		}
		return Entitlement{Tier: tier, Source: SourceSubscription, Subscription: sub}, nil
	}

	o, err := r.overrides.GetActiveOverride(ctx, accountID)
	switch {
	case err == nil:
		return Entitlement{
			Tier:     Tier{PriceID: ManualPriceID, Name: o.PlanName, MinuteAllowance: Unlimited},
			Source:   SourceOverride,
			Override: o,
		}, nil
	case errors.Is(err, ErrOverrideNotFound):
		return Entitlement{Tier: r.catalog.Free(), Source: SourceFree}, nil
	default:
		r.log.ErrorContext(ctx, "failed to read manual override", logger.AccountID(accountID), logger.Error(err))
		return Entitlement{}, errors.Join(ErrDataAccess, fmt.Errorf("override of account %s: %w", accountID, err))
	}
}

// subscriptionOrNil swallows every lookup failure.
func (r *Resolver) subscriptionOrNil(ctx context.Context, accountID uuid.UUID) *Subscription {
	c, err := r.customers.GetCustomer(ctx, accountID)
	if err != nil {
		if !errors.Is(err, ErrCustomerNotFound) {
			r.log.WarnContext(ctx, "failed to read billing customer", logger.AccountID(accountID), logger.Error(err))
		}
		return nil
	}

	sub, err := r.ActiveSubscription(ctx, accountID, c.ID)
	if err != nil {
		r.log.WarnContext(ctx, "subscription lookup failed, degrading",
			logger.AccountID(accountID),
			logger.CustomerID(c.ID),
			logger.Error(err),
		)
		return nil
	}
	return sub
}

// ActiveSubscription returns the canonical active subscription of a customer
// restricted to catalog prices, or nil when there is none. Duplicates are
// reconciled before returning. Provider errors are returned as is.
func (r *Resolver) ActiveSubscription(ctx context.Context, accountID uuid.UUID, customerID string) (*Subscription, error) {
	subs, err := r.provider.ListActiveSubscriptions(ctx, customerID)
	if err != nil {
		r.metrics.providerError("list_subscriptions")
		return nil, err
	}

	subs = slices.DeleteFunc(subs, func(s Subscription) bool {
		return !r.catalog.Contains(s.PriceID)
	})

	switch len(subs) {
	case 0:
		return nil, nil
	case 1:
		return &subs[0], nil
	}

	r.log.WarnContext(ctx, "account has multiple active subscriptions",
		logger.AccountID(accountID),
		logger.CustomerID(customerID),
		logger.Count(len(subs)),
	)
	canonical, err := r.Reconcile(ctx, accountID, subs)
	if err != nil {
		r.log.ErrorContext(ctx, "subscription reconciliation incomplete",
			logger.AccountID(accountID),
			logger.SubscriptionID(canonical.ID),
			logger.Error(err),
		)
	}
	return &canonical, nil
}

// Reconcile keeps the most recently created subscription and cancels the
// others at period end. It returns the canonical subscription together with
// any cancellation failures. Subscriptions already set to cancel are skipped,
// so repeating the call is harmless.
func (r *Resolver) Reconcile(ctx context.Context, accountID uuid.UUID, subs []Subscription) (Subscription, error) {
	if len(subs) == 0 {
		return Subscription{}, ErrSubscriptionNotFound
	}

	canonical := slices.MaxFunc(subs, func(a, b Subscription) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var errs []error
	cancelled := 0
	for _, s := range subs {
		if s.ID == canonical.ID || s.CancelAtPeriodEnd {
			continue
		}
		if err := r.provider.CancelSubscription(ctx, s.ID); err != nil {
			r.metrics.providerError("cancel_subscription")
			r.log.ErrorContext(ctx, "failed to cancel duplicate subscription",
				logger.AccountID(accountID),
				logger.SubscriptionID(s.ID),
				logger.Error(err),
			)
			errs = append(errs, fmt.Errorf("cancel subscription %s: %w", s.ID, err))
			continue
		}
		cancelled++
		r.log.InfoContext(ctx, "cancelled duplicate subscription",
			logger.AccountID(accountID),
			logger.SubscriptionID(s.ID),
		)
	}
	r.metrics.reconciled(cancelled)

	return canonical, errors.Join(errs...)
}

// AllowedModels returns the models the account may use. An override whose
// plan name has no allow-list of its own gets the union of all lists.
func (r *Resolver) AllowedModels(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	ent, err := r.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return r.modelsFor(ent), nil
}

func (r *Resolver) modelsFor(ent Entitlement) []string {
	if ent.Source == SourceOverride && !r.models.HasTier(ent.Tier.Name) {
		return r.models.Broadest()
	}
	return r.models.ForTier(ent.Tier.Name)
}
