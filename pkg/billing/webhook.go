package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// Syncer keeps the local customer "active" flag in line with provider
// subscription events. It never touches usage or tiers.
type Syncer struct {
	provider  Provider
	customers CustomerStore
	log       *slog.Logger
}

// NewSyncer panics on missing dependencies.
func NewSyncer(provider Provider, customers CustomerStore, log *slog.Logger) *Syncer {
	if provider == nil || customers == nil {
		panic("billing: syncer requires provider and customer store")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Syncer{provider: provider, customers: customers, log: log}
}

// HandleWebhook verifies a raw provider notification and applies it.
// Events other than subscription lifecycle events are acknowledged and ignored.
func (s *Syncer) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if event.Type == EventIgnored || event.Subscription == nil {
		s.log.DebugContext(ctx, "ignoring webhook event", logger.EventType(event.ProviderEvent))
		return nil
	}
	return s.OnSubscriptionEvent(ctx, event.Type, *event.Subscription)
}

// OnSubscriptionEvent marks the customer active for created or updated
// subscriptions that are active or trialing. Otherwise the customer is
// marked inactive unless another active subscription remains.
func (s *Syncer) OnSubscriptionEvent(ctx context.Context, eventType EventType, sub Subscription) error {
	if sub.CustomerID == "" {
		return fmt.Errorf("%w: subscription %s has no customer", ErrMalformedWebhookPayload, sub.ID)
	}

	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if sub.Status.Entitled() {
			return s.setActive(ctx, eventType, sub.CustomerID, true)
		}
	case EventSubscriptionDeleted:
	default:
		return nil
	}

	remaining, err := s.provider.ListActiveSubscriptions(ctx, sub.CustomerID)
	if err != nil {
		return fmt.Errorf("list subscriptions of customer %s: %w", sub.CustomerID, err)
	}
	if len(remaining) > 0 {
		return nil
	}
	return s.setActive(ctx, eventType, sub.CustomerID, false)
}

func (s *Syncer) setActive(ctx context.Context, eventType EventType, customerID string, active bool) error {
	if err := s.customers.SetCustomerActive(ctx, customerID, active); err != nil {
		return errors.Join(ErrDataAccess, fmt.Errorf("set customer %s active=%t: %w", customerID, active, err))
	}
	s.log.InfoContext(ctx, "updated customer active status",
		logger.CustomerID(customerID),
		logger.EventType(string(eventType)),
		slog.Bool("active", active),
	)
	return nil
}
