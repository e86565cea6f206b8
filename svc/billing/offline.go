package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/billing"
)

// offlineProvider stands in for Stripe in local mode when no keys are
// configured. Every call fails with billing.ErrProviderUnavailable.
type offlineProvider struct{}

var _ billing.Provider = offlineProvider{}

func unavailable(op string) error {
	return fmt.Errorf("%w: %s: no provider configured", billing.ErrProviderUnavailable, op)
}

func (offlineProvider) ListActiveSubscriptions(context.Context, string) ([]billing.Subscription, error) {
	return nil, unavailable("list subscriptions")
}

func (offlineProvider) GetSubscription(context.Context, string) (*billing.Subscription, error) {
	return nil, unavailable("get subscription")
}

func (offlineProvider) CancelSubscription(context.Context, string) error {
	return unavailable("cancel subscription")
}

func (offlineProvider) UpdateSubscriptionPrice(context.Context, billing.PriceChange) (*billing.Subscription, error) {
	return nil, unavailable("update subscription")
}

func (offlineProvider) GetPrice(context.Context, string) (*billing.Price, error) {
	return nil, unavailable("get price")
}

func (offlineProvider) GetInvoice(context.Context, string) (*billing.InvoiceSummary, error) {
	return nil, unavailable("get invoice")
}

func (offlineProvider) GetSchedule(context.Context, string) (*billing.Schedule, error) {
	return nil, unavailable("get schedule")
}

func (offlineProvider) CreateScheduleFromSubscription(context.Context, string) (*billing.Schedule, error) {
	return nil, unavailable("create schedule")
}

func (offlineProvider) UpdateSchedule(context.Context, string, []billing.Phase, billing.EndBehavior) (*billing.Schedule, error) {
	return nil, unavailable("update schedule")
}

func (offlineProvider) CreateCustomer(context.Context, uuid.UUID, string) (string, error) {
	return "", unavailable("create customer")
}

func (offlineProvider) CreateCheckout(context.Context, billing.CheckoutRequest) (*billing.CheckoutLink, error) {
	return nil, unavailable("create checkout")
}

func (offlineProvider) CreatePortal(context.Context, string, string) (*billing.PortalLink, error) {
	return nil, unavailable("create portal")
}

func (offlineProvider) ParseWebhook([]byte, string) (*billing.WebhookEvent, error) {
	return nil, billing.ErrWebhookVerificationFailed
}
