package billing

import (
	"context"

	"github.com/google/uuid"
)

// Provider is the external subscription provider. Read methods wrap their
// failures with ErrProviderUnavailable, mutating methods with ErrProviderRequest.
type Provider interface {
	// ListActiveSubscriptions returns the customer's active subscriptions.
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription cancels at period end. Cancelling a subscription that
	// is already cancelled, cancelling, or gone is a no-op.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// UpdateSubscriptionPrice swaps the price of a subscription item.
	UpdateSubscriptionPrice(ctx context.Context, change PriceChange) (*Subscription, error)

	// GetPrice returns ErrInvalidPrice when the price does not exist.
	GetPrice(ctx context.Context, priceID string) (*Price, error)
	GetInvoice(ctx context.Context, invoiceID string) (*InvoiceSummary, error)

	GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error)
	CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*Schedule, error)
	// UpdateSchedule replaces the whole phase list.
	UpdateSchedule(ctx context.Context, scheduleID string, phases []Phase, end EndBehavior) (*Schedule, error)

	CreateCustomer(ctx context.Context, accountID uuid.UUID, email string) (string, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)
	CreatePortal(ctx context.Context, customerID, returnURL string) (*PortalLink, error)

	// ParseWebhook verifies the signature and normalizes the event.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// PriceChange describes an in-place price swap on a subscription item.
type PriceChange struct {
	SubscriptionID string
	ItemID         string
	PriceID        string
	Proration      Proration
	ResetAnchor    bool // restart the billing cycle at the moment of change
}

// EventType is the normalized webhook event type.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventIgnored             EventType = "ignored"
)

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	ID            string
	Type          EventType
	ProviderEvent string
	Subscription  *Subscription
}
