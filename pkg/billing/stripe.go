package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds the Stripe credentials. Callers fill it from their own
// configuration; svc/billing reads STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeProvider implements Provider on top of stripe-go.
type StripeProvider struct {
	api    *client.API
	secret string
}

// NewStripeProvider creates a Stripe-backed provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &StripeProvider{
		api:    client.New(cfg.SecretKey, nil),
		secret: cfg.WebhookSecret,
	}, nil
}

func (p *StripeProvider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	var out []Subscription
	it := p.api.Subscriptions.List(params)
	for it.Next() {
		out = append(out, subscriptionFromStripe(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, stripeError("list subscriptions", err, ErrProviderUnavailable)
	}
	return out, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
		}
		return nil, stripeError("get subscription", err, ErrProviderUnavailable)
	}
	sub := subscriptionFromStripe(s)
	return &sub, nil
}

// CancelSubscription sets cancel_at_period_end. Missing or already ended
// subscriptions are treated as cancelled.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	if _, err := p.api.Subscriptions.Update(subscriptionID, params); err != nil {
		if isResourceMissing(err) {
			return nil
		}
		if cur, getErr := p.GetSubscription(ctx, subscriptionID); getErr == nil &&
			(cur.Status == SubscriptionCanceled || cur.CancelAtPeriodEnd) {
			return nil
		}
		return stripeError("cancel subscription", err, ErrProviderRequest)
	}
	return nil
}

func (p *StripeProvider) UpdateSubscriptionPrice(ctx context.Context, change PriceChange) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(change.ItemID),
			Price: stripe.String(change.PriceID),
		}},
		ProrationBehavior: stripe.String(string(change.Proration)),
	}
	if change.ResetAnchor {
		params.BillingCycleAnchorNow = stripe.Bool(true)
	}
	params.Context = ctx

	s, err := p.api.Subscriptions.Update(change.SubscriptionID, params)
	if err != nil {
		return nil, stripeError("update subscription", err, ErrProviderRequest)
	}
	sub := subscriptionFromStripe(s)
	return &sub, nil
}

func (p *StripeProvider) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx

	pr, err := p.api.Prices.Get(priceID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, priceID)
		}
		return nil, stripeError("get price", err, ErrProviderUnavailable)
	}
	price := priceFromStripe(pr)
	return &price, nil
}

func (p *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (*InvoiceSummary, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := p.api.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, stripeError("get invoice", err, ErrProviderUnavailable)
	}
	return &InvoiceSummary{
		ID:         inv.ID,
		Status:     string(inv.Status),
		AmountDue:  inv.AmountDue,
		AmountPaid: inv.AmountPaid,
	}, nil
}

func (p *StripeProvider) GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	params := &stripe.SubscriptionScheduleParams{}
	params.Context = ctx

	s, err := p.api.SubscriptionSchedules.Get(scheduleID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
		}
		return nil, stripeError("get schedule", err, ErrProviderUnavailable)
	}
	sched := scheduleFromStripe(s)
	return &sched, nil
}

// CreateScheduleFromSubscription attaches a schedule whose single phase
// mirrors the subscription's current items.
func (p *StripeProvider) CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*Schedule, error) {
	params := &stripe.SubscriptionScheduleParams{FromSubscription: stripe.String(subscriptionID)}
	params.Context = ctx

	s, err := p.api.SubscriptionSchedules.New(params)
	if err != nil {
		return nil, stripeError("create schedule", err, ErrProviderRequest)
	}
	sched := scheduleFromStripe(s)
	return &sched, nil
}

func (p *StripeProvider) UpdateSchedule(ctx context.Context, scheduleID string, phases []Phase, end EndBehavior) (*Schedule, error) {
	params := &stripe.SubscriptionScheduleParams{
		EndBehavior: stripe.String(string(end)),
		Phases:      phaseParams(phases),
	}
	params.Context = ctx

	s, err := p.api.SubscriptionSchedules.Update(scheduleID, params)
	if err != nil {
		return nil, stripeError("update schedule", err, ErrProviderRequest)
	}
	sched := scheduleFromStripe(s)
	return &sched, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, accountID uuid.UUID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("account_id", accountID.String())
	params.Context = ctx

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", stripeError("create customer", err, ErrProviderRequest)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.AddMetadata("account_id", req.AccountID.String())
	if req.ProductID != "" {
		params.AddMetadata("product_id", req.ProductID)
	}
	if req.Referral != "" {
		params.AddMetadata("referral", req.Referral)
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError("create checkout session", err, ErrProviderRequest)
	}
	return &CheckoutLink{SessionID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) CreatePortal(ctx context.Context, customerID, returnURL string) (*PortalLink, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, stripeError("create portal session", err, ErrProviderRequest)
	}
	return &PortalLink{URL: s.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes
// customer.subscription.* events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return parseStripeWebhook(payload, signature, p.secret)
}

func parseStripeWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	out := &WebhookEvent{ID: event.ID, ProviderEvent: string(event.Type), Type: EventIgnored}
	switch string(event.Type) {
	case "customer.subscription.created":
		out.Type = EventSubscriptionCreated
	case "customer.subscription.updated":
		out.Type = EventSubscriptionUpdated
	case "customer.subscription.deleted":
		out.Type = EventSubscriptionDeleted
	default:
		return out, nil
	}

	if event.Data == nil {
		return nil, ErrMalformedWebhookPayload
	}
	var s stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, errors.Join(ErrMalformedWebhookPayload, err)
	}
	sub := subscriptionFromStripe(&s)
	out.Subscription = &sub
	return out, nil
}

func subscriptionFromStripe(s *stripe.Subscription) Subscription {
	sub := Subscription{
		ID:                s.ID,
		Status:            SubscriptionStatus(s.Status),
		Created:           unixTime(s.Created),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.TrialEnd > 0 {
		t := unixTime(s.TrialEnd)
		sub.TrialEnd = &t
	}
	if s.Schedule != nil {
		sub.ScheduleID = s.Schedule.ID
	}
	if s.LatestInvoice != nil {
		sub.LatestInvoiceID = s.LatestInvoice.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		sub.ItemID = item.ID
		sub.Quantity = item.Quantity
		sub.PeriodStart = unixTime(item.CurrentPeriodStart)
		sub.PeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			sub.PriceID = item.Price.ID
		}
	}
	return sub
}

func scheduleFromStripe(s *stripe.SubscriptionSchedule) Schedule {
	sched := Schedule{
		ID:          s.ID,
		Status:      string(s.Status),
		EndBehavior: EndBehavior(s.EndBehavior),
		Phases:      make([]Phase, 0, len(s.Phases)),
	}
	if s.Subscription != nil {
		sched.SubscriptionID = s.Subscription.ID
	}
	for _, ph := range s.Phases {
		phase := Phase{
			Start:     unixTime(ph.StartDate),
			End:       unixTime(ph.EndDate),
			Proration: Proration(ph.ProrationBehavior),
			Items:     make([]PhaseItem, 0, len(ph.Items)),
		}
		for _, it := range ph.Items {
			phase.Items = append(phase.Items, PhaseItem{Price: priceRefFromStripe(it.Price), Quantity: it.Quantity})
		}
		sched.Phases = append(sched.Phases, phase)
	}
	return sched
}

// priceRefFromStripe distinguishes expanded prices from bare references,
// which stripe-go decodes into a Price with only the ID set.
func priceRefFromStripe(p *stripe.Price) PriceRef {
	switch {
	case p == nil:
		return PriceRef{}
	case p.UnitAmount == 0 && p.Product == nil && p.Currency == "":
		return PriceByID(p.ID)
	default:
		return EmbeddedPrice(priceFromStripe(p))
	}
}

func priceFromStripe(p *stripe.Price) Price {
	price := Price{ID: p.ID, Amount: p.UnitAmount, Currency: string(p.Currency)}
	if p.Product != nil {
		price.ProductID = p.Product.ID
	}
	return price
}

func phaseParams(phases []Phase) []*stripe.SubscriptionSchedulePhaseParams {
	out := make([]*stripe.SubscriptionSchedulePhaseParams, 0, len(phases))
	for _, ph := range phases {
		pp := &stripe.SubscriptionSchedulePhaseParams{
			StartDate:         stripe.Int64(ph.Start.Unix()),
			ProrationBehavior: stripe.String(string(ph.Proration)),
			Items:             make([]*stripe.SubscriptionSchedulePhaseItemParams, 0, len(ph.Items)),
		}
		if !ph.End.IsZero() {
			pp.EndDate = stripe.Int64(ph.End.Unix())
		}
		for _, it := range ph.Items {
			pp.Items = append(pp.Items, &stripe.SubscriptionSchedulePhaseItemParams{
				Price:    stripe.String(it.Price.ID()),
				Quantity: stripe.Int64(it.Quantity),
			})
		}
		out = append(out, pp)
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func isResourceMissing(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing
}

func stripeError(op string, err error, kind error) error {
	return errors.Join(kind, fmt.Errorf("stripe %s: %w", op, err))
}
