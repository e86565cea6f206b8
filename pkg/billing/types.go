package billing

import (
	"time"

	"github.com/google/uuid"
)

// Unlimited marks an allowance without a ceiling.
const Unlimited int64 = -1

// RunStatus is the lifecycle status of a metered run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	switch s {
	case RunCompleted, RunFailed, RunStopped:
		return true
	}
	return false
}

// Run is a single metered execution. The execution subsystem owns it;
// billing only repairs runs it has determined to be stuck.
type Run struct {
	ID          uuid.UUID
	ThreadID    uuid.UUID
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// SubscriptionStatus mirrors the provider's subscription status values.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionPaused     SubscriptionStatus = "paused"
)

// Entitled reports whether the status grants the subscribed tier.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// Subscription is the provider's view of an account's plan, reduced to
// the fields billing decisions depend on. Only the first item is tracked.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            SubscriptionStatus
	Created           time.Time
	PriceID           string
	ItemID            string
	Quantity          int64
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	TrialEnd          *time.Time
	ScheduleID        string
	LatestInvoiceID   string
}

// OverrideStatus is the status of a manual override.
type OverrideStatus string

const (
	OverrideActive   OverrideStatus = "active"
	OverrideInactive OverrideStatus = "inactive"
)

// ManualOverride is a plan granted outside the payment provider.
// At most one active override exists per account.
type ManualOverride struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Status    OverrideStatus
	PlanName  string
	CreatedAt time.Time
}

// Customer links an account to its provider customer record.
type Customer struct {
	ID        string // provider customer ID (cus_xxx)
	AccountID uuid.UUID
	Email     string
	Provider  string
	Active    bool
}

// Price is the subset of a provider price used for plan-change decisions.
type Price struct {
	ID        string `json:"id"`
	Amount    int64  `json:"unit_amount"` // minor units
	Currency  string `json:"currency,omitempty"`
	ProductID string `json:"product,omitempty"`
}

// Dollars returns the amount in major units rounded to cents.
func (p Price) Dollars() float64 {
	return centsToDollars(p.Amount)
}

// InvoiceSummary describes the invoice produced by an immediate plan change.
type InvoiceSummary struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	AmountDue  int64  `json:"amount_due"`
	AmountPaid int64  `json:"amount_paid"`
}

// CheckoutRequest carries the data for a hosted checkout session.
type CheckoutRequest struct {
	CustomerID string
	AccountID  uuid.UUID
	PriceID    string
	ProductID  string
	SuccessURL string
	CancelURL  string
	Referral   string
}

// CheckoutLink is a hosted checkout session.
type CheckoutLink struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalLink is a pre-authenticated customer portal session.
type PortalLink struct {
	URL string `json:"url"`
}

func centsToDollars(v int64) float64 {
	return float64(v) / 100
}
