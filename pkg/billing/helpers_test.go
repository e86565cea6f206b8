package billing_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/environment"
)

const (
	priceFree = "price_1RdYzWFGcO2Bsf6G6DtXgpfH"
	price20   = "price_1RdZ7BFGcO2Bsf6GipUIRpPI"
	price50   = "price_1RdZPYFGcO2Bsf6GNUQZO9OT"
	price100  = "price_1RdZSwFGcO2Bsf6GrRlDScqw"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) (billing.CatalogSpec, *billing.Catalog, *billing.ModelPolicy) {
	t.Helper()
	spec, err := billing.DefaultCatalogSpec()
	require.NoError(t, err)
	catalog, err := billing.NewCatalog(spec, environment.Production)
	require.NoError(t, err)
	return spec, catalog, billing.NewModelPolicy(spec.Models, spec.FreeTier)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]billing.Subscription, error) {
	args := m.Called(ctx, customerID)
	subs, _ := args.Get(0).([]billing.Subscription)
	return slices.Clone(subs), args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	sub, _ := args.Get(0).(*billing.Subscription)
	return sub, args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

func (m *mockProvider) UpdateSubscriptionPrice(ctx context.Context, change billing.PriceChange) (*billing.Subscription, error) {
	args := m.Called(ctx, change)
	sub, _ := args.Get(0).(*billing.Subscription)
	return sub, args.Error(1)
}

func (m *mockProvider) GetPrice(ctx context.Context, priceID string) (*billing.Price, error) {
	args := m.Called(ctx, priceID)
	p, _ := args.Get(0).(*billing.Price)
	return p, args.Error(1)
}

func (m *mockProvider) GetInvoice(ctx context.Context, invoiceID string) (*billing.InvoiceSummary, error) {
	args := m.Called(ctx, invoiceID)
	inv, _ := args.Get(0).(*billing.InvoiceSummary)
	return inv, args.Error(1)
}

func (m *mockProvider) GetSchedule(ctx context.Context, scheduleID string) (*billing.Schedule, error) {
	args := m.Called(ctx, scheduleID)
	s, _ := args.Get(0).(*billing.Schedule)
	return s, args.Error(1)
}

func (m *mockProvider) CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*billing.Schedule, error) {
	args := m.Called(ctx, subscriptionID)
	s, _ := args.Get(0).(*billing.Schedule)
	return s, args.Error(1)
}

func (m *mockProvider) UpdateSchedule(ctx context.Context, scheduleID string, phases []billing.Phase, end billing.EndBehavior) (*billing.Schedule, error) {
	args := m.Called(ctx, scheduleID, phases, end)
	s, _ := args.Get(0).(*billing.Schedule)
	return s, args.Error(1)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, accountID uuid.UUID, email string) (string, error) {
	args := m.Called(ctx, accountID, email)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutLink, error) {
	args := m.Called(ctx, req)
	l, _ := args.Get(0).(*billing.CheckoutLink)
	return l, args.Error(1)
}

func (m *mockProvider) CreatePortal(ctx context.Context, customerID, returnURL string) (*billing.PortalLink, error) {
	args := m.Called(ctx, customerID, returnURL)
	l, _ := args.Get(0).(*billing.PortalLink)
	return l, args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (*billing.WebhookEvent, error) {
	args := m.Called(payload, signature)
	e, _ := args.Get(0).(*billing.WebhookEvent)
	return e, args.Error(1)
}

type mockCustomers struct {
	mock.Mock
}

func (m *mockCustomers) GetCustomer(ctx context.Context, accountID uuid.UUID) (*billing.Customer, error) {
	args := m.Called(ctx, accountID)
	c, _ := args.Get(0).(*billing.Customer)
	return c, args.Error(1)
}

func (m *mockCustomers) SaveCustomer(ctx context.Context, c billing.Customer) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockCustomers) SetCustomerActive(ctx context.Context, customerID string, active bool) error {
	args := m.Called(ctx, customerID, active)
	return args.Error(0)
}

type mockOverrides struct {
	mock.Mock
}

func (m *mockOverrides) GetActiveOverride(ctx context.Context, accountID uuid.UUID) (*billing.ManualOverride, error) {
	args := m.Called(ctx, accountID)
	o, _ := args.Get(0).(*billing.ManualOverride)
	return o, args.Error(1)
}

func (m *mockOverrides) InsertOverride(ctx context.Context, o billing.ManualOverride) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *mockOverrides) DeactivateOverride(ctx context.Context, accountID uuid.UUID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// memoryRunLog is an in-memory run log whose FailRuns only touches runs
// that are still running.
type memoryRunLog struct {
	mu        sync.Mutex
	threads   map[uuid.UUID][]uuid.UUID
	runs      map[uuid.UUID]*billing.Run
	failErr   error
	listErr   error
	failCalls int
}

func newMemoryRunLog() *memoryRunLog {
	return &memoryRunLog{
		threads: make(map[uuid.UUID][]uuid.UUID),
		runs:    make(map[uuid.UUID]*billing.Run),
	}
}

func (l *memoryRunLog) addRun(accountID uuid.UUID, run billing.Run) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.ThreadID == uuid.Nil {
		run.ThreadID = uuid.New()
	}
	if !slices.Contains(l.threads[accountID], run.ThreadID) {
		l.threads[accountID] = append(l.threads[accountID], run.ThreadID)
	}
	l.runs[run.ID] = &run
	return run.ID
}

func (l *memoryRunLog) get(id uuid.UUID) billing.Run {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.runs[id]
}

func (l *memoryRunLog) ListThreads(_ context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	return slices.Clone(l.threads[accountID]), nil
}

func (l *memoryRunLog) ListRuns(_ context.Context, threadIDs []uuid.UUID, startedAfter time.Time) ([]billing.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []billing.Run
	for _, r := range l.runs {
		if slices.Contains(threadIDs, r.ThreadID) && !r.StartedAt.Before(startedAfter) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *memoryRunLog) FailRuns(_ context.Context, runIDs []uuid.UUID, completedAt time.Time, reason string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failCalls++
	if l.failErr != nil {
		return 0, l.failErr
	}
	var n int64
	for _, id := range runIDs {
		r, ok := l.runs[id]
		if !ok || r.Status != billing.RunRunning {
			continue
		}
		r.Status = billing.RunFailed
		at := completedAt
		r.CompletedAt = &at
		r.Error = reason
		n++
	}
	return n, nil
}

func finishedRun(status billing.RunStatus, started time.Time, d time.Duration) billing.Run {
	end := started.Add(d)
	return billing.Run{Status: status, StartedAt: started, CompletedAt: &end}
}

func runningRun(started time.Time) billing.Run {
	return billing.Run{Status: billing.RunRunning, StartedAt: started}
}

func ptr[T any](v T) *T {
	return &v
}
