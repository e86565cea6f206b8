package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/environment"
)

type serviceFixture struct {
	provider  *mockProvider
	customers *mockCustomers
	overrides *mockOverrides
	runs      *memoryRunLog
	svc       billing.Service
}

func newServiceFixture(t *testing.T, env environment.Environment, sweeper billing.RunSweeper) *serviceFixture {
	t.Helper()
	spec, err := billing.DefaultCatalogSpec()
	require.NoError(t, err)

	f := &serviceFixture{
		provider:  new(mockProvider),
		customers: new(mockCustomers),
		overrides: new(mockOverrides),
		runs:      newMemoryRunLog(),
	}
	f.svc, err = billing.NewService(spec, env, f.provider, billing.Stores{
		Runs:      f.runs,
		Sweeper:   sweeper,
		Customers: f.customers,
		Overrides: f.overrides,
	}, billing.WithThresholds(0, 0, 0))
	require.NoError(t, err)
	return f
}

func TestNewService(t *testing.T) {
	t.Parallel()

	spec, err := billing.DefaultCatalogSpec()
	require.NoError(t, err)
	stores := billing.Stores{Runs: newMemoryRunLog(), Customers: new(mockCustomers), Overrides: new(mockOverrides)}

	assert.Panics(t, func() {
		_, _ = billing.NewService(spec, environment.Production, nil, stores)
	})
	assert.Panics(t, func() {
		_, _ = billing.NewService(spec, environment.Production, new(mockProvider), billing.Stores{})
	})

	spec.FreeTier = "missing"
	_, err = billing.NewService(spec, environment.Production, new(mockProvider), stores)
	assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
}

func TestService_Overrides(t *testing.T) {
	t.Parallel()

	t.Run("grant with default plan", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t, environment.Production, nil)
		account := uuid.New()
		f.overrides.On("InsertOverride", mock.Anything, mock.MatchedBy(func(o billing.ManualOverride) bool {
			return o.AccountID == account && o.PlanName == "custom" && o.Status == billing.OverrideActive
		})).Return(nil).Once()

		o, err := f.svc.GrantOverride(context.Background(), account, "", testNow)
		require.NoError(t, err)
		assert.Equal(t, "custom", o.PlanName)
		assert.Equal(t, testNow, o.CreatedAt)
		f.overrides.AssertExpectations(t)
	})

	t.Run("grant while one is active", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t, environment.Production, nil)
		f.overrides.On("InsertOverride", mock.Anything, mock.Anything).Return(billing.ErrOverrideExists)

		_, err := f.svc.GrantOverride(context.Background(), uuid.New(), "enterprise", testNow)
		assert.ErrorIs(t, err, billing.ErrOverrideExists)
		assert.NotErrorIs(t, err, billing.ErrDataAccess)
	})

	t.Run("revoke", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t, environment.Production, nil)
		account := uuid.New()
		f.overrides.On("DeactivateOverride", mock.Anything, account).Return(nil).Once()
		require.NoError(t, f.svc.RevokeOverride(context.Background(), account))

		other := uuid.New()
		f.overrides.On("DeactivateOverride", mock.Anything, other).Return(errors.New("db down"))
		assert.ErrorIs(t, f.svc.RevokeOverride(context.Background(), other), billing.ErrDataAccess)
	})
}

func TestService_SweepStuckRuns(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, environment.Production, nil)
	_, err := f.svc.SweepStuckRuns(context.Background(), testNow)
	assert.ErrorIs(t, err, billing.ErrSweeperNotConfigured)

	called := false
	f = newServiceFixture(t, environment.Production, sweeperFunc(func(_ context.Context, cutoff, _ time.Time, _ string) (int64, error) {
		called = true
		assert.Equal(t, testNow.Add(-billing.DefaultStuckRunAfter), cutoff)
		return 2, nil
	}))
	n, err := f.svc.SweepStuckRuns(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, called)
}

func TestService_Reconcile(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, environment.Production, nil)
	account := uuid.New()
	f.customers.On("GetCustomer", mock.Anything, account).Return(&billing.Customer{ID: "cus_1", AccountID: account}, nil)
	f.provider.On("ListActiveSubscriptions", mock.Anything, "cus_1").Return([]billing.Subscription{
		{ID: "sub_old", PriceID: price20, Created: testNow.Add(-time.Hour)},
		{ID: "sub_new", PriceID: price50, Created: testNow},
	}, nil)
	f.provider.On("CancelSubscription", mock.Anything, "sub_old").Return(nil).Once()

	sub, err := f.svc.Reconcile(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "sub_new", sub.ID)
	f.provider.AssertExpectations(t)
}

func TestService_UsageReport(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, environment.Production, nil)
	account := uuid.New()
	f.runs.addRun(account, finishedRun(billing.RunCompleted, testNow.Add(-2*time.Hour), 30*time.Minute))
	f.runs.addRun(account, finishedRun(billing.RunCompleted, testNow.Add(-9*time.Hour), 5*time.Hour))

	report, err := f.svc.UsageReport(context.Background(), account, testNow)
	require.NoError(t, err)
	assert.Equal(t, account, report.AccountID)
	assert.Equal(t, billing.PeriodStart(testNow), report.PeriodStart)
	assert.InDelta(t, 30, report.Minutes(), 1e-9)
	require.Len(t, report.Runs, 2)

	var excluded int
	for _, r := range report.Runs {
		if r.Excluded == billing.ExcludedOverCeiling {
			excluded++
		}
	}
	assert.Equal(t, 1, excluded)
}

func TestService_LocalMode(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, environment.Local, nil)
	d, err := f.svc.CheckCanRun(context.Background(), uuid.New(), testNow)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	m, err := f.svc.CheckCanUseModel(context.Background(), uuid.New(), "grok-4")
	require.NoError(t, err)
	assert.True(t, m.Allowed)

	st, err := f.svc.SubscriptionStatus(context.Background(), uuid.New(), testNow)
	require.NoError(t, err)
	assert.Equal(t, "Local Development", st.PlanName)

	f.customers.AssertNotCalled(t, "GetCustomer", mock.Anything, mock.Anything)
}
