package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/environment"
)

func TestNewMetrics_Registers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	billing.NewMetrics(reg)

	assert.Panics(t, func() { billing.NewMetrics(reg) }, "second registration must collide")
	assert.NotPanics(t, func() { billing.NewMetrics(nil) })
}

func TestMetrics_RecordedByComponents(t *testing.T) {
	t.Parallel()

	metrics := billing.NewMetrics(prometheus.NewRegistry())
	_, catalog, models := testCatalog(t)

	provider := new(mockProvider)
	customers := new(mockCustomers)
	overrides := new(mockOverrides)
	runs := newMemoryRunLog()

	account := uuid.New()
	customers.On("GetCustomer", mock.Anything, account).Return(nil, billing.ErrCustomerNotFound)
	overrides.On("GetActiveOverride", mock.Anything, account).Return(nil, billing.ErrOverrideNotFound)
	runs.addRun(account, runningRun(testNow.Add(-2*time.Hour)))
	runs.addRun(account, finishedRun(billing.RunCompleted, testNow.Add(-10*time.Hour), 5*time.Hour))
	runs.addRun(account, finishedRun(billing.RunCompleted, testNow.Add(-3*time.Hour), 61*time.Minute))

	resolver := billing.NewResolver(catalog, models, provider, customers, overrides, billing.WithResolverMetrics(metrics))
	usage := billing.NewUsageAggregator(runs, billing.WithUsageMetrics(metrics))
	gate := billing.NewGate(environment.Production, resolver, usage, models, billing.WithGateMetrics(metrics))

	d, err := gate.CheckCanRun(context.Background(), account, testNow)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	_, err = gate.CheckCanUseModel(context.Background(), account, "gpt-4o-mini")
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("run", "denied")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("model", "allowed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StuckRunsHealed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RunsExcluded.WithLabelValues("stuck")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RunsExcluded.WithLabelValues("over_ceiling")), 0)
}
