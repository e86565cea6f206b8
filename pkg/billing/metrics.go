package billing

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "runmeter"

// Metrics holds the billing counters. A nil *Metrics records nothing.
type Metrics struct {
	GateDecisions           *prometheus.CounterVec
	StuckRunsHealed         prometheus.Counter
	RunsExcluded            *prometheus.CounterVec
	ProviderErrors          *prometheus.CounterVec
	PlanChanges             *prometheus.CounterVec
	SubscriptionsReconciled prometheus.Counter
}

// NewMetrics creates the counters and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gate_decisions_total",
			Help:      "Admission decisions by check and result.",
		}, []string{"check", "result"}),
		StuckRunsHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stuck_runs_healed_total",
			Help:      "Runs transitioned from running to failed by self-healing.",
		}),
		RunsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_excluded_total",
			Help:      "Runs left out of usage totals, by reason.",
		}, []string{"reason"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_errors_total",
			Help:      "Failed calls to the subscription provider, by operation.",
		}, []string{"operation"}),
		PlanChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "plan_changes_total",
			Help:      "Plan change requests by outcome.",
		}, []string{"outcome"}),
		SubscriptionsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions_reconciled_total",
			Help:      "Duplicate subscriptions cancelled by reconciliation.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.GateDecisions,
			m.StuckRunsHealed,
			m.RunsExcluded,
			m.ProviderErrors,
			m.PlanChanges,
			m.SubscriptionsReconciled,
		)
	}

	return m
}

func (m *Metrics) gateDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.GateDecisions.WithLabelValues(check, result).Inc()
}

func (m *Metrics) healed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StuckRunsHealed.Add(float64(n))
}

func (m *Metrics) excluded(reason ExclusionReason) {
	if m == nil {
		return
	}
	m.RunsExcluded.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) providerError(op string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) planChange(kind ChangeKind) {
	if m == nil {
		return
	}
	m.PlanChanges.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) reconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SubscriptionsReconciled.Add(float64(n))
}
