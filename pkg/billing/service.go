package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/environment"
	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// Service is the public billing API consumed by HTTP handlers and tooling.
type Service interface {
	// Admission
	CheckCanRun(ctx context.Context, accountID uuid.UUID, now time.Time) (RunDecision, error)
	CheckCanUseModel(ctx context.Context, accountID uuid.UUID, model string) (ModelDecision, error)
	AvailableModels(ctx context.Context, accountID uuid.UUID) (ModelListing, error)

	// Reporting
	SubscriptionStatus(ctx context.Context, accountID uuid.UUID, now time.Time) (*StatusReport, error)
	UsageReport(ctx context.Context, accountID uuid.UUID, now time.Time) (UsageReport, error)
	SweepStuckRuns(ctx context.Context, now time.Time) (int64, error)

	// Plan management
	ChangePlan(ctx context.Context, req ChangeRequest, now time.Time) (*ChangeOutcome, error)
	PortalLink(ctx context.Context, accountID uuid.UUID, returnURL string) (*PortalLink, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*Subscription, error)
	GrantOverride(ctx context.Context, accountID uuid.UUID, planName string, now time.Time) (*ManualOverride, error)
	RevokeOverride(ctx context.Context, accountID uuid.UUID) error

	// Provider notifications
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	OnSubscriptionEvent(ctx context.Context, eventType EventType, sub Subscription) error
}

// Stores groups the persistence collaborators of the service.
type Stores struct {
	Runs      RunLog
	Sweeper   RunSweeper
	Customers CustomerStore
	Overrides OverrideStore
}

// ServiceOption configures a Service instance.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	log          *slog.Logger
	metrics      *Metrics
	usageOpts    []UsageOption
	validProduct []string
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(c *serviceConfig) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// WithThresholds overrides the run classification thresholds. Zero values keep the defaults.
func WithThresholds(maxCompleted, stuckAfter, activeCap time.Duration) ServiceOption {
	return func(c *serviceConfig) {
		c.usageOpts = append(c.usageOpts,
			WithMaxCompletedRun(maxCompleted),
			WithStuckRunAfter(stuckAfter),
			WithActiveRunCap(activeCap),
		)
	}
}

// WithProducts restricts plan changes to prices of the given products.
func WithProducts(ids ...string) ServiceOption {
	return func(c *serviceConfig) {
		c.validProduct = append(c.validProduct, ids...)
	}
}

type service struct {
	usage        *UsageAggregator
	resolver     *Resolver
	gate         *Gate
	orchestrator *Orchestrator
	syncer       *Syncer
	stores       Stores
	log          *slog.Logger
}

// NewService builds the catalog for env and wires every billing component.
// Panics if provider or a required store is nil.
func NewService(spec CatalogSpec, env environment.Environment, provider Provider, stores Stores, opts ...ServiceOption) (Service, error) {
	if provider == nil {
		panic("billing: Provider is required")
	}
	if stores.Runs == nil || stores.Customers == nil || stores.Overrides == nil {
		panic("billing: run log, customer store and override store are required")
	}

	cfg := &serviceConfig{log: logger.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}

	catalog, err := NewCatalog(spec, env)
	if err != nil {
		return nil, err
	}
	models := NewModelPolicy(spec.Models, spec.FreeTier)
	log := cfg.log.With(logger.Component("billing"))

	usage := NewUsageAggregator(stores.Runs, append(cfg.usageOpts, WithUsageLogger(log), WithUsageMetrics(cfg.metrics))...)
	resolver := NewResolver(catalog, models, provider, stores.Customers, stores.Overrides,
		WithResolverLogger(log), WithResolverMetrics(cfg.metrics))

	return &service{
		usage:    usage,
		resolver: resolver,
		gate:     NewGate(env, resolver, usage, models, WithGateLogger(log), WithGateMetrics(cfg.metrics)),
		orchestrator: NewOrchestrator(provider, stores.Customers, resolver,
			WithOrchestratorLogger(log), WithOrchestratorMetrics(cfg.metrics), WithValidProducts(cfg.validProduct...)),
		syncer: NewSyncer(provider, stores.Customers, log),
		stores: stores,
		log:    log,
	}, nil
}

func (s *service) CheckCanRun(ctx context.Context, accountID uuid.UUID, now time.Time) (RunDecision, error) {
	return s.gate.CheckCanRun(ctx, accountID, now)
}

func (s *service) CheckCanUseModel(ctx context.Context, accountID uuid.UUID, model string) (ModelDecision, error) {
	return s.gate.CheckCanUseModel(ctx, accountID, model)
}

func (s *service) AvailableModels(ctx context.Context, accountID uuid.UUID) (ModelListing, error) {
	return s.gate.AvailableModels(ctx, accountID)
}

func (s *service) SubscriptionStatus(ctx context.Context, accountID uuid.UUID, now time.Time) (*StatusReport, error) {
	return s.gate.Status(ctx, accountID, now)
}

func (s *service) UsageReport(ctx context.Context, accountID uuid.UUID, now time.Time) (UsageReport, error) {
	return s.usage.Report(ctx, accountID, now)
}

// SweepStuckRuns requires Stores.Sweeper.
func (s *service) SweepStuckRuns(ctx context.Context, now time.Time) (int64, error) {
	if s.stores.Sweeper == nil {
		return 0, ErrSweeperNotConfigured
	}
	return s.usage.SweepStuckRuns(ctx, s.stores.Sweeper, now)
}

func (s *service) ChangePlan(ctx context.Context, req ChangeRequest, now time.Time) (*ChangeOutcome, error) {
	return s.orchestrator.ChangePlan(ctx, req, now)
}

func (s *service) PortalLink(ctx context.Context, accountID uuid.UUID, returnURL string) (*PortalLink, error) {
	return s.orchestrator.PortalLink(ctx, accountID, returnURL)
}

// Reconcile runs duplicate-subscription cleanup for one account on demand.
func (s *service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Subscription, error) {
	c, err := s.stores.Customers.GetCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.resolver.ActiveSubscription(ctx, accountID, c.ID)
}

func (s *service) GrantOverride(ctx context.Context, accountID uuid.UUID, planName string, now time.Time) (*ManualOverride, error) {
	if planName == "" {
		planName = "custom"
	}
	o := ManualOverride{
		ID:        uuid.New(),
		AccountID: accountID,
		Status:    OverrideActive,
		PlanName:  planName,
		CreatedAt: now.UTC(),
	}
	if err := s.stores.Overrides.InsertOverride(ctx, o); err != nil {
		if errors.Is(err, ErrOverrideExists) {
			return nil, err
		}
		return nil, errors.Join(ErrDataAccess, fmt.Errorf("insert override for account %s: %w", accountID, err))
	}
	s.log.InfoContext(ctx, "granted manual override", logger.AccountID(accountID), slog.String("plan", planName))
	return &o, nil
}

func (s *service) RevokeOverride(ctx context.Context, accountID uuid.UUID) error {
	if err := s.stores.Overrides.DeactivateOverride(ctx, accountID); err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			return err
		}
		return errors.Join(ErrDataAccess, err)
	}
	s.log.InfoContext(ctx, "revoked manual override", logger.AccountID(accountID))
	return nil
}

func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return s.syncer.HandleWebhook(ctx, payload, signature)
}

func (s *service) OnSubscriptionEvent(ctx context.Context, eventType EventType, sub Subscription) error {
	return s.syncer.OnSubscriptionEvent(ctx, eventType, sub)
}
