// Package billing wires pkg/billing to Postgres, Redis and Stripe.
package billing

import (
	"database/sql"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/environment"
	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// Deps are the infrastructure handles the billing service is built on.
// Redis and Registerer are optional.
type Deps struct {
	DB         *sql.DB
	Redis      redis.UniversalClient
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// New assembles a billing.Service from cfg. Outside local mode the Stripe
// keys are required.
func New(cfg Config, deps Deps) (billing.Service, error) {
	if deps.DB == nil {
		panic("billing: nil database handle")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}

	spec, err := billing.LoadCatalogSpec(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Redis != nil {
		provider = billing.NewCachedPriceProvider(provider, deps.Redis, cfg.PriceCacheTTL, log)
	}

	runs := NewRunLog(deps.DB)
	opts := []billing.ServiceOption{
		billing.WithLogger(log),
		billing.WithThresholds(cfg.MaxCompletedRun, cfg.StuckRunAfter, cfg.ActiveRunCap),
		billing.WithProducts(cfg.ValidProductIDs...),
	}
	if deps.Registerer != nil {
		opts = append(opts, billing.WithMetrics(billing.NewMetrics(deps.Registerer)))
	}

	return billing.NewService(spec, cfg.Env, provider, billing.Stores{
		Runs:      runs,
		Sweeper:   runs,
		Customers: NewCustomerStore(deps.DB),
		Overrides: NewOverrideStore(deps.DB),
	}, opts...)
}

func newProvider(cfg Config) (billing.Provider, error) {
	p, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	})
	if err == nil {
		return p, nil
	}
	missing := errors.Is(err, billing.ErrMissingAPIKey) || errors.Is(err, billing.ErrMissingWebhookSecret)
	if missing && cfg.Env == environment.Local {
		return offlineProvider{}, nil
	}
	return nil, err
}
