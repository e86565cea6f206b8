package billing

import (
	"time"

	"github.com/dmitrymomot/runmeter/pkg/environment"
)

// Config is the billing configuration read from the process environment.
type Config struct {
	Env environment.Environment `env:"APP_ENV" envDefault:"local"`

	StripeSecretKey     string   `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string   `env:"STRIPE_WEBHOOK_SECRET"`
	ValidProductIDs     []string `env:"STRIPE_VALID_PRODUCT_IDS" envSeparator:","`

	// CatalogPath points at a YAML catalog replacing the embedded one.
	CatalogPath string `env:"BILLING_CATALOG_PATH"`

	MaxCompletedRun time.Duration `env:"BILLING_MAX_COMPLETED_RUN" envDefault:"4h"`
	StuckRunAfter   time.Duration `env:"BILLING_STUCK_RUN_AFTER" envDefault:"1h"`
	ActiveRunCap    time.Duration `env:"BILLING_ACTIVE_RUN_CAP" envDefault:"30m"`
	PriceCacheTTL   time.Duration `env:"BILLING_PRICE_CACHE_TTL" envDefault:"1h"`

	// SweepSchedule is a cron spec for the stuck-run sweep; empty disables it.
	SweepSchedule string `env:"BILLING_SWEEP_SCHEDULE"`
}
