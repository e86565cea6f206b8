package billing_test

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/runmeter/pkg/environment"
	svcbilling "github.com/dmitrymomot/runmeter/svc/billing"
)

func TestConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"APP_ENV", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
		"BILLING_MAX_COMPLETED_RUN", "BILLING_STUCK_RUN_AFTER", "BILLING_ACTIVE_RUN_CAP",
		"BILLING_PRICE_CACHE_TTL", "BILLING_SWEEP_SCHEDULE",
	} {
		t.Setenv(k, "")
	}

	var cfg svcbilling.Config
	require.NoError(t, env.Parse(&cfg))

	assert.Equal(t, environment.Local, cfg.Env)
	assert.Empty(t, cfg.StripeSecretKey)
	assert.Equal(t, 4*time.Hour, cfg.MaxCompletedRun)
	assert.Equal(t, time.Hour, cfg.StuckRunAfter)
	assert.Equal(t, 30*time.Minute, cfg.ActiveRunCap)
	assert.Equal(t, time.Hour, cfg.PriceCacheTTL)
}

func TestConfig_Stripe(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_1")
	t.Setenv("STRIPE_VALID_PRODUCT_IDS", "prod_a,prod_b")
	t.Setenv("BILLING_STUCK_RUN_AFTER", "45m")

	var cfg svcbilling.Config
	require.NoError(t, env.Parse(&cfg))

	assert.Equal(t, environment.Production, cfg.Env)
	assert.Equal(t, "sk_test_1", cfg.StripeSecretKey)
	assert.Equal(t, "whsec_1", cfg.StripeWebhookSecret)
	assert.Equal(t, []string{"prod_a", "prod_b"}, cfg.ValidProductIDs)
	assert.Equal(t, 45*time.Minute, cfg.StuckRunAfter)
}
