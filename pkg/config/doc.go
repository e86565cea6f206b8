// Package config loads typed configuration from environment variables with
// caarlos0/env, optionally seeded from .env files through godotenv.
//
// Each configuration type is parsed once and cached for the life of the
// process; Reload and Reset exist for tests and for tools that change the
// environment at runtime.
//
//	type BillingConfig struct {
//		Environment   environment.Environment `env:"APP_ENV" envDefault:"production"`
//		StuckRunAfter time.Duration           `env:"BILLING_STUCK_RUN_AFTER" envDefault:"1h"`
//	}
//
//	var cfg BillingConfig
//	config.MustLoad(&cfg)
package config
