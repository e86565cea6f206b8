// Package billing meters agent run time against subscription tiers and
// decides whether an account may start new work or use a given model.
//
// The package combines four concerns behind one Service:
//
//   - Usage aggregation: monthly run minutes computed from a RunLog, with
//     stuck runs excluded and then failed in place (self-healing).
//   - Entitlement resolution: the effective tier of an account, taken from
//     the external provider first, then from a manual override, then the
//     free tier.
//   - Admission: CheckCanRun and CheckCanUseModel, answered by the Gate.
//   - Plan changes: upgrades applied immediately with proration, downgrades
//     deferred to the end of the paid period through a two-phase schedule.
//
// # Tiers and Models
//
// Tiers are declared in a YAML catalog (an embedded default ships with the
// package) with one price identifier per deployment environment:
//
//	spec, err := billing.LoadCatalogSpec(os.Getenv("BILLING_CATALOG_PATH"))
//	catalog, err := billing.NewCatalog(spec, environment.Production)
//	tier, err := catalog.Resolve("price_1RdZ7BFGcO2Bsf6GipUIRpPI") // tier_2_20, 120 minutes
//
// The same file maps model aliases ("sonnet-4") to canonical names
// ("anthropic/claude-sonnet-4") and lists the models each tier may use.
// Tiers without a list of their own get the free list.
//
// # Usage Rules
//
// Only runs started in the current UTC calendar month count:
//
//   - finished runs are billed for their duration unless it exceeds the
//     ceiling (4h by default), in which case they contribute nothing;
//   - running runs older than the stuck threshold (1h) contribute nothing
//     and are marked failed with StuckRunReason;
//   - other running runs contribute their elapsed time, capped at 30m.
//
// Runs failed with StuckRunReason, by this package or by a sweep, stay
// excluded on later computations.
//
// Thresholds are configurable through WithThresholds.
//
// # Quick Start
//
//	provider, err := billing.NewStripeProvider(billing.StripeConfig{
//		SecretKey:     cfg.StripeSecretKey,
//		WebhookSecret: cfg.StripeWebhookSecret,
//	})
//	if err != nil {
//		return err
//	}
//
//	svc, err := billing.NewService(spec, environment.Production,
//		billing.NewCachedPriceProvider(provider, rdb, time.Hour, log),
//		billing.Stores{Runs: runs, Sweeper: runs, Customers: customers, Overrides: overrides},
//		billing.WithLogger(log),
//		billing.WithMetrics(billing.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//
//	decision, err := svc.CheckCanRun(ctx, accountID, time.Now())
//	if err != nil {
//		return err
//	}
//	if !decision.Allowed {
//		return errors.New(decision.Message)
//	}
//
// # Local Mode
//
// In the local environment metering is disabled: every run and every model
// is allowed and the provider is never called.
//
// # Plan Changes
//
// ChangePlan compares the unit amounts of the current and requested prices.
// A higher amount swaps the subscription item at once, invoicing the
// prorated difference and restarting the billing cycle. A lower or equal
// amount rewrites the subscription schedule into two phases: the current
// items until the period end, then the new price. An account without a
// subscription gets a checkout session instead.
//
// # Error Handling
//
// Errors are classified with sentinel values that callers match through
// errors.Is:
//
//	ErrDataAccess           // run log or store failure
//	ErrProviderUnavailable  // provider could not be reached
//	ErrProviderRequest      // provider refused a write
//	ErrInconsistentSchedule // schedule cannot be rewritten safely
//
// Provider failures during entitlement resolution are never returned; the
// account degrades to its override or the free tier.
package billing
