// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool with
// retry, a database/sql bridge for code written against the standard
// interface, embedded goose migrations for the run log and billing tables,
// and a readiness probe.
//
// # Usage
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	db := pg.OpenDB(pool)
//	if err := pg.Migrate(ctx, db, cfg, log); err != nil {
//		return err
//	}
//
// # Schema
//
// The embedded migrations create threads and agent_runs (the run log read by
// usage aggregation), billing_customers (account to provider customer
// mapping with the active flag maintained by webhooks) and billing_overrides
// (manual unlimited grants, at most one active per account).
//
// # Error Handling
//
// [IsNotFoundError] and [IsDuplicateKeyError] classify driver errors for
// both the pgx and database/sql code paths.
package pg
