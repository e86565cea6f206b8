package main

import (
	"context"
	"database/sql"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/config"
	"github.com/dmitrymomot/runmeter/pkg/logger"
	"github.com/dmitrymomot/runmeter/pkg/pg"
	"github.com/dmitrymomot/runmeter/pkg/requestid"
	svcbilling "github.com/dmitrymomot/runmeter/svc/billing"
)

// app holds what the commands need; tests substitute it.
type app struct {
	svc     billing.Service
	migrate func(ctx context.Context) error
	close   func()
}

// appOptions are set from persistent flags before the app is opened.
type appOptions struct {
	stuckAfter time.Duration
	verbose    bool
}

type openFunc func(ctx context.Context, opts appOptions) (*app, error)

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	var (
		billingCfg svcbilling.Config
		pgCfg      pg.Config
		logCfg     logger.Config
	)
	if err := config.Load(&billingCfg); err != nil {
		return nil, err
	}
	if err := config.Load(&pgCfg); err != nil {
		return nil, err
	}
	if err := config.Load(&logCfg); err != nil {
		return nil, err
	}
	if opts.stuckAfter > 0 {
		billingCfg.StuckRunAfter = opts.stuckAfter
	}

	logOpts := []logger.Option{
		logger.WithEnvironment(billingCfg.Env, "billingctl"),
		logger.WithConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	}
	if opts.verbose {
		logOpts = append(logOpts, logger.WithOutput(os.Stderr))
	} else {
		logOpts = append(logOpts, logger.WithOutput(io.Discard))
	}
	log := logger.New(logOpts...)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	db := pg.OpenDB(pool)

	svc, err := svcbilling.New(billingCfg, svcbilling.Deps{DB: db, Logger: log})
	if err != nil {
		closeDB(db, pool)
		return nil, err
	}

	return &app{
		svc: svc,
		migrate: func(ctx context.Context) error {
			return pg.Migrate(ctx, db, pgCfg, log)
		},
		close: func() { closeDB(db, pool) },
	}, nil
}

func closeDB(db *sql.DB, pool *pgxpool.Pool) {
	_ = db.Close()
	pool.Close()
}
