// Command billingd serves the billing API and runs the scheduled
// stuck-run sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	billingmod "github.com/dmitrymomot/runmeter/modules/billing"
	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/config"
	"github.com/dmitrymomot/runmeter/pkg/environment"
	"github.com/dmitrymomot/runmeter/pkg/httpserver"
	"github.com/dmitrymomot/runmeter/pkg/logger"
	"github.com/dmitrymomot/runmeter/pkg/pg"
	"github.com/dmitrymomot/runmeter/pkg/redis"
	"github.com/dmitrymomot/runmeter/pkg/requestid"
	svcbilling "github.com/dmitrymomot/runmeter/svc/billing"
)

const serviceName = "billingd"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		billingCfg svcbilling.Config
		pgCfg      pg.Config
		redisCfg   redis.Config
		httpCfg    httpserver.Config
		logCfg     logger.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&billingCfg) },
		func() error { return config.Load(&pgCfg) },
		func() error { return config.Load(&redisCfg) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&logCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	log := logger.New(
		logger.WithEnvironment(billingCfg.Env, serviceName),
		logger.WithConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := pg.OpenDB(pool)
	defer db.Close()

	if err := pg.Migrate(ctx, db, pgCfg, log); err != nil {
		return err
	}

	probes := []httpserver.Probe{{Name: "postgres", Check: pg.Healthcheck(pool)}}
	deps := svcbilling.Deps{DB: db, Logger: log}

	// Without Redis prices are read from the provider on every plan change.
	if rdb, err := redis.Connect(ctx, redisCfg); err != nil {
		log.WarnContext(ctx, "price cache disabled", logger.Error(err))
	} else {
		defer rdb.Close()
		deps.Redis = rdb
		probes = append(probes, httpserver.Probe{Name: "redis", Check: redis.Healthcheck(rdb)})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Registerer = reg

	svc, err := svcbilling.New(billingCfg, deps)
	if err != nil {
		return err
	}

	if billingCfg.SweepSchedule != "" {
		sched, err := svcbilling.NewSweepScheduler(svc, billingCfg.SweepSchedule, log)
		if err != nil {
			return err
		}
		sched.Start()
		log.InfoContext(ctx, "stuck run sweep scheduled", slog.String("schedule", billingCfg.SweepSchedule))
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				log.Error("stuck run sweep did not stop in time", logger.Error(err))
			}
		}()
	}

	router := newRouter(billingCfg.Env, svc, reg, log, probes)

	return httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log)).Run(ctx, router)
}

func newRouter(env environment.Environment, svc billing.Service, reg *prometheus.Registry, log *slog.Logger, probes []httpserver.Probe) http.Handler {
	r := chi.NewRouter()
	r.Use(
		requestid.Middleware,
		middleware.RealIP,
		middleware.Recoverer,
		environment.Middleware(env),
	)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(log, 5*time.Second, probes...))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Mount("/billing", billingmod.New(svc, billingmod.HeaderAccountResolver(),
		billingmod.WithLogger(log),
	).Handle())

	return r
}
