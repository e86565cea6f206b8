// Package httpserver runs an http.Handler with configured timeouts and
// graceful shutdown on context cancellation, SIGINT or SIGTERM. It also
// provides liveness and readiness handlers built from named probes.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//
//	r := chi.NewRouter()
//	r.Get("/livez", httpserver.LivenessHandler())
//	r.Get("/readyz", httpserver.ReadinessHandler(log, 2*time.Second,
//		httpserver.Probe{Name: "postgres", Check: pg.Healthcheck(pool)},
//		httpserver.Probe{Name: "redis", Check: redis.Healthcheck(rdb)},
//	))
//
//	if err := srv.Run(ctx, r); err != nil {
//		return err
//	}
package httpserver
