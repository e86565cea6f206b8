// Package requestid tags every billing API request and every billingctl
// invocation with a correlation ID.
//
// Middleware reuses a valid X-Request-ID (or X-Correlation-ID) sent by the
// caller and generates a UUID otherwise. The ID is stored in the request
// context and echoed in the response header, so a gate decision logged by the
// service can be matched with the agent runner's own logs.
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//
// Command-line tools that have no inbound request seed the context directly:
//
//	ctx = requestid.WithContext(ctx, requestid.New())
//
// Client IDs longer than 128 bytes or containing anything other than letters,
// digits, '-' and '_' are replaced silently.
package requestid
