// Package logger builds the slog loggers used by billingd and billingctl.
//
// New starts from JSON at info level on stdout. Environment presets switch
// local and development processes to text at debug level and tag every
// record with the service name and environment:
//
//	var cfg logger.Config // LOG_LEVEL, LOG_FORMAT
//	config.MustLoad(&cfg)
//
//	log := logger.New(
//		logger.WithEnvironment(env, "billingd"),
//		logger.WithConfig(cfg),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
//
// Context extractors run for every record, so request-scoped values such as
// the request ID appear without being passed around.
//
// The attribute helpers keep key names consistent across billing code:
//
//	log.WarnContext(ctx, "stuck run detected",
//		logger.AccountID(accountID),
//		logger.RunID(run.ID),
//		logger.Duration(age),
//	)
//
// Error, Errors and the identifier helpers return an empty attribute for nil
// or empty input, which slog drops.
package logger
