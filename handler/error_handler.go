package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/runmeter/pkg/binder"
	"github.com/dmitrymomot/runmeter/pkg/logger"
	"github.com/dmitrymomot/runmeter/pkg/requestid"
)

// ErrorMapper translates domain errors to HTTP errors. It reports false for
// errors it does not recognize.
type ErrorMapper func(err error) (HTTPError, bool)

// ErrorHandlerOption configures NewErrorHandler.
type ErrorHandlerOption func(*errorHandlerConfig)

type errorHandlerConfig struct {
	log     *slog.Logger
	mappers []ErrorMapper
}

func WithErrorLogger(l *slog.Logger) ErrorHandlerOption {
	return func(c *errorHandlerConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithErrorMapper adds a domain mapper consulted before the built-in rules.
func WithErrorMapper(m ErrorMapper) ErrorHandlerOption {
	return func(c *errorHandlerConfig) {
		if m != nil {
			c.mappers = append(c.mappers, m)
		}
	}
}

// NewErrorHandler writes errors as an ErrorBody envelope. Client errors
// expose the error text; server errors expose only the status text.
func NewErrorHandler(opts ...ErrorHandlerOption) ErrorHandler {
	cfg := &errorHandlerConfig{log: logger.Discard()}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	return func(ctx Context, err error) {
		httpErr := classify(err, cfg.mappers)
		r := ctx.Request()

		level := slog.LevelWarn
		message := err.Error()
		if httpErr.Code >= http.StatusInternalServerError {
			level = slog.LevelError
			message = http.StatusText(httpErr.Code)
		}

		cfg.log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", httpErr.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		_ = JSON(ErrorBody{Error: ErrorDetail{Code: httpErr.Key, Message: message}},
			WithStatus(httpErr.Code)).Render(ctx.ResponseWriter(), r)
	}
}

func classify(err error, mappers []ErrorMapper) HTTPError {
	for _, m := range mappers {
		if httpErr, ok := m(err); ok {
			return httpErr
		}
	}

	var httpErr HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		return ErrUnsupportedMediaType
	case errors.Is(err, binder.ErrFailedToParseJSON), errors.Is(err, binder.ErrFailedToParseQuery):
		return ErrBadRequest
	}
	return ErrInternalServerError
}
