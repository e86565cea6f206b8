// Package billing mounts the billing API on a chi router.
package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/handler"
	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/binder"
	"github.com/dmitrymomot/runmeter/pkg/logger"
)

// AccountHeader is read by HeaderAccountResolver.
const AccountHeader = "X-Account-ID"

var ErrNoAccount = handler.NewHTTPError(http.StatusUnauthorized, "account_required")

// AccountResolver identifies the account of a request. Authentication
// happens upstream.
type AccountResolver func(r *http.Request) (uuid.UUID, error)

// HeaderAccountResolver trusts the account id set by an authenticating
// proxy in AccountHeader.
func HeaderAccountResolver() AccountResolver {
	return func(r *http.Request) (uuid.UUID, error) {
		raw := strings.TrimSpace(r.Header.Get(AccountHeader))
		if raw == "" {
			return uuid.Nil, ErrNoAccount
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, errors.Join(ErrNoAccount, err)
		}
		return id, nil
	}
}

// Option configures the module.
type Option func(*Module)

func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock replaces time.Now for usage computations.
func WithClock(now func() time.Time) Option {
	return func(m *Module) {
		if now != nil {
			m.now = now
		}
	}
}

// Module exposes admission checks, subscription status, plan changes and
// the provider webhook over HTTP.
type Module struct {
	svc      billing.Service
	accounts AccountResolver
	log      *slog.Logger
	now      func() time.Time
	errors   handler.ErrorHandler
}

func New(svc billing.Service, accounts AccountResolver, opts ...Option) *Module {
	if svc == nil || accounts == nil {
		panic("billing module: service and account resolver are required")
	}
	m := &Module{
		svc:      svc,
		accounts: accounts,
		log:      logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.errors = handler.NewErrorHandler(
		handler.WithErrorLogger(m.log.With(logger.Component("billing_http"))),
		handler.WithErrorMapper(mapError),
	)
	return m
}

// Handle returns the router. Mount it under a prefix such as /billing.
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/check-status", handler.Wrap(m.checkStatus, handler.WithErrorHandler(m.errors)))
	r.Get("/check-model", handler.Wrap(m.checkModel,
		handler.WithBinders(binder.Query()),
		handler.WithErrorHandler(m.errors),
	))
	r.Get("/available-models", handler.Wrap(m.availableModels, handler.WithErrorHandler(m.errors)))
	r.Get("/subscription", handler.Wrap(m.subscription, handler.WithErrorHandler(m.errors)))
	r.Get("/usage", handler.Wrap(m.usage, handler.WithErrorHandler(m.errors)))
	r.Post("/change-plan", handler.Wrap(m.changePlan,
		handler.WithBinders(binder.JSON()),
		handler.WithErrorHandler(m.errors),
	))
	r.Post("/portal", handler.Wrap(m.portal,
		handler.WithBinders(binder.JSON()),
		handler.WithErrorHandler(m.errors),
	))
	r.Post("/webhook", handler.Wrap(m.webhook,
		handler.WithBinders(webhookBinder()),
		handler.WithErrorHandler(m.errors),
	))

	return r
}

func mapError(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, ErrNoAccount):
		return ErrNoAccount, true
	case errors.Is(err, billing.ErrMissingPriceID), errors.Is(err, billing.ErrInvalidPrice):
		return handler.NewHTTPError(http.StatusBadRequest, "invalid_price"), true
	case errors.Is(err, billing.ErrCustomerNotFound):
		return handler.NewHTTPError(http.StatusNotFound, "no_billing_customer"), true
	case errors.Is(err, billing.ErrWebhookVerificationFailed), errors.Is(err, billing.ErrMalformedWebhookPayload):
		return handler.NewHTTPError(http.StatusBadRequest, "invalid_webhook"), true
	case errors.Is(err, billing.ErrInconsistentSchedule):
		return handler.NewHTTPError(http.StatusConflict, "inconsistent_schedule"), true
	case errors.Is(err, billing.ErrProviderRequest):
		// A refused write is the caller's to fix; the provider's message is kept.
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "provider_rejected"), true
	case errors.Is(err, billing.ErrProviderUnavailable):
		return handler.ErrBadGateway, true
	}
	return handler.HTTPError{}, false
}
