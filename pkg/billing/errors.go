package billing

import "errors"

var (
	ErrDataAccess           = errors.New("billing data access failed")
	ErrProviderUnavailable  = errors.New("billing provider unavailable")
	ErrProviderRequest      = errors.New("billing provider rejected request")
	ErrInconsistentSchedule = errors.New("inconsistent subscription schedule state")
	ErrUnknownTier          = errors.New("price does not match any known tier")

	ErrInvalidCatalog = errors.New("invalid tier catalog")
	ErrTierNotFound   = errors.New("tier not found")
	ErrInvalidPrice   = errors.New("invalid price")
	ErrMissingPriceID = errors.New("price ID is required")

	ErrCustomerNotFound = errors.New("billing customer not found")
	ErrOverrideNotFound = errors.New("active override not found")
	ErrOverrideExists   = errors.New("account already has an active override")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrScheduleNotFound     = errors.New("subscription schedule not found")

	ErrSweeperNotConfigured = errors.New("run sweeper not configured")

	// Provider configuration
	ErrMissingAPIKey             = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret      = errors.New("billing provider webhook secret is required")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrMalformedWebhookPayload   = errors.New("malformed webhook payload")
)
