package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunLog reads and repairs the execution-run history.
type RunLog interface {
	// ListThreads returns the thread IDs owned by the account.
	ListThreads(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)

	// ListRuns returns runs of the given threads started at or after startedAfter.
	ListRuns(ctx context.Context, threadIDs []uuid.UUID, startedAfter time.Time) ([]Run, error)

	// FailRuns marks the given runs failed, but only those still running.
	// Returns the number of rows actually transitioned.
	FailRuns(ctx context.Context, runIDs []uuid.UUID, completedAt time.Time, reason string) (int64, error)
}

// RunSweeper fails every run that has been running since before a cutoff,
// across all accounts.
type RunSweeper interface {
	FailRunsStartedBefore(ctx context.Context, cutoff, completedAt time.Time, reason string) (int64, error)
}

// OverrideStore persists manual overrides.
type OverrideStore interface {
	// GetActiveOverride returns ErrOverrideNotFound when the account has none.
	GetActiveOverride(ctx context.Context, accountID uuid.UUID) (*ManualOverride, error)

	// InsertOverride returns ErrOverrideExists when an active override is already present.
	InsertOverride(ctx context.Context, o ManualOverride) error

	// DeactivateOverride returns ErrOverrideNotFound when there is nothing to deactivate.
	DeactivateOverride(ctx context.Context, accountID uuid.UUID) error
}

// CustomerStore persists the account to provider customer mapping.
type CustomerStore interface {
	// GetCustomer returns ErrCustomerNotFound when the account has no customer record.
	GetCustomer(ctx context.Context, accountID uuid.UUID) (*Customer, error)
	SaveCustomer(ctx context.Context, c Customer) error
	SetCustomerActive(ctx context.Context, customerID string, active bool) error
}
