package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/pg"
)

// OverrideStore persists billing_overrides rows. A partial unique index
// keeps at most one active row per account.
type OverrideStore struct {
	db *sql.DB
}

var _ billing.OverrideStore = (*OverrideStore)(nil)

func NewOverrideStore(db *sql.DB) *OverrideStore {
	if db == nil {
		panic("billing: nil database handle")
	}
	return &OverrideStore{db: db}
}

func (s *OverrideStore) GetActiveOverride(ctx context.Context, accountID uuid.UUID) (*billing.ManualOverride, error) {
	o := billing.ManualOverride{AccountID: accountID}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, plan_name, created_at FROM billing_overrides
		WHERE account_id = $1 AND status = 'active'`,
		accountID,
	).Scan(&o.ID, &status, &o.PlanName, &o.CreatedAt)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrOverrideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get override of account %s: %w", accountID, err)
	}
	o.Status = billing.OverrideStatus(status)
	return &o, nil
}

func (s *OverrideStore) InsertOverride(ctx context.Context, o billing.ManualOverride) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_overrides (id, account_id, status, plan_name, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.AccountID, string(o.Status), o.PlanName, o.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrOverrideExists
	}
	if err != nil {
		return fmt.Errorf("insert override for account %s: %w", o.AccountID, err)
	}
	return nil
}

func (s *OverrideStore) DeactivateOverride(ctx context.Context, accountID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE billing_overrides SET status = 'inactive', updated_at = now()
		WHERE account_id = $1 AND status = 'active'`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("deactivate override of account %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate override of account %s: %w", accountID, err)
	}
	if n == 0 {
		return billing.ErrOverrideNotFound
	}
	return nil
}
