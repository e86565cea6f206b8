package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/pg"
)

// CustomerStore persists billing_customers rows.
type CustomerStore struct {
	db *sql.DB
}

var _ billing.CustomerStore = (*CustomerStore)(nil)

func NewCustomerStore(db *sql.DB) *CustomerStore {
	if db == nil {
		panic("billing: nil database handle")
	}
	return &CustomerStore{db: db}
}

func (s *CustomerStore) GetCustomer(ctx context.Context, accountID uuid.UUID) (*billing.Customer, error) {
	c := billing.Customer{AccountID: accountID}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, provider, active FROM billing_customers WHERE account_id = $1`,
		accountID,
	).Scan(&c.ID, &c.Email, &c.Provider, &c.Active)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer of account %s: %w", accountID, err)
	}
	return &c, nil
}

// SaveCustomer upserts by account so a recreated provider customer replaces the old one.
func (s *CustomerStore) SaveCustomer(ctx context.Context, c billing.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_customers (id, account_id, email, provider, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE
		SET id = EXCLUDED.id, email = EXCLUDED.email, provider = EXCLUDED.provider, updated_at = now()`,
		c.ID, c.AccountID, c.Email, c.Provider, c.Active,
	)
	if err != nil {
		return fmt.Errorf("save customer %s: %w", c.ID, err)
	}
	return nil
}

// SetCustomerActive is a no-op for unknown customers; webhooks may arrive
// for customers created outside this service.
func (s *CustomerStore) SetCustomerActive(ctx context.Context, customerID string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE billing_customers SET active = $1, updated_at = now() WHERE id = $2`,
		active, customerID,
	)
	if err != nil {
		return fmt.Errorf("set customer %s active: %w", customerID, err)
	}
	return nil
}
