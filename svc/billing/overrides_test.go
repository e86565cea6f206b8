package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/runmeter/pkg/billing"
	svcbilling "github.com/dmitrymomot/runmeter/svc/billing"
)

func TestOverrideStore_GetActiveOverride(t *testing.T) {
	t.Parallel()

	t.Run("active row", func(t *testing.T) {
		t.Parallel()
		db, mock := newDB(t)
		account, id := uuid.New(), uuid.New()
		created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery("SELECT id, status, plan_name, created_at FROM billing_overrides WHERE account_id = \\$1 AND status = 'active'").
			WithArgs(account).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "plan_name", "created_at"}).
				AddRow(id.String(), "active", "partner", created))

		o, err := svcbilling.NewOverrideStore(db).GetActiveOverride(context.Background(), account)
		require.NoError(t, err)
		assert.Equal(t, id, o.ID)
		assert.Equal(t, account, o.AccountID)
		assert.Equal(t, billing.OverrideActive, o.Status)
		assert.Equal(t, "partner", o.PlanName)
		assert.True(t, created.Equal(o.CreatedAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("none", func(t *testing.T) {
		t.Parallel()
		db, mock := newDB(t)
		mock.ExpectQuery("SELECT (.+) FROM billing_overrides").
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "plan_name", "created_at"}))

		_, err := svcbilling.NewOverrideStore(db).GetActiveOverride(context.Background(), uuid.New())
		assert.ErrorIs(t, err, billing.ErrOverrideNotFound)
	})
}

func TestOverrideStore_InsertOverride(t *testing.T) {
	t.Parallel()

	o := billing.ManualOverride{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Status:    billing.OverrideActive,
		PlanName:  "custom",
		CreatedAt: testNow,
	}

	t.Run("inserted", func(t *testing.T) {
		t.Parallel()
		db, mock := newDB(t)
		mock.ExpectExec("INSERT INTO billing_overrides").
			WithArgs(o.ID, o.AccountID, "active", "custom", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svcbilling.NewOverrideStore(db).InsertOverride(context.Background(), o))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to ErrOverrideExists", func(t *testing.T) {
		t.Parallel()
		db, mock := newDB(t)
		mock.ExpectExec("INSERT INTO billing_overrides").
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "billing_overrides_active_account_idx"})

		err := svcbilling.NewOverrideStore(db).InsertOverride(context.Background(), o)
		assert.ErrorIs(t, err, billing.ErrOverrideExists)
	})

	t.Run("other failures are wrapped", func(t *testing.T) {
		t.Parallel()
		db, mock := newDB(t)
		boom := errors.New("disk full")
		mock.ExpectExec("INSERT INTO billing_overrides").WillReturnError(boom)

		err := svcbilling.NewOverrideStore(db).InsertOverride(context.Background(), o)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, billing.ErrOverrideExists)
	})
}

func TestOverrideStore_DeactivateOverride(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "deactivated", affected: 1},
		{name: "nothing active", affected: 0, wantErr: billing.ErrOverrideNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db, mock := newDB(t)
			account := uuid.New()

			mock.ExpectExec("UPDATE billing_overrides SET status = 'inactive'").
				WithArgs(account).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := svcbilling.NewOverrideStore(db).DeactivateOverride(context.Background(), account)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
