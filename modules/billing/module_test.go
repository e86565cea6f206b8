package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	billingmod "github.com/dmitrymomot/runmeter/modules/billing"
	"github.com/dmitrymomot/runmeter/pkg/billing"
	"github.com/dmitrymomot/runmeter/pkg/requestid"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type mockService struct {
	mock.Mock
}

func (m *mockService) CheckCanRun(ctx context.Context, accountID uuid.UUID, now time.Time) (billing.RunDecision, error) {
	args := m.Called(ctx, accountID, now)
	return args.Get(0).(billing.RunDecision), args.Error(1)
}

func (m *mockService) CheckCanUseModel(ctx context.Context, accountID uuid.UUID, model string) (billing.ModelDecision, error) {
	args := m.Called(ctx, accountID, model)
	return args.Get(0).(billing.ModelDecision), args.Error(1)
}

func (m *mockService) AvailableModels(ctx context.Context, accountID uuid.UUID) (billing.ModelListing, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(billing.ModelListing), args.Error(1)
}

func (m *mockService) SubscriptionStatus(ctx context.Context, accountID uuid.UUID, now time.Time) (*billing.StatusReport, error) {
	args := m.Called(ctx, accountID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.StatusReport), args.Error(1)
}

func (m *mockService) UsageReport(ctx context.Context, accountID uuid.UUID, now time.Time) (billing.UsageReport, error) {
	args := m.Called(ctx, accountID, now)
	return args.Get(0).(billing.UsageReport), args.Error(1)
}

func (m *mockService) SweepStuckRuns(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockService) ChangePlan(ctx context.Context, req billing.ChangeRequest, now time.Time) (*billing.ChangeOutcome, error) {
	args := m.Called(ctx, req, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ChangeOutcome), args.Error(1)
}

func (m *mockService) PortalLink(ctx context.Context, accountID uuid.UUID, returnURL string) (*billing.PortalLink, error) {
	args := m.Called(ctx, accountID, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalLink), args.Error(1)
}

func (m *mockService) Reconcile(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *mockService) GrantOverride(ctx context.Context, accountID uuid.UUID, planName string, now time.Time) (*billing.ManualOverride, error) {
	args := m.Called(ctx, accountID, planName, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ManualOverride), args.Error(1)
}

func (m *mockService) RevokeOverride(ctx context.Context, accountID uuid.UUID) error {
	return m.Called(ctx, accountID).Error(0)
}

func (m *mockService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

func (m *mockService) OnSubscriptionEvent(ctx context.Context, eventType billing.EventType, sub billing.Subscription) error {
	return m.Called(ctx, eventType, sub).Error(0)
}

type fixture struct {
	svc     *mockService
	account uuid.UUID
	server  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := &mockService{}
	t.Cleanup(func() { svc.AssertExpectations(t) })

	mod := billingmod.New(svc, billingmod.HeaderAccountResolver(),
		billingmod.WithClock(func() time.Time { return testNow }))
	return &fixture{svc: svc, account: uuid.New(), server: mod.Handle()}
}

func (f *fixture) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(billingmod.AccountHeader, f.account.String())
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := errorBody(t, rec)
	return code
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code, body.Error.Message
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	t.Run("limit reached", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.svc.On("CheckCanRun", mock.Anything, f.account, testNow).Return(billing.RunDecision{
			Allowed: false,
			Message: "Monthly limit of 120 minutes reached. Please upgrade your plan or wait until next month.",
			Subscription: &billing.SubscriptionSnapshot{
				PriceID:      "price_1RdZ7BFGcO2Bsf6GipUIRpPI",
				PlanName:     "tier_2_20",
				MinutesLimit: 120,
			},
		}, nil).Once()

		rec := f.do(t, http.MethodGet, "/check-status", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"can_run": false,
			"message": "Monthly limit of 120 minutes reached. Please upgrade your plan or wait until next month.",
			"subscription": {"price_id": "price_1RdZ7BFGcO2Bsf6GipUIRpPI", "plan_name": "tier_2_20", "minutes_limit": 120}
		}`, rec.Body.String())
	})

	t.Run("unlimited override", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.svc.On("CheckCanRun", mock.Anything, f.account, testNow).Return(billing.RunDecision{
			Allowed:      true,
			Message:      billing.MessageOverrideActive,
			Subscription: &billing.SubscriptionSnapshot{PriceID: billing.ManualPriceID, PlanName: "custom", MinutesLimit: billing.AllowanceUnlimited},
		}, nil).Once()

		rec := f.do(t, http.MethodGet, "/check-status", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"minutes_limit":"unlimited"`)
	})

	t.Run("data access failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.svc.On("CheckCanRun", mock.Anything, f.account, testNow).
			Return(billing.RunDecision{}, fmt.Errorf("%w: connection refused", billing.ErrDataAccess)).Once()

		rec := f.do(t, http.MethodGet, "/check-status", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}

func TestAccountResolution(t *testing.T) {
	t.Parallel()

	for _, header := range []string{"", "not-a-uuid"} {
		t.Run(fmt.Sprintf("header %q", header), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			req := httptest.NewRequest(http.MethodGet, "/check-status", nil)
			if header != "" {
				req.Header.Set(billingmod.AccountHeader, header)
			}
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "account_required", errorCode(t, rec))
		})
	}
}

func TestCheckModel(t *testing.T) {
	t.Parallel()

	t.Run("denied", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.svc.On("CheckCanUseModel", mock.Anything, f.account, "sonnet-4").Return(billing.ModelDecision{
			Allowed:       false,
			Message:       "Your current subscription plan does not include access to sonnet-4.",
			AllowedModels: []string{"deepseek/deepseek-chat"},
		}, nil).Once()

		rec := f.do(t, http.MethodGet, "/check-model?model=sonnet-4", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got billing.ModelDecision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.False(t, got.Allowed)
		assert.Equal(t, []string{"deepseek/deepseek-chat"}, got.AllowedModels)
	})

	t.Run("model is required", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := f.do(t, http.MethodGet, "/check-model", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", errorCode(t, rec))
	})
}

func TestAvailableModelsAndSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.On("AvailableModels", mock.Anything, f.account).Return(billing.ModelListing{
		Models:           []billing.ModelInfo{{ID: "anthropic/claude-sonnet-4", DisplayName: "Sonnet 4", ShortName: "sonnet-4", RequiresSubscription: true}},
		SubscriptionTier: "free",
		TotalModels:      1,
	}, nil).Once()
	end := testNow.AddDate(0, 0, 15)
	f.svc.On("SubscriptionStatus", mock.Anything, f.account, testNow).Return(&billing.StatusReport{
		Status:           "active",
		PlanName:         "tier_6_50",
		CurrentPeriodEnd: &end,
		MinutesLimit:     360,
		CurrentUsage:     12.5,
	}, nil).Once()

	rec := f.do(t, http.MethodGet, "/available-models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_available":false`)
	assert.Contains(t, rec.Body.String(), `"total_models":1`)

	rec = f.do(t, http.MethodGet, "/subscription", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report billing.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "tier_6_50", report.PlanName)
	assert.InDelta(t, 12.5, report.CurrentUsage, 0.001)
}

func TestUsage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.On("UsageReport", mock.Anything, f.account, testNow).Return(billing.UsageReport{
		AccountID:   f.account,
		PeriodStart: billing.PeriodStart(testNow),
		Seconds:     930,
	}, nil).Once()

	rec := f.do(t, http.MethodGet, "/usage", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 15.5, got["minutes"], 0.001)
	assert.InDelta(t, 930, got["seconds"], 0.001)
}

func TestChangePlan(t *testing.T) {
	t.Parallel()

	t.Run("forwards request", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.svc.On("ChangePlan", mock.Anything, billing.ChangeRequest{
			AccountID:  f.account,
			Email:      "dev@example.com",
			PriceID:    "price_1RdZPYFGcO2Bsf6GNUQZO9OT",
			SuccessURL: "https://app.example.com/ok",
			CancelURL:  "https://app.example.com/cancel",
		}, testNow).Return(&billing.ChangeOutcome{
			Kind:           billing.ChangeUpgraded,
			Message:        "Subscription upgraded",
			SubscriptionID: "sub_1",
		}, nil).Once()

		rec := f.do(t, http.MethodPost, "/change-plan", `{
			"price_id": "price_1RdZPYFGcO2Bsf6GNUQZO9OT",
			"email": "dev@example.com",
			"success_url": "https://app.example.com/ok",
			"cancel_url": "https://app.example.com/cancel"
		}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"updated"`)
	})

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"invalid price", fmt.Errorf("%w: price_x belongs to product prod_other", billing.ErrInvalidPrice), http.StatusBadRequest, "invalid_price", "price_x belongs to product prod_other"},
		{"provider down", fmt.Errorf("retrieve price: %w", billing.ErrProviderUnavailable), http.StatusBadGateway, "bad_gateway", "Bad Gateway"},
		{"schedule conflict", billing.ErrInconsistentSchedule, http.StatusConflict, "inconsistent_schedule", "inconsistent subscription schedule state"},
		{
			"provider rejected schedule update",
			fmt.Errorf("schedule downgrade of subscription sub_1: %w", errors.Join(billing.ErrProviderRequest,
				errors.New("stripe update schedule: You cannot update a released schedule"))),
			http.StatusUnprocessableEntity,
			"provider_rejected",
			"You cannot update a released schedule",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.svc.On("ChangePlan", mock.Anything, mock.Anything, testNow).Return(nil, tt.err).Once()

			rec := f.do(t, http.MethodPost, "/change-plan", `{"price_id":"price_x"}`, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			code, message := errorBody(t, rec)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, message, tt.wantMessage)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/change-plan", `{"price_id":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPortal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.On("PortalLink", mock.Anything, f.account, "https://app.example.com").
		Return(nil, billing.ErrCustomerNotFound).Once()

	rec := f.do(t, http.MethodPost, "/portal", `{"return_url":"https://app.example.com"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_billing_customer", errorCode(t, rec))
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	payload := `{"id":"evt_1","type":"customer.subscription.updated"}`

	t.Run("verified", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.svc.On("HandleWebhook", mock.Anything, []byte(payload), "t=1,v1=abc").Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.svc.On("HandleWebhook", mock.Anything, mock.Anything, "t=1,v1=bad").
			Return(billing.ErrWebhookVerificationFailed).Once()

		rec := f.do(t, http.MethodPost, "/webhook", payload, map[string]string{"Stripe-Signature": "t=1,v1=bad"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_webhook", errorCode(t, rec))
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/webhook", payload, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.On("AvailableModels", mock.MatchedBy(func(ctx context.Context) bool {
		return requestid.FromContext(ctx) == "req-7"
	}), f.account).Return(billing.ModelListing{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/available-models", nil)
	req.Header.Set(billingmod.AccountHeader, f.account.String())
	req = req.WithContext(requestid.WithContext(req.Context(), "req-7"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { billingmod.New(nil, billingmod.HeaderAccountResolver()) })
	assert.Panics(t, func() { billingmod.New(&mockService{}, nil) })
}
