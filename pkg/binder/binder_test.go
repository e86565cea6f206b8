package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/runmeter/pkg/binder"
)

type changeRequest struct {
	PriceID string `json:"price_id"`
	Email   string `json:"email"`
}

func TestJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        changeRequest
		wantErr     error
	}{
		{
			name:        "valid body",
			method:      http.MethodPost,
			contentType: "application/json; charset=utf-8",
			body:        `{"price_id":"price_1","email":"a@b.c"}`,
			want:        changeRequest{PriceID: "price_1", Email: "a@b.c"},
		},
		{
			name:    "GET is skipped",
			method:  http.MethodGet,
			wantErr: binder.ErrBinderNotApplicable,
		},
		{
			name:    "missing content type",
			method:  http.MethodPost,
			body:    `{}`,
			wantErr: binder.ErrMissingContentType,
		},
		{
			name:        "wrong media type",
			method:      http.MethodPost,
			contentType: "text/plain",
			body:        `{}`,
			wantErr:     binder.ErrUnsupportedMediaType,
		},
		{
			name:        "unknown field",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"price":"x"}`,
			wantErr:     binder.ErrFailedToParseJSON,
		},
		{
			name:        "empty body",
			method:      http.MethodPost,
			contentType: "application/json",
			wantErr:     binder.ErrFailedToParseJSON,
		},
		{
			name:        "trailing data",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"price_id":"a"}{"price_id":"b"}`,
			wantErr:     binder.ErrFailedToParseJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, "/change-plan", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			var got changeRequest
			err := binder.JSON()(req, &got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type lookupRequest struct {
	Model   string      `query:"model"`
	Account uuid.UUID   `query:"account"`
	Verbose bool        `query:"verbose"`
	Limit   *int        `query:"limit"`
	Ignored string      `query:"-"`
	Month   *monthParam `query:"month"`
}

// monthParam exercises the TextUnmarshaler path.
type monthParam struct{ raw string }

func (t *monthParam) UnmarshalText(b []byte) error {
	t.raw = string(b)
	return nil
}

func TestQuery(t *testing.T) {
	t.Parallel()

	account := uuid.New()

	t.Run("binds supported types", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet,
			"/check-model?model=sonnet-4&account="+account.String()+"&verbose=true&limit=5&Ignored=x&month=2025-06", nil)

		var got lookupRequest
		require.NoError(t, binder.Query()(req, &got))
		assert.Equal(t, "sonnet-4", got.Model)
		assert.Equal(t, account, got.Account)
		assert.True(t, got.Verbose)
		require.NotNil(t, got.Limit)
		assert.Equal(t, 5, *got.Limit)
		assert.Empty(t, got.Ignored)
		require.NotNil(t, got.Month)
		assert.Equal(t, "2025-06", got.Month.raw)
	})

	t.Run("absent parameters keep zero values", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/check-model", nil)

		var got lookupRequest
		require.NoError(t, binder.Query()(req, &got))
		assert.Equal(t, lookupRequest{}, got)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Parallel()
		for _, q := range []string{"verbose=maybe", "limit=ten", "account=not-a-uuid"} {
			req := httptest.NewRequest(http.MethodGet, "/x?"+q, nil)
			var got lookupRequest
			assert.ErrorIs(t, binder.Query()(req, &got), binder.ErrFailedToParseQuery, q)
		}
	})

	t.Run("non struct target", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		var s string
		assert.ErrorIs(t, binder.Query()(req, &s), binder.ErrFailedToParseQuery)
	})
}
