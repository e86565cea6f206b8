package billing

import (
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrymomot/runmeter/handler"
	"github.com/dmitrymomot/runmeter/pkg/billing"
)

type empty struct{}

func (m *Module) checkStatus(ctx handler.Context, _ empty) handler.Response {
	accountID, err := m.accounts(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	decision, err := m.svc.CheckCanRun(ctx, accountID, m.now())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(decision)
}

type ModelRequest struct {
	Model string `query:"model"`
}

func (m *Module) checkModel(ctx handler.Context, req ModelRequest) handler.Response {
	if req.Model == "" {
		return handler.Error(fmt.Errorf("model query parameter is required: %w", handler.ErrBadRequest))
	}
	accountID, err := m.accounts(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	decision, err := m.svc.CheckCanUseModel(ctx, accountID, req.Model)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(decision)
}

func (m *Module) availableModels(ctx handler.Context, _ empty) handler.Response {
	accountID, err := m.accounts(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	listing, err := m.svc.AvailableModels(ctx, accountID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(listing)
}

func (m *Module) subscription(ctx handler.Context, _ empty) handler.Response {
	accountID, err := m.accounts(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	report, err := m.svc.SubscriptionStatus(ctx, accountID, m.now())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(report)
}

// UsageResponse is the current-month usage of an account.
type UsageResponse struct {
	billing.UsageReport
	TotalMinutes float64 `json:"minutes"`
}

func (m *Module) usage(ctx handler.Context, _ empty) handler.Response {
	accountID, err := m.accounts(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	report, err := m.svc.UsageReport(ctx, accountID, m.now())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(UsageResponse{UsageReport: report, TotalMinutes: report.Minutes()})
}

type ChangePlanRequest struct {
	PriceID    string `json:"price_id"`
	Email      string `json:"email"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Referral   string `json:"referral_id,omitempty"`
}

func (m *Module) changePlan(ctx handler.Context, req ChangePlanRequest) handler.Response {
	accountID, err := m.accounts(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	out, err := m.svc.ChangePlan(ctx, billing.ChangeRequest{
		AccountID:  accountID,
		Email:      req.Email,
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Referral:   req.Referral,
	}, m.now())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(out)
}

type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

func (m *Module) portal(ctx handler.Context, req PortalRequest) handler.Response {
	accountID, err := m.accounts(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	link, err := m.svc.PortalLink(ctx, accountID, req.ReturnURL)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(link)
}

// WebhookRequest carries the raw provider payload; the signature covers
// the exact bytes.
type WebhookRequest struct {
	Payload   []byte
	Signature string
}

const signatureHeader = "Stripe-Signature"

const maxWebhookSize = 64 << 10

func webhookBinder() handler.Bind {
	return func(r *http.Request, v any) error {
		req, ok := v.(*WebhookRequest)
		if !ok {
			return fmt.Errorf("webhook binder: unexpected target %T", v)
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookSize))
		if err != nil {
			return fmt.Errorf("%w: read body: %v", billing.ErrMalformedWebhookPayload, err)
		}
		req.Payload = payload
		req.Signature = r.Header.Get(signatureHeader)
		return nil
	}
}

func (m *Module) webhook(ctx handler.Context, req WebhookRequest) handler.Response {
	if req.Signature == "" {
		return handler.Error(fmt.Errorf("missing %s header: %w", signatureHeader, billing.ErrWebhookVerificationFailed))
	}
	if err := m.svc.HandleWebhook(ctx, req.Payload, req.Signature); err != nil {
		return handler.Error(err)
	}
	return handler.JSON(map[string]bool{"received": true})
}
