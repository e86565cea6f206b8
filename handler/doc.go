// Package handler provides type-safe HTTP request handling.
//
// A HandlerFunc receives a request struct already populated by binders and
// returns a Response. Wrap adapts it to http.HandlerFunc so it can be
// mounted on any router:
//
//	type ChangePlanRequest struct {
//		PriceID string `json:"price_id"`
//	}
//
//	func changePlan(ctx handler.Context, req ChangePlanRequest) handler.Response {
//		out, err := svc.ChangePlan(ctx, ...)
//		if err != nil {
//			return handler.Error(err)
//		}
//		return handler.JSON(out)
//	}
//
//	r.Post("/change-plan", handler.Wrap(changePlan,
//		handler.WithBinders(binder.JSON()),
//		handler.WithErrorHandler(errHandler),
//	))
//
// # Error Handling
//
// Errors from binders, handlers (via Error) and rendering go to the
// ErrorHandler. NewErrorHandler writes {"error": {"code", "message"}} with
// the status chosen by, in order: the configured ErrorMappers, an HTTPError
// in the chain, binder errors (400/415), then 500.
package handler
