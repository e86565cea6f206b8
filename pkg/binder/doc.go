// Package binder decodes HTTP request data into typed request structs for
// handler.Wrap.
//
// Two binders are provided:
//
//   - JSON(): strict application/json body decoding, size-limited to
//     MaxJSONSize; skipped for GET and HEAD.
//   - Query(): URL query parameters into fields tagged `query:"name"`.
//
// Example:
//
//	type ModelRequest struct {
//		Model string `query:"model"`
//	}
//
//	r.Get("/check-model", handler.Wrap(h.checkModel,
//		handler.WithBinders[ModelRequest](binder.Query()),
//	))
//
// Binding failures wrap ErrFailedToParseJSON, ErrFailedToParseQuery,
// ErrMissingContentType or ErrUnsupportedMediaType; the handler package
// maps them to 400 and 415 responses.
package binder
