package binder

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMissingContentType   = errors.New("missing content type")
	ErrFailedToParseJSON    = errors.New("failed to parse JSON request body")
	ErrFailedToParseQuery   = errors.New("failed to parse query parameters")
	// ErrBinderNotApplicable lets Wrap skip a binder, e.g. JSON on a GET request.
	ErrBinderNotApplicable = errors.New("binder not applicable to request")
)
