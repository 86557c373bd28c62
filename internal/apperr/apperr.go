// Package apperr centralizes the error kinds spec.md §7 assigns HTTP status
// codes to, so the admin API surface (internal/api and the admin app's
// error handler) can classify an error with errors.As instead of matching
// on message text.
package apperr

import "errors"

// Kind is one of the non-internal error kinds from spec.md §7.
type Kind int

const (
	KindNotFound Kind = iota
	KindUnauthorized
	KindInvalidInput
	KindConflict
	KindUpstream
)

// Error wraps an underlying cause with a Kind and a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func NotFound(message string) error { return &Error{Kind: KindNotFound, Message: message} }

func Unauthorized(message string) error { return &Error{Kind: KindUnauthorized, Message: message} }

func InvalidInput(message string) error { return &Error{Kind: KindInvalidInput, Message: message} }

func Conflict(message string) error { return &Error{Kind: KindConflict, Message: message} }

func Upstream(message string, cause error) error {
	return &Error{Kind: KindUpstream, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err. For an error that is not one of the
// classified kinds it returns ok == false (the returned Kind is then the
// zero value and carries no meaning); callers treat that as Internal (500).
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return 0, false
}

// HTTPStatus maps err's Kind to the status code spec.md §7 assigns it,
// defaulting to 500 for an unclassified error. Shared by every HTTP
// surface (internal/api's per-handler errJSON, the admin app's global
// fiber.Config.ErrorHandler) so a handler that returns an *Error directly
// gets the same status a handler that calls errJSON explicitly would.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return 500
	}
	switch kind {
	case KindNotFound:
		return 404
	case KindUnauthorized:
		return 401
	case KindInvalidInput:
		return 400
	case KindConflict:
		return 409
	case KindUpstream:
		return 502
	default:
		return 500
	}
}
