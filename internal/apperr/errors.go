// Package apperr defines the error kinds shared across relaywatch's
// components and the mapping from a wrapped error back to an HTTP status.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Sentinel error kinds. Components wrap one of these with errors.Wrap so
// that origin context (which config key, which provider, which source ref)
// survives while the kind remains recoverable via errors.Is.
var (
	ErrConfig          = errors.New("config error")
	ErrUnavailable     = errors.New("unavailable")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrProvider        = errors.New("provider error")
	ErrTimeout         = errors.New("timed out")
	ErrTransient       = errors.New("transient error")
)

// ProviderDetail carries the upstream status and a truncated body snippet
// for a ErrProvider-kind failure. Retrieve it with errors.As.
type ProviderDetail struct {
	Provider   string
	StatusCode int
	Body       string
	cause      error
}

func (d *ProviderDetail) Error() string {
	return d.cause.Error()
}

func (d *ProviderDetail) Unwrap() error {
	return d.cause
}

// NewProviderError wraps ErrProvider with the upstream status/body so API
// handlers and logs can report it without string-parsing the message.
func NewProviderError(provider string, statusCode int, body string) error {
	detail := &ProviderDetail{Provider: provider, StatusCode: statusCode, Body: body, cause: ErrProvider}
	return errors.Wrapf(detail, "provider %s returned status %d", provider, statusCode)
}

// HTTPStatus classifies err against the sentinel kinds for the API Gateway's
// error policy (§7). Unclassified errors map to 500, matching the
// distilled spec's "Provider/storage failures return 500" default.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusInternalServerError
	case errors.Is(err, ErrProvider):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
