package authsession

import (
	"context"
	"errors"
	"net/http"
)

// DefaultShouldRetry treats connectivity failures, 408 and 5xx responses as
// transient. Client errors, auth outcomes, validation failures and
// cancellation are final.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var authErr AuthError
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case AuthInvalidCredentials, AuthAlreadyExists, AuthNoRefreshToken:
			return false
		case AuthNetwork:
			return true
		}
	}
	if errors.Is(err, ErrOffline) {
		return true
	}
	var transportErr TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	if apiErr, ok := asAPIError(err); ok {
		switch {
		case apiErr.Status == http.StatusRequestTimeout:
			return true
		case apiErr.Status >= 500:
			return true
		}
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}
