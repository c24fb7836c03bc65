package authsession

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgAlreadyRegistered  = "This email is already registered"
	msgNetwork            = "Network error. Please try again."
	msgSignupFailed       = "Signup failed. Please try again."
	msgUnexpected         = "Something went wrong. Please try again."
	msgNoSession          = "Your session has expired. Please sign in again."
)

// UserMessage renders err as text suitable for end users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return validationMessage(validation)
	}
	var authErr AuthError
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case AuthInvalidCredentials:
			return msgInvalidCredentials
		case AuthAlreadyExists:
			if authErr.Message == "" || authErr.Message == "email_already_registered" {
				return msgAlreadyRegistered
			}
			return authErr.Message
		case AuthNetwork:
			return msgNetwork
		case AuthNoRefreshToken:
			return msgNoSession
		default:
			switch authErr.Message {
			case "":
				return msgUnexpected
			case "failed_to_create_user":
				return msgSignupFailed
			}
			return authErr.Message
		}
	}
	if errors.Is(err, ErrOffline) {
		return msgNetwork
	}
	var transportErr TransportError
	if errors.As(err, &transportErr) {
		return msgNetwork
	}
	return msgUnexpected
}

func validationMessage(err ValidationError) string {
	switch err.Field {
	case "email":
		return "Please enter a valid email address"
	case "password":
		return fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)
	}
	return err.Error()
}

// WaitingMessage describes a waiting RetryState. It returns "" for any other status.
func WaitingMessage(state RetryState, now time.Time) string {
	if state.Status != RetryWaiting {
		return ""
	}
	if state.NextAttemptAt.IsZero() {
		return "Waiting for connection…"
	}
	secs := int(math.Ceil(state.NextAttemptAt.Sub(now).Seconds()))
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("Waiting for connection. Retrying in %ds…", secs)
}
