package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelrelay/authsession/auth"
	"github.com/modelrelay/authsession/headers"
)

var (
	// ErrOffline is matched (errors.Is) by every error produced because the
	// network monitor reported the device offline.
	ErrOffline = errors.New("offline")
	// ErrNoRefreshToken means the token store holds nothing to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrMalformedResponse reports a server payload matching none of the known layouts.
	ErrMalformedResponse = auth.ErrMalformedResponse
)

// APIError captures a response the server sent with status >= 400.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Fields    []FieldError
}

// FieldError represents a validation failure for a single field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e APIError) Error() string {
	if e.Code == "" {
		e.Code = "UNKNOWN"
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("%s (%d)", e.Code, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// decodeAPIError understands {"error":{"code","message"}}, {"error":"code","message":...}
// and plain-text bodies.
func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	apiErr := apiErrorFromBody(resp.StatusCode, resp.Status, data)
	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header.Get(headers.RequestID)
	}
	return apiErr
}

func apiErrorFromBody(status int, statusText string, data []byte) APIError {
	apiErr := APIError{Status: status}
	if len(strings.TrimSpace(string(data))) == 0 {
		apiErr.Message = statusText
		return apiErr
	}
	var payload struct {
		Error     json.RawMessage `json:"error"`
		Message   string          `json:"message"`
		Code      string          `json:"code"`
		RequestID string          `json:"request_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Code = payload.Code
	apiErr.Message = payload.Message
	apiErr.RequestID = payload.RequestID
	if len(payload.Error) > 0 {
		var nested struct {
			Code    string       `json:"code"`
			Message string       `json:"message"`
			Status  int          `json:"status"`
			Fields  []FieldError `json:"fields"`
		}
		var code string
		switch {
		case json.Unmarshal(payload.Error, &code) == nil:
			if apiErr.Code == "" {
				apiErr.Code = code
			}
		case json.Unmarshal(payload.Error, &nested) == nil:
			apiErr.Code = nested.Code
			if nested.Message != "" {
				apiErr.Message = nested.Message
			}
			if nested.Status != 0 {
				apiErr.Status = nested.Status
			}
			apiErr.Fields = nested.Fields
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = statusText
	}
	return apiErr
}

// TransportErrorKind distinguishes why no response was received.
type TransportErrorKind string

const (
	// TransportOffline: the request was not attempted because the device is offline.
	TransportOffline TransportErrorKind = "offline"
	// TransportNetwork: the request was attempted but no response arrived.
	TransportNetwork TransportErrorKind = "network"
)

// TransportError is returned when no HTTP response was received.
type TransportError struct {
	Kind    TransportErrorKind
	Message string
	Cause   error
}

func (e TransportError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("authsession: %s (%s): %v", msg, e.Kind, e.Cause)
	}
	return fmt.Sprintf("authsession: %s (%s)", msg, e.Kind)
}

func (e TransportError) Unwrap() error { return e.Cause }

// Is makes offline transport errors match ErrOffline.
func (e TransportError) Is(target error) bool {
	return target == ErrOffline && e.Kind == TransportOffline
}

func offlineError(msg string) error {
	return TransportError{Kind: TransportOffline, Message: msg}
}

func classifyTransportError(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return TransportError{Kind: TransportNetwork, Message: msg, Cause: err}
}

// AuthErrorKind classifies failures of the login, signup and refresh flows.
type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "InvalidCredentials"
	AuthAlreadyExists      AuthErrorKind = "AlreadyExists"
	AuthNetwork            AuthErrorKind = "Network"
	AuthNoRefreshToken     AuthErrorKind = "NoRefreshToken"
	AuthUnknown            AuthErrorKind = "Unknown"
)

// AuthError is the domain error surfaced by AuthRepository implementations.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Cause   error
}

func (e AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authsession: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("authsession: %s", e.Kind)
}

func (e AuthError) Unwrap() error { return e.Cause }

// IsAuthError reports whether err is an AuthError of the given kind.
func IsAuthError(err error, kind AuthErrorKind) bool {
	var authErr AuthError
	return errors.As(err, &authErr) && authErr.Kind == kind
}

// ConfigError reports invalid client configuration.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string { return "authsession: invalid config: " + e.Reason }

// ValidationError reports rejected input before any request is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("authsession: invalid %s: %s", e.Field, e.Reason)
}

func asAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var ptr *APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var bare auth.Error
	if errors.As(err, &bare) {
		return apiErrorFromBody(bare.Status, http.StatusText(bare.Status), []byte(bare.Body)), true
	}
	return APIError{}, false
}
