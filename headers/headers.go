// Package headers defines HTTP header constants used by the session client.
// This is the single source of truth for header names sent on authenticated requests.
package headers

const (
	// Authorization carries "<token type> <access token>" on authenticated requests.
	Authorization = "Authorization"

	// IdempotencyKey lets the server deduplicate retried writes (signup, login).
	// The same value is sent on every retry of one logical operation.
	IdempotencyKey = "Idempotency-Key"

	// RequestID is the header for request correlation.
	RequestID = "X-Request-Id"

	// Traceparent carries the W3C trace context of the calling span.
	Traceparent = "Traceparent"

	// UserAgent identifies the client library.
	UserAgent = "User-Agent"
)
