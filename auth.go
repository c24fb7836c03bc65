// Package authsession keeps an authenticated client session alive across token
// expiry and transient connectivity loss.
//
// A Client is the composition root: it owns one TokenSession, one TokenStore,
// one NetworkStatus and one RefreshCoordinator, and sends requests through a
// hook Pipeline that refreshes near-expiry tokens, fails fast while offline,
// attaches credentials and retries once after a 401. RetryController wraps any
// action (typically a login or signup use case) with backoff, idempotency keys
// and network/foreground-triggered resumption.
package authsession

import (
	"net/http"

	"github.com/modelrelay/authsession/headers"
)

// sessionAuth attaches "<token type> <access token>" from the live session.
type sessionAuth struct {
	session *TokenSession
}

// Apply reports whether a credential was attached.
func (a sessionAuth) Apply(req *http.Request) bool {
	tokens, ok := a.session.Tokens()
	if !ok {
		return false
	}
	value := tokens.AuthorizationValue()
	if value == "" {
		return false
	}
	req.Header.Set(headers.Authorization, value)
	return true
}
