package authsession

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/modelrelay/authsession/auth"
	"github.com/modelrelay/authsession/headers"
	"github.com/modelrelay/authsession/routes"
)

// Credentials encapsulates email/password inputs for login and signup.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RequestOptions carries per-call options for write operations. Cancellation
// is the call's context.
type RequestOptions struct {
	// IdempotencyKey is sent as the Idempotency-Key header when set.
	IdempotencyKey string
}

func (o RequestOptions) header() http.Header {
	h := http.Header{}
	if key := strings.TrimSpace(o.IdempotencyKey); key != "" {
		h.Set(headers.IdempotencyKey, key)
	}
	return h
}

// AuthRepository is the login/signup/refresh/me surface used by the use cases.
type AuthRepository interface {
	Login(ctx context.Context, creds Credentials, opts RequestOptions) (User, error)
	Signup(ctx context.Context, creds Credentials, opts RequestOptions) (User, error)
	Refresh(ctx context.Context, refreshToken string) (AuthTokens, error)
	Me(ctx context.Context) (User, error)
}

// AuthClient implements AuthRepository over the client pipeline. Successful
// login and signup responses carrying tokens populate the session and store.
type AuthClient struct {
	client *Client
}

var _ AuthRepository = (*AuthClient)(nil)

type authFlow string

const (
	flowLogin  authFlow = "login"
	flowSignup authFlow = "signup"
)

// ensureInitialized returns an error if the client is not properly initialized.
func (a *AuthClient) ensureInitialized() error {
	if a == nil || a.client == nil {
		return errors.New("authsession: auth client not initialized")
	}
	return nil
}

// Login exchanges credentials for a token pair, stores it, and returns the user
// from the response or, when absent, from /auth/me.
func (a *AuthClient) Login(ctx context.Context, creds Credentials, opts RequestOptions) (User, error) {
	if err := a.ensureInitialized(); err != nil {
		return User{}, err
	}
	body, err := a.client.sendRaw(withoutSession(ctx), http.MethodPost, routes.AuthLogin, creds, opts.header())
	if err != nil {
		return User{}, a.mapError(ctx, flowLogin, err)
	}
	payload, err := auth.DecodePayload(body)
	if err != nil {
		return User{}, a.mapError(ctx, flowLogin, err)
	}
	resp, err := auth.TokensFromPayload(payload)
	if err != nil {
		return User{}, a.mapError(ctx, flowLogin, err)
	}
	a.establish(ctx, NewAuthTokens(resp, a.client.now(), a.client.skew))
	return a.userAfterAuth(ctx, flowLogin, payload)
}

// Signup registers an account. When the response carries tokens they become
// the live session; the user comes from the response or from /auth/me.
func (a *AuthClient) Signup(ctx context.Context, creds Credentials, opts RequestOptions) (User, error) {
	if err := a.ensureInitialized(); err != nil {
		return User{}, err
	}
	body, err := a.client.sendRaw(withoutSession(ctx), http.MethodPost, routes.AuthSignup, creds, opts.header())
	if err != nil {
		return User{}, a.mapError(ctx, flowSignup, err)
	}
	payload, err := auth.DecodePayload(body)
	if err != nil {
		return User{}, a.mapError(ctx, flowSignup, err)
	}
	resp, tokErr := auth.TokensFromPayload(payload)
	if tokErr == nil {
		a.establish(ctx, NewAuthTokens(resp, a.client.now(), a.client.skew))
		return a.userAfterAuth(ctx, flowSignup, payload)
	}
	user, err := userFromPayload(payload)
	if err != nil {
		return User{}, a.mapError(ctx, flowSignup, err)
	}
	return user, nil
}

// Refresh swaps refreshToken for a new pair through the bare transport. It does
// not touch the session; RefreshCoordinator owns that protocol.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (AuthTokens, error) {
	if err := a.ensureInitialized(); err != nil {
		return AuthTokens{}, err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return AuthTokens{}, AuthError{Kind: AuthNoRefreshToken, Cause: ErrNoRefreshToken}
	}
	resp, err := a.client.bare.Refresh(ctx, refreshToken)
	if err != nil {
		return AuthTokens{}, normalizeRefreshError(err)
	}
	tokens := NewAuthTokens(resp, a.client.now(), a.client.skew)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

// Me returns the current user. Errors are the pipeline's (APIError,
// TransportError or context errors).
func (a *AuthClient) Me(ctx context.Context) (User, error) {
	if err := a.ensureInitialized(); err != nil {
		return User{}, err
	}
	body, err := a.client.sendRaw(ctx, http.MethodGet, routes.AuthMe, nil, nil)
	if err != nil {
		return User{}, err
	}
	return ParseUser(body)
}

// Logout clears the session and the stored refresh token.
func (a *AuthClient) Logout(ctx context.Context) error {
	if err := a.ensureInitialized(); err != nil {
		return err
	}
	a.client.session.Clear()
	return a.client.store.Clear(ctx)
}

func (a *AuthClient) establish(ctx context.Context, tokens AuthTokens) {
	a.client.session.SetTokens(tokens)
	if err := a.client.store.SetTokens(ctx, tokens); err != nil {
		a.client.telemetry.log(ctx, LogLevelWarn, "refresh_token_persist_failed", map[string]any{"error": err.Error()})
	}
}

func (a *AuthClient) userAfterAuth(ctx context.Context, flow authFlow, payload auth.Payload) (User, error) {
	if user, err := userFromPayload(payload); err == nil {
		return user, nil
	}
	user, err := a.Me(ctx)
	if err != nil {
		return User{}, a.mapError(ctx, flow, err)
	}
	return user, nil
}

// mapError converts pipeline errors into AuthError. Context errors pass
// through so cancellation stays distinguishable from failure.
func (a *AuthClient) mapError(ctx context.Context, flow authFlow, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var authErr AuthError
	if errors.As(err, &authErr) {
		return err
	}
	var transportErr TransportError
	if errors.As(err, &transportErr) {
		return AuthError{Kind: AuthNetwork, Message: string(transportErr.Kind), Cause: err}
	}
	if apiErr, ok := asAPIError(err); ok {
		switch {
		case flow == flowLogin && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized):
			return AuthError{Kind: AuthInvalidCredentials, Cause: err}
		case flow == flowSignup && apiErr.Status == http.StatusConflict:
			return AuthError{Kind: AuthAlreadyExists, Message: serverMessage(apiErr), Cause: err}
		}
		return a.unknown(ctx, flow, serverMessage(apiErr), err)
	}
	return a.unknown(ctx, flow, err.Error(), err)
}

func (a *AuthClient) unknown(ctx context.Context, flow authFlow, msg string, cause error) error {
	a.client.telemetry.log(ctx, LogLevelError, "auth_unknown_error", map[string]any{
		"flow":  string(flow),
		"error": cause.Error(),
	})
	return AuthError{Kind: AuthUnknown, Message: msg, Cause: cause}
}

// serverMessage prefers a human message over the machine code, ignoring the
// status-line fallback decodeAPIError fills in.
func serverMessage(apiErr APIError) string {
	msg := strings.TrimSpace(apiErr.Message)
	if msg == "" || strings.HasPrefix(msg, strconv.Itoa(apiErr.Status)) || msg == http.StatusText(apiErr.Status) {
		return apiErr.Code
	}
	return msg
}
