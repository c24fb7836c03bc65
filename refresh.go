package authsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/modelrelay/authsession/auth"
)

const (
	refreshFlightKey      = "refresh"
	defaultRefreshTimeout = 30 * time.Second
)

// Refresher performs the bare refresh call. It must not route through the
// authenticated pipeline; *auth.Client satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (auth.TokenResponse, error)
}

// RefreshCoordinatorConfig wires a RefreshCoordinator.
type RefreshCoordinatorConfig struct {
	Session   *TokenSession
	Store     TokenStore
	Network   NetworkStatus
	Refresher Refresher
	// Skew defaults to DefaultTokenSkew.
	Skew time.Duration
	// Timeout bounds one shared refresh call; defaults to 30s.
	Timeout   time.Duration
	Now       func() time.Time
	Telemetry TelemetryHooks
}

// RefreshCoordinator runs at most one refresh call at a time. Callers that
// arrive while a refresh is in flight join it and receive its outcome.
type RefreshCoordinator struct {
	session   *TokenSession
	store     TokenStore
	network   NetworkStatus
	refresher Refresher
	skew      time.Duration
	timeout   time.Duration
	now       func() time.Time
	telemetry TelemetryHooks

	group singleflight.Group
}

// NewRefreshCoordinator validates cfg and fills defaults.
func NewRefreshCoordinator(cfg RefreshCoordinatorConfig) (*RefreshCoordinator, error) {
	if cfg.Session == nil {
		return nil, ConfigError{Reason: "session is required"}
	}
	if cfg.Refresher == nil {
		return nil, ConfigError{Reason: "refresher is required"}
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryTokenStore()
	}
	network := cfg.Network
	if network == nil {
		network = NewNetworkMonitor(NetworkMonitorConfig{})
	}
	skew := cfg.Skew
	if skew <= 0 {
		skew = DefaultTokenSkew
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RefreshCoordinator{
		session:   cfg.Session,
		store:     store,
		network:   network,
		refresher: cfg.Refresher,
		skew:      skew,
		timeout:   timeout,
		now:       now,
		telemetry: cfg.Telemetry,
	}, nil
}

// Refresh obtains a fresh token pair, joining an in-flight refresh if there is
// one. The shared call is detached from ctx: a caller giving up (ctx done)
// stops waiting but does not abort the refresh other callers depend on.
//
// Any failure clears both the session and the store before it is returned.
func (c *RefreshCoordinator) Refresh(ctx context.Context) (AuthTokens, error) {
	ch := c.group.DoChan(refreshFlightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refreshOnce(flightCtx)
	})
	select {
	case <-ctx.Done():
		return AuthTokens{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AuthTokens{}, res.Err
		}
		return res.Val.(AuthTokens), nil
	}
}

func (c *RefreshCoordinator) refreshOnce(ctx context.Context) (AuthTokens, error) {
	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		return AuthTokens{}, c.fail(ctx, fmt.Errorf("authsession: read refresh token: %w", err))
	}
	if refreshToken == "" {
		return AuthTokens{}, c.fail(ctx, AuthError{Kind: AuthNoRefreshToken, Cause: ErrNoRefreshToken})
	}
	if !c.network.IsOnline() {
		return AuthTokens{}, c.fail(ctx, offlineError("refresh skipped"))
	}

	resp, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return AuthTokens{}, c.fail(ctx, normalizeRefreshError(err))
	}
	tokens := NewAuthTokens(resp, c.now(), c.skew)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	c.session.SetTokens(tokens)
	if err := c.store.SetTokens(ctx, tokens); err != nil {
		c.telemetry.log(ctx, LogLevelWarn, "refresh_token_persist_failed", map[string]any{"error": err.Error()})
	}
	c.telemetry.metric(ctx, MetricCounter, MetricRefreshTotal, 1, map[string]string{"result": "success"})
	c.telemetry.log(ctx, LogLevelDebug, "token_refreshed", map[string]any{
		"expires_at": tokens.ExpiresAt,
		"rotated":    resp.RefreshToken != "",
	})
	return tokens, nil
}

// fail treats an unrecoverable refresh as a forced logout.
func (c *RefreshCoordinator) fail(ctx context.Context, err error) error {
	c.session.Clear()
	if clearErr := c.store.Clear(ctx); clearErr != nil {
		c.telemetry.log(ctx, LogLevelWarn, "refresh_token_clear_failed", map[string]any{"error": clearErr.Error()})
	}
	c.telemetry.metric(ctx, MetricCounter, MetricRefreshTotal, 1, map[string]string{"result": "failure"})
	c.telemetry.log(ctx, LogLevelInfo, "token_refresh_failed", map[string]any{"error": err.Error()})
	return err
}

func normalizeRefreshError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrMalformedResponse) {
		return err
	}
	if apiErr, ok := asAPIError(err); ok {
		return apiErr
	}
	return classifyTransportError(err, "refresh request failed")
}
