package authsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelrelay/authsession/auth"
	"github.com/modelrelay/authsession/headers"
)

const defaultUserAgent = "authsession/" + Version

// DefaultRefreshThreshold triggers a pre-flight refresh when the access token
// expires within this window.
const DefaultRefreshThreshold = 5 * time.Second

// Config wires the session, storage, connectivity and telemetry for a Client.
// Zero values get defaults: a fresh TokenSession, a MemoryTokenStore, an
// unstarted NetworkMonitor (reports online) and a bare auth.Client refresher
// sharing BaseURL and HTTPClient.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	Session   *TokenSession
	Store     TokenStore
	Network   NetworkStatus
	Refresher Refresher

	// TokenSkew is subtracted from advertised token lifetimes (default 30s).
	TokenSkew time.Duration
	// RefreshThreshold is the pre-flight refresh window (default 5s).
	RefreshThreshold time.Duration
	// RefreshTimeout bounds one shared refresh call (default 30s).
	RefreshTimeout time.Duration

	// RequestHooks run after the built-in pre-send hooks.
	RequestHooks []RequestHook
	// ResponseHooks run after the built-in post-receive hooks.
	ResponseHooks []ResponseHook

	Telemetry TelemetryHooks
	Now       func() time.Time
}

// Client sends authenticated requests and exposes the auth endpoints.
type Client struct {
	baseURL          string
	session          *TokenSession
	store            TokenStore
	network          NetworkStatus
	refresh          *RefreshCoordinator
	pipeline         *Pipeline
	telemetry        TelemetryHooks
	userAgent        string
	skew             time.Duration
	refreshThreshold time.Duration
	now              func() time.Time
	bare             Refresher

	// Auth implements AuthRepository on top of this client.
	Auth *AuthClient
}

// NewClient validates the configuration and returns a ready-to-use Client.
func NewClient(cfg Config) (*Client, error) {
	normalized, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	session := cfg.Session
	if session == nil {
		session = NewTokenSession(now)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryTokenStore()
	}
	network := cfg.Network
	if network == nil {
		network = NewNetworkMonitor(NetworkMonitorConfig{Now: now, Telemetry: cfg.Telemetry})
	}
	refresher := cfg.Refresher
	if refresher == nil {
		bare, err := auth.NewClient(auth.Config{BaseURL: normalized, HTTPClient: httpClient, UserAgent: ua})
		if err != nil {
			return nil, ConfigError{Reason: err.Error()}
		}
		refresher = bare
	}
	skew := cfg.TokenSkew
	if skew <= 0 {
		skew = DefaultTokenSkew
	}
	threshold := cfg.RefreshThreshold
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	coordinator, err := NewRefreshCoordinator(RefreshCoordinatorConfig{
		Session:   session,
		Store:     store,
		Network:   network,
		Refresher: refresher,
		Skew:      skew,
		Timeout:   cfg.RefreshTimeout,
		Now:       now,
		Telemetry: cfg.Telemetry,
	})
	if err != nil {
		return nil, err
	}

	client := &Client{
		baseURL:          normalized,
		session:          session,
		store:            store,
		network:          network,
		refresh:          coordinator,
		telemetry:        cfg.Telemetry,
		userAgent:        ua,
		skew:             skew,
		refreshThreshold: threshold,
		now:              now,
		bare:             refresher,
	}
	before := append([]RequestHook{
		client.refreshIfNear,
		client.requireOnline,
		client.attachCredentials,
		client.prepare,
	}, cfg.RequestHooks...)
	after := append([]ResponseHook{client.retryUnauthorized}, cfg.ResponseHooks...)
	client.pipeline = NewPipeline(httpClient, before, after, cfg.Telemetry)
	client.Auth = &AuthClient{client: client}
	return client, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("base URL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" {
		return "", errors.New("base URL missing scheme (http/https)")
	}
	if u.Host == "" {
		return "", errors.New("base URL missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return strings.TrimSuffix(u.String(), "/"), nil
}

// Session returns the live token session.
func (c *Client) Session() *TokenSession { return c.session }

// Store returns the refresh token store.
func (c *Client) Store() TokenStore { return c.store }

// Network returns the connectivity view consulted before every send.
func (c *Client) Network() NetworkStatus { return c.network }

// Refresher returns the single-flight refresh coordinator.
func (c *Client) Refresher() *RefreshCoordinator { return c.refresh }

// NewRequest builds a JSON request against the base URL. A nil payload sends no body.
func (c *Client) NewRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// Do sends req through the pipeline. Responses with status >= 400 are returned
// as APIError with the body consumed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		//nolint:errcheck // best-effort cleanup on return
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

// SendJSON sends payload and decodes the response body into out (skipped when
// out is nil). header entries are added to the request.
func (c *Client) SendJSON(ctx context.Context, method, path string, payload any, header http.Header, out any) error {
	body, err := c.sendRaw(ctx, method, path, payload, header)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) sendRaw(ctx context.Context, method, path string, payload any, header http.Header) ([]byte, error) {
	req, err := c.NewRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyTransportError(err, "read response body")
	}
	return body, nil
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

type sessionlessKey struct{}

// withoutSession marks requests that must not use or touch the session, such
// as login and signup: no pre-flight refresh, no credentials, no 401 refresh.
func withoutSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionlessKey{}, true)
}

func sessionless(req *http.Request) bool {
	v, _ := req.Context().Value(sessionlessKey{}).(bool)
	return v
}

// refreshIfNear refreshes ahead of expiry. Failures are swallowed: the request
// proceeds and a server rejection drives the 401 path instead.
func (c *Client) refreshIfNear(req *http.Request) error {
	if sessionless(req) || !c.session.IsExpiredOrNear(c.refreshThreshold) {
		return nil
	}
	if _, err := c.refresh.Refresh(req.Context()); err != nil {
		c.telemetry.log(req.Context(), LogLevelInfo, "preflight_refresh_skipped", map[string]any{
			"error": err.Error(),
			"path":  req.URL.Path,
		})
	}
	return nil
}

func (c *Client) requireOnline(req *http.Request) error {
	if c.network.IsOnline() {
		return nil
	}
	return offlineError("request skipped")
}

func (c *Client) attachCredentials(req *http.Request) error {
	if sessionless(req) {
		return nil
	}
	attached := sessionAuth{session: c.session}.Apply(req)
	if state := sendStateFrom(req); state != nil {
		state.credentialed = attached
		state.sentAuth = ""
		if attached {
			state.sentAuth = req.Header.Get(headers.Authorization)
		}
	}
	return nil
}

func (c *Client) prepare(req *http.Request) error {
	if c.userAgent != "" {
		req.Header.Set(headers.UserAgent, c.userAgent)
	}
	injectTraceparent(req.Context(), req)
	return nil
}

// retryUnauthorized resends a request once after a successful refresh. A second
// 401, or a 401 on a request sent without session credentials, is left for the
// caller.
func (c *Client) retryUnauthorized(req *http.Request, resp *http.Response) (bool, error) {
	if resp.StatusCode != http.StatusUnauthorized {
		return false, nil
	}
	state := sendStateFrom(req)
	if state == nil || !state.credentialed || state.unauthorizedRetried {
		return false, nil
	}
	state.unauthorizedRetried = true
	// No refresh when another request already replaced the token this one carried.
	current, ok := c.session.Tokens()
	if !ok || current.AuthorizationValue() == state.sentAuth {
		if _, err := c.refresh.Refresh(req.Context()); err != nil {
			return false, err
		}
	}
	sessionAuth{session: c.session}.Apply(req)
	c.telemetry.log(req.Context(), LogLevelDebug, "unauthorized_retry", map[string]any{"path": req.URL.Path})
	return true, nil
}
