// Package auth provides the bare auth transport used by the session client.
//
// Requests issued here never pass through the authenticated request pipeline:
// the refresh call must not recurse into the hooks that triggered it.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelrelay/authsession/headers"
	"github.com/modelrelay/authsession/routes"
)

const defaultUserAgent = "authsession/1"

// Config controls how the bare auth client talks to the API.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// Client issues refresh requests without credential injection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// RefreshRequest wraps the token used during refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Error conveys HTTP failures from the auth API.
type Error struct {
	Status int
	Body   string
}

func (e Error) Error() string {
	return fmt.Sprintf("auth: http %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// NewClient constructs a Client with sane defaults.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("auth: base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		httpClient: client,
		userAgent:  ua,
	}, nil
}

// Refresh swaps a refresh token for a new token pair. The server may omit the
// refresh token from the response when it does not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenResponse{}, errors.New("auth: refresh token required")
	}
	body, err := c.post(ctx, routes.AuthRefresh, RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return TokenResponse{}, err
	}
	return ParseTokenResponse(body)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headers.UserAgent, c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, Error{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
