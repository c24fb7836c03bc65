package authsession

import (
	"strings"
	"time"

	"github.com/modelrelay/authsession/auth"
)

// DefaultTokenSkew is subtracted from the advertised lifetime so a refresh is
// triggered before the server starts rejecting the token.
const DefaultTokenSkew = 30 * time.Second

// TokenTypeBearer is assumed when the server omits the token type.
const TokenTypeBearer = auth.DefaultTokenType

// AuthTokens is the token pair held by a TokenSession. ExpiresAt is always in
// the local clock frame.
type AuthTokens struct {
	TokenType    string    `json:"token_type"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresAtMillis returns ExpiresAt as epoch milliseconds (0 when unset).
func (t AuthTokens) ExpiresAtMillis() int64 {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	return t.ExpiresAt.UnixMilli()
}

// AuthorizationValue renders "<type> <access token>", or "" when either part is missing.
func (t AuthTokens) AuthorizationValue() string {
	typ := strings.TrimSpace(t.TokenType)
	tok := strings.TrimSpace(t.AccessToken)
	if typ == "" || tok == "" {
		return ""
	}
	return typ + " " + tok
}

// NewAuthTokens converts a normalized token response into session tokens:
// ExpiresAt = now + max(0, expiresIn - skew).
func NewAuthTokens(resp auth.TokenResponse, now time.Time, skew time.Duration) AuthTokens {
	if skew < 0 {
		skew = 0
	}
	lifetime := resp.ExpiresIn - skew
	if lifetime < 0 {
		lifetime = 0
	}
	tokenType := resp.TokenType
	if strings.TrimSpace(tokenType) == "" {
		tokenType = TokenTypeBearer
	}
	return AuthTokens{
		TokenType:    tokenType,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(lifetime),
	}
}

// ParseAuthTokens runs the tolerant token parser over a raw response body.
func ParseAuthTokens(body []byte, now time.Time, skew time.Duration) (AuthTokens, error) {
	resp, err := auth.ParseTokenResponse(body)
	if err != nil {
		return AuthTokens{}, err
	}
	return NewAuthTokens(resp, now, skew), nil
}
