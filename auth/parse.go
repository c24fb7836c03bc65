package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedResponse reports a payload that matched none of the known field layouts.
var ErrMalformedResponse = errors.New("malformed response")

// DefaultTokenType is assumed when the server omits the token type.
const DefaultTokenType = "Bearer"

// TokenResponse is a normalized token payload. ExpiresIn is a lifetime relative
// to the moment the response was received, never a server-absolute timestamp.
type TokenResponse struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Payload is a decoded JSON object whose fields are looked up by a closed set
// of known name variants.
type Payload map[string]json.RawMessage

// DecodePayload decodes a JSON object.
func DecodePayload(data []byte) (Payload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return p, nil
}

// Object returns the nested object stored under key.
func (p Payload) Object(key string) (Payload, bool) {
	raw, ok := p[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var nested Payload
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, false
	}
	return nested, true
}

// String returns the first present, non-null value among keys. Numbers are
// accepted and formatted; any other JSON type is malformed.
func (p Payload) String(keys ...string) (string, bool, error) {
	for _, key := range keys {
		raw, ok := p[key]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true, nil
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), true, nil
		}
		return "", false, fmt.Errorf("%w: field %q is not a string", ErrMalformedResponse, key)
	}
	return "", false, nil
}

// Seconds returns the first present value among keys as a whole number of
// seconds. Numeric strings are accepted.
func (p Payload) Seconds(keys ...string) (time.Duration, bool, error) {
	for _, key := range keys {
		raw, ok := p[key]
		if !ok || isNull(raw) {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return time.Duration(f * float64(time.Second)), true, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			f, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if perr == nil {
				return time.Duration(f * float64(time.Second)), true, nil
			}
		}
		return 0, false, fmt.Errorf("%w: field %q is not a number of seconds", ErrMalformedResponse, key)
	}
	return 0, false, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// ParseTokenResponse accepts flat or "tokens"-nested payloads using camelCase or
// snake_case field names. A missing access token is malformed; a missing refresh
// token is not (refresh responses may omit it when not rotating).
func ParseTokenResponse(data []byte) (TokenResponse, error) {
	p, err := DecodePayload(data)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokensFromPayload(p)
}

// TokensFromPayload extracts a token pair from an already decoded payload.
func TokensFromPayload(p Payload) (TokenResponse, error) {
	if nested, ok := p.Object("tokens"); ok {
		p = nested
	}
	access, ok, err := p.String("accessToken", "access_token", "token")
	if err != nil {
		return TokenResponse{}, err
	}
	if !ok || strings.TrimSpace(access) == "" {
		return TokenResponse{}, fmt.Errorf("%w: access token missing", ErrMalformedResponse)
	}
	refresh, _, err := p.String("refreshToken", "refresh_token")
	if err != nil {
		return TokenResponse{}, err
	}
	tokenType, ok, err := p.String("tokenType", "token_type")
	if err != nil {
		return TokenResponse{}, err
	}
	if !ok || strings.TrimSpace(tokenType) == "" {
		tokenType = DefaultTokenType
	}
	expiresIn, ok, err := p.Seconds("expiresIn", "expires_in")
	if err != nil {
		return TokenResponse{}, err
	}
	if !ok {
		if lifetime, found := TokenLifetime(access); found {
			expiresIn = lifetime
		}
	}
	return TokenResponse{
		TokenType:    tokenType,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	}, nil
}
