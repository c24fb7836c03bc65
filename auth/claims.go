package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func isJWTLikeToken(token string) bool {
	t := strings.TrimSpace(token)
	if t == "" {
		return false
	}
	// JWTs have 3 base64url segments separated by '.'.
	return strings.Count(t, ".") >= 2
}

// TokenLifetime reports exp - iat for a JWT access token. Only the relative
// lifetime is used so the result does not depend on the server's clock. The
// signature is not verified; the value only schedules a refresh.
func TokenLifetime(accessToken string) (time.Duration, bool) {
	if !isJWTLikeToken(accessToken) {
		return 0, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return 0, false
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return 0, false
	}
	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime <= 0 {
		return 0, false
	}
	return lifetime, true
}
