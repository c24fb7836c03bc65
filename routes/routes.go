// Package routes provides the auth API route constants shared by the session
// client and its tests to prevent path mismatches.
package routes

const (
	// AuthLogin exchanges email and password for a token pair.
	AuthLogin = "/auth/login"

	// AuthSignup registers a new account. The response may carry a token pair.
	AuthSignup = "/auth/signup"

	// AuthRefresh swaps a refresh token for a new (possibly rotated) token pair.
	AuthRefresh = "/auth/refresh" // #nosec G101 -- route path, not a credential

	// AuthMe returns the current authenticated user's profile.
	AuthMe = "/auth/me"
)
