package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelrelay/authsession/headers"
	"github.com/modelrelay/authsession/routes"
)

func loginServer(t *testing.T, loginCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case routes.AuthLogin:
			loginCalls.Add(1)
			var creds Credentials
			if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
				t.Errorf("decode credentials: %v", err)
			}
			if creds.Password != "password123" {
				writeJSON(t, w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
				return
			}
			writeJSON(t, w, http.StatusOK, map[string]any{
				"tokens": tokenBody("a1", "r1", 3600),
				"user":   map[string]string{"id": "u1", "email": creds.Email, "firstName": "Ada", "lastName": "Lovelace"},
			})
		case routes.AuthMe:
			if r.Header.Get(headers.Authorization) != "Bearer a1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(t, w, http.StatusOK, map[string]any{"user": map[string]string{"user_id": "u1", "email": "ada@example.com", "name": "Ada"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestLoginOnlineEstablishesSession(t *testing.T) {
	var loginCalls atomic.Int64
	srv := loginServer(t, &loginCalls)
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	user, err := LoginWithPassword(context.Background(), client.Auth, " ada@example.com ", "password123", RequestOptions{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "u1" || user.Email != "ada@example.com" || user.Name != "Ada Lovelace" {
		t.Fatalf("unexpected user %+v", user)
	}
	tok, ok := client.Session().Tokens()
	if !ok || tok.AccessToken != "a1" || tok.RefreshToken != "r1" {
		t.Fatalf("session not established: %+v", tok)
	}
	if got, _ := client.Store().RefreshToken(context.Background()); got != "r1" {
		t.Fatalf("refresh token not persisted: %q", got)
	}
	me, err := client.Auth.Me(context.Background())
	if err != nil || me.ID != "u1" {
		t.Fatalf("me: %+v %v", me, err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	var loginCalls atomic.Int64
	srv := loginServer(t, &loginCalls)
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	_, err := client.Auth.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "wrong"}, RequestOptions{})
	if !IsAuthError(err, AuthInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
	if UserMessage(err) != "Invalid email or password" {
		t.Fatalf("unexpected message %q", UserMessage(err))
	}
	if DefaultShouldRetry(err) {
		t.Fatalf("invalid credentials must not be retried")
	}
}

func TestLoginRejectionKeepsExistingSession(t *testing.T) {
	var refreshCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case routes.AuthLogin:
			if got := r.Header.Get(headers.Authorization); got != "" {
				t.Errorf("login must not carry session credentials, got %q", got)
			}
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		case routes.AuthRefresh:
			refreshCalls.Add(1)
			writeJSON(t, w, http.StatusOK, tokenBody("a2", "r2", 3600))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	live := AuthTokens{TokenType: "Bearer", AccessToken: "a1", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour)}
	client.Session().SetTokens(live)
	_ = client.Store().SetTokens(context.Background(), live)

	_, err := client.Auth.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "wrong"}, RequestOptions{})
	if !IsAuthError(err, AuthInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
	if refreshCalls.Load() != 0 {
		t.Fatalf("login rejection triggered %d refreshes", refreshCalls.Load())
	}
	if tok, ok := client.Session().Tokens(); !ok || tok.AccessToken != "a1" {
		t.Fatalf("session lost after rejected login: %+v", tok)
	}
	if got, _ := client.Store().RefreshToken(context.Background()); got != "r1" {
		t.Fatalf("stored refresh token lost after rejected login: %q", got)
	}
}

func TestLoginOfflineThenOnline(t *testing.T) {
	var loginCalls atomic.Int64
	srv := loginServer(t, &loginCalls)
	defer srv.Close()

	network := newTestMonitor(offlineSnapshot())
	client := newTestClient(t, srv, Config{Network: network})

	type loginArgs struct{ email, password string }
	rec := newStateRecorder()
	users := make(chan User, 1)
	keys := make(chan string, 4)
	ctrl := newTestController(t, RetryOptions[loginArgs, User]{
		Action: func(ctx context.Context, args loginArgs, rc RetryContext) (User, error) {
			keys <- rc.IdempotencyKey
			return LoginWithPassword(ctx, client.Auth, args.email, args.password, RequestOptions{IdempotencyKey: rc.IdempotencyKey})
		},
		IdempotencyKey: NewUUIDKey[loginArgs],
		Delays:         []time.Duration{time.Hour},
		Network:        network,
		OnResolved:     func(u User) { users <- u },
		OnStateChange:  rec.record,
	})

	ctrl.Start(context.Background(), loginArgs{"ada@example.com", "password123"})
	waiting := rec.waitFor(t, RetryWaiting)
	if !IsAuthError(waiting.Err, AuthNetwork) || !errors.Is(waiting.Err, ErrOffline) {
		t.Fatalf("expected offline network error, got %v", waiting.Err)
	}
	if UserMessage(waiting.Err) != "Network error. Please try again." {
		t.Fatalf("unexpected message %q", UserMessage(waiting.Err))
	}
	if loginCalls.Load() != 0 {
		t.Fatalf("login sent while offline")
	}

	network.Apply(onlineSnapshot())
	rec.waitFor(t, RetrySuccess)
	user := <-users
	if user.ID != "u1" {
		t.Fatalf("unexpected user %+v", user)
	}
	if loginCalls.Load() != 1 {
		t.Fatalf("expected one login call, got %d", loginCalls.Load())
	}
	if k1, k2 := <-keys, <-keys; k1 == "" || k1 != k2 {
		t.Fatalf("expected the same idempotency key, got %q and %q", k1, k2)
	}
	if client.Session().AccessToken() != "a1" {
		t.Fatalf("session not established")
	}
}

func TestSignupConflictIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != routes.AuthSignup {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get(headers.IdempotencyKey) != "key-1" {
			t.Errorf("missing idempotency key header")
		}
		writeJSON(t, w, http.StatusConflict, map[string]string{"error": "email_already_registered"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	rec := newStateRecorder()
	ctrl := newTestController(t, RetryOptions[Credentials, User]{
		Action: func(ctx context.Context, creds Credentials, rc RetryContext) (User, error) {
			return SignupWithPassword(ctx, client.Auth, creds.Email, creds.Password, RequestOptions{IdempotencyKey: rc.IdempotencyKey})
		},
		IdempotencyKey: func(Credentials) string { return "key-1" },
		Delays:         []time.Duration{time.Millisecond},
		OnStateChange:  rec.record,
	})

	ctrl.Start(context.Background(), Credentials{Email: "ada@example.com", Password: "password123"})
	failed := rec.waitFor(t, RetryFailed)

	var authErr AuthError
	if !errors.As(failed.Err, &authErr) || authErr.Kind != AuthAlreadyExists || authErr.Message != "email_already_registered" {
		t.Fatalf("expected AlreadyExists(email_already_registered), got %v", failed.Err)
	}
	if UserMessage(failed.Err) != "This email is already registered" {
		t.Fatalf("unexpected message %q", UserMessage(failed.Err))
	}
	if calls.Load() != 1 || failed.Attempt != 1 {
		t.Fatalf("expected a single attempt, got %d calls", calls.Load())
	}
}

func TestSignupWithoutTokensReturnsUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, map[string]any{"user": map[string]string{"id": "u9", "email": "new@example.com"}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	user, err := client.Auth.Signup(context.Background(), Credentials{Email: "new@example.com", Password: "password123"}, RequestOptions{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.ID != "u9" {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, ok := client.Session().Tokens(); ok {
		t.Fatalf("signup without tokens must not establish a session")
	}
}

func TestSignupServerErrorMapsToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]string{"error": "failed_to_create_user"})
	}))
	defer srv.Close()

	var errorLogs atomic.Int64
	client := newTestClient(t, srv, Config{Telemetry: TelemetryHooks{OnLogEntry: func(_ context.Context, e LogEntry) {
		if e.Level == LogLevelError {
			errorLogs.Add(1)
		}
	}}})
	_, err := client.Auth.Signup(context.Background(), Credentials{Email: "new@example.com", Password: "password123"}, RequestOptions{})
	if !IsAuthError(err, AuthUnknown) {
		t.Fatalf("expected Unknown, got %v", err)
	}
	if UserMessage(err) != "Signup failed. Please try again." {
		t.Fatalf("unexpected message %q", UserMessage(err))
	}
	if errorLogs.Load() != 1 {
		t.Fatalf("expected unknown error logged, got %d", errorLogs.Load())
	}
	if !DefaultShouldRetry(err) {
		t.Fatalf("5xx behind Unknown should stay retryable")
	}
}

func TestLoginFallsBackToMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case routes.AuthLogin:
			writeJSON(t, w, http.StatusOK, map[string]any{"access_token": "a1", "refresh_token": "r1", "expires_in": "3600"})
		case routes.AuthMe:
			if r.Header.Get(headers.Authorization) != "Bearer a1" {
				t.Errorf("me without credentials")
			}
			writeJSON(t, w, http.StatusOK, map[string]string{"id": "u1", "email": "ada@example.com"})
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	user, err := client.Auth.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "x"}, RequestOptions{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestAuthClientRefreshDoesNotTouchSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, tokenBody("a2", "", 600))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	tokens, err := client.Auth.Refresh(context.Background(), "r1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.AccessToken != "a2" || tokens.RefreshToken != "r1" {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if _, ok := client.Session().Tokens(); ok {
		t.Fatalf("repository refresh must not mutate the session")
	}
	if _, err := client.Auth.Refresh(context.Background(), ""); !IsAuthError(err, AuthNoRefreshToken) {
		t.Fatalf("expected NoRefreshToken, got %v", err)
	}
}

func TestLogoutClearsSessionAndStore(t *testing.T) {
	var loginCalls atomic.Int64
	srv := loginServer(t, &loginCalls)
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	if _, err := client.Auth.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "password123"}, RequestOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := client.Auth.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := client.Session().Tokens(); ok {
		t.Fatalf("session not cleared")
	}
	if got, _ := client.Store().RefreshToken(context.Background()); got != "" {
		t.Fatalf("store not cleared: %q", got)
	}
}

func TestLoginCancelledReturnsContextError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := newTestClient(t, srv, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Auth.Login(ctx, Credentials{Email: "ada@example.com", Password: "x"}, RequestOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
