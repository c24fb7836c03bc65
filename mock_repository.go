package authsession

import (
	"context"
	"strings"
	"sync"
)

// MockRepositoryError is returned when a mock is called without a queued result.
type MockRepositoryError struct {
	Reason string
}

func (e MockRepositoryError) Error() string { return "mock repository: " + e.Reason }

type mockUserResult struct {
	user User
	err  error
}

type mockTokensResult struct {
	tokens AuthTokens
	err    error
}

// MockAuthRepository implements AuthRepository with preconfigured results so
// callers of the use cases can be tested without a server.
type MockAuthRepository struct {
	mu           sync.Mutex
	loginQueue   []mockUserResult
	signupQueue  []mockUserResult
	meQueue      []mockUserResult
	refreshQueue []mockTokensResult

	// Calls records each Login/Signup call's options in order.
	Calls []MockCall
}

// MockCall is one recorded Login or Signup invocation.
type MockCall struct {
	Method      string
	Credentials Credentials
	Options     RequestOptions
}

var _ AuthRepository = (*MockAuthRepository)(nil)

// NewMockAuthRepository creates an empty mock.
func NewMockAuthRepository() *MockAuthRepository {
	return &MockAuthRepository{}
}

// WithLogin enqueues the result of the next Login call.
func (m *MockAuthRepository) WithLogin(user User, err error) *MockAuthRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginQueue = append(m.loginQueue, mockUserResult{user: user, err: err})
	return m
}

// WithSignup enqueues the result of the next Signup call.
func (m *MockAuthRepository) WithSignup(user User, err error) *MockAuthRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signupQueue = append(m.signupQueue, mockUserResult{user: user, err: err})
	return m
}

// WithMe enqueues the result of the next Me call.
func (m *MockAuthRepository) WithMe(user User, err error) *MockAuthRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meQueue = append(m.meQueue, mockUserResult{user: user, err: err})
	return m
}

// WithRefresh enqueues the result of the next Refresh call.
func (m *MockAuthRepository) WithRefresh(tokens AuthTokens, err error) *MockAuthRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshQueue = append(m.refreshQueue, mockTokensResult{tokens: tokens, err: err})
	return m
}

// CallCount returns how many Login/Signup calls were made.
func (m *MockAuthRepository) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockAuthRepository) Login(ctx context.Context, creds Credentials, opts RequestOptions) (User, error) {
	return m.nextUser(ctx, "login", &m.loginQueue, creds, opts)
}

func (m *MockAuthRepository) Signup(ctx context.Context, creds Credentials, opts RequestOptions) (User, error) {
	return m.nextUser(ctx, "signup", &m.signupQueue, creds, opts)
}

func (m *MockAuthRepository) Me(ctx context.Context) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.meQueue) == 0 {
		return User{}, MockRepositoryError{Reason: "no me results configured"}
	}
	res := m.meQueue[0]
	m.meQueue = m.meQueue[1:]
	return res.user, res.err
}

func (m *MockAuthRepository) Refresh(ctx context.Context, refreshToken string) (AuthTokens, error) {
	if err := ctx.Err(); err != nil {
		return AuthTokens{}, err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return AuthTokens{}, AuthError{Kind: AuthNoRefreshToken, Cause: ErrNoRefreshToken}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.refreshQueue) == 0 {
		return AuthTokens{}, MockRepositoryError{Reason: "no refresh results configured"}
	}
	res := m.refreshQueue[0]
	m.refreshQueue = m.refreshQueue[1:]
	return res.tokens, res.err
}

func (m *MockAuthRepository) nextUser(ctx context.Context, method string, queue *[]mockUserResult, creds Credentials, opts RequestOptions) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Credentials: creds, Options: opts})
	if len(*queue) == 0 {
		return User{}, MockRepositoryError{Reason: "no " + method + " results configured"}
	}
	res := (*queue)[0]
	*queue = (*queue)[1:]
	return res.user, res.err
}
