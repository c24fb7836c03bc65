package authsession

import (
	"sync"
	"time"
)

// TokenListener receives the session's tokens after every transition; nil
// means the session was cleared. Listeners run in subscription order and must
// not block. A listener may unsubscribe or change the session; that change is
// delivered after the current one.
type TokenListener func(tokens *AuthTokens)

// TokenSession holds the current token pair in memory. It performs no I/O;
// durability belongs to the TokenStore. One TokenSession is constructed by the
// composition root and shared by pointer with every component that needs it.
type TokenSession struct {
	now func() time.Time

	mu      sync.RWMutex
	tokens  *AuthTokens
	changes broadcaster[*AuthTokens]
}

// NewTokenSession returns an empty (logged out) session. now may be nil.
func NewTokenSession(now func() time.Time) *TokenSession {
	if now == nil {
		now = time.Now
	}
	return &TokenSession{now: now}
}

// Tokens returns a copy of the held tokens.
func (s *TokenSession) Tokens() (AuthTokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return AuthTokens{}, false
	}
	return *s.tokens, true
}

// AccessToken returns the held access token, or "" when logged out.
func (s *TokenSession) AccessToken() string {
	tok, _ := s.Tokens()
	return tok.AccessToken
}

// TokenType returns the held token type, or "" when logged out.
func (s *TokenSession) TokenType() string {
	tok, _ := s.Tokens()
	return tok.TokenType
}

// ExpiresAt returns the zero time when no tokens are held.
func (s *TokenSession) ExpiresAt() time.Time {
	tok, _ := s.Tokens()
	return tok.ExpiresAt
}

// IsExpiredOrNear reports true when no tokens are held or now+threshold >= ExpiresAt.
func (s *TokenSession) IsExpiredOrNear(threshold time.Duration) bool {
	tok, ok := s.Tokens()
	if !ok || tok.ExpiresAt.IsZero() {
		return true
	}
	return !s.now().Add(threshold).Before(tok.ExpiresAt)
}

// SetTokens replaces the held tokens and notifies subscribers.
func (s *TokenSession) SetTokens(tokens AuthTokens) {
	s.mu.Lock()
	stored := tokens
	s.tokens = &stored
	snapshot := tokens
	s.changes.enqueue(&snapshot)
	s.mu.Unlock()
	s.changes.flush()
}

// Clear empties the session and notifies subscribers.
func (s *TokenSession) Clear() {
	s.mu.Lock()
	s.tokens = nil
	s.changes.enqueue(nil)
	s.mu.Unlock()
	s.changes.flush()
}

// Subscribe registers fn and returns a function that removes it. Each call of
// fn gets its own copy of the tokens.
func (s *TokenSession) Subscribe(fn TokenListener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return s.changes.subscribe(func(tokens *AuthTokens) {
		if tokens == nil {
			fn(nil)
			return
		}
		cp := *tokens
		fn(&cp)
	})
}
