package authsession

import (
	"context"
	"sync"
)

// TokenStore durably keeps the refresh token. Only the refresh token is
// persisted; access tokens live in the TokenSession.
//
// RefreshToken returns "" with a nil error when nothing is stored.
// Implementations should degrade to volatile memory rather than fail when their
// backend is unavailable; tokenstore.Fallback provides that behavior for any
// backend.
type TokenStore interface {
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, tokens AuthTokens) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the refresh token in process memory.
type MemoryTokenStore struct {
	mu      sync.Mutex
	refresh string
}

// NewMemoryTokenStore returns an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) RefreshToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh, nil
}

// SetTokens stores tokens.RefreshToken; an empty value clears the store.
func (m *MemoryTokenStore) SetTokens(_ context.Context, tokens AuthTokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = tokens.RefreshToken
	return nil
}

func (m *MemoryTokenStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = ""
	return nil
}
