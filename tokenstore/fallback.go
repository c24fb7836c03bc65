package tokenstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/modelrelay/authsession"
)

// Fallback keeps the refresh token in process memory and mirrors every write
// to a durable backend. The backend is read only on cold start, before this
// process has written or loaded a token; after that memory is authoritative,
// so a failed backend write can never resurrect an already-rotated token.
// Backend errors are logged, not returned, so a broken keychain or database
// never blocks a login.
type Fallback struct {
	backend   authsession.TokenStore
	memory    *authsession.MemoryTokenStore
	telemetry authsession.TelemetryHooks
	degraded  atomic.Bool

	mu     sync.Mutex
	loaded bool
}

var _ authsession.TokenStore = (*Fallback)(nil)

// NewFallback wraps backend. A nil backend yields a memory-only store that
// reports itself degraded.
func NewFallback(backend authsession.TokenStore, telemetry authsession.TelemetryHooks) *Fallback {
	f := &Fallback{
		backend:   backend,
		memory:    authsession.NewMemoryTokenStore(),
		telemetry: telemetry,
	}
	f.degraded.Store(backend == nil)
	return f
}

// Degraded reports whether the last backend operation failed.
func (f *Fallback) Degraded() bool { return f.degraded.Load() }

func (f *Fallback) RefreshToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	loaded := f.loaded
	f.mu.Unlock()
	if loaded || f.backend == nil {
		return f.memory.RefreshToken(ctx)
	}

	token, err := f.backend.RefreshToken(ctx)
	if err != nil {
		f.backendFailed(ctx, "read", err)
		return f.memory.RefreshToken(ctx)
	}
	f.degraded.Store(false)
	f.mu.Lock()
	// A write that landed while the backend was being read wins.
	if !f.loaded {
		//nolint:errcheck // memory store never fails
		_ = f.memory.SetTokens(ctx, authsession.AuthTokens{RefreshToken: token})
		f.loaded = true
	}
	f.mu.Unlock()
	return f.memory.RefreshToken(ctx)
}

func (f *Fallback) SetTokens(ctx context.Context, tokens authsession.AuthTokens) error {
	f.mu.Lock()
	//nolint:errcheck // memory store never fails
	_ = f.memory.SetTokens(ctx, tokens)
	f.loaded = true
	f.mu.Unlock()
	if f.backend == nil {
		return nil
	}
	if err := f.backend.SetTokens(ctx, tokens); err != nil {
		f.backendFailed(ctx, "write", err)
		return nil
	}
	f.degraded.Store(false)
	return nil
}

func (f *Fallback) Clear(ctx context.Context) error {
	f.mu.Lock()
	//nolint:errcheck // memory store never fails
	_ = f.memory.Clear(ctx)
	f.loaded = true
	f.mu.Unlock()
	if f.backend == nil {
		return nil
	}
	if err := f.backend.Clear(ctx); err != nil {
		f.backendFailed(ctx, "clear", err)
		return nil
	}
	f.degraded.Store(false)
	return nil
}

func (f *Fallback) backendFailed(ctx context.Context, op string, err error) {
	f.degraded.Store(true)
	if f.telemetry.OnLogEntry != nil {
		f.telemetry.OnLogEntry(ctx, authsession.LogEntry{
			Level:   authsession.LogLevelWarn,
			Message: "token_store_degraded",
			Fields:  map[string]any{"op": op, "error": err.Error()},
		})
	}
}
