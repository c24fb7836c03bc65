package tokenstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/modelrelay/authsession"
)

type failingStore struct{}

func (failingStore) RefreshToken(context.Context) (string, error) {
	return "", errors.New("keychain locked")
}
func (failingStore) SetTokens(context.Context, authsession.AuthTokens) error {
	return errors.New("keychain locked")
}
func (failingStore) Clear(context.Context) error { return errors.New("keychain locked") }

// flakyStore is an in-memory backend whose writes can be made to fail.
type flakyStore struct {
	mu        sync.Mutex
	token     string
	failWrite bool
}

func (s *flakyStore) RefreshToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *flakyStore) SetTokens(_ context.Context, tokens authsession.AuthTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("disk full")
	}
	s.token = tokens.RefreshToken
	return nil
}

func (s *flakyStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("disk full")
	}
	s.token = ""
	return nil
}

func (s *flakyStore) setFailWrite(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = v
}

func TestFallbackKeepsRotatedTokenWhenBackendWriteFails(t *testing.T) {
	backend := &flakyStore{}
	store := NewFallback(backend, authsession.TelemetryHooks{})
	ctx := context.Background()

	_ = store.SetTokens(ctx, authsession.AuthTokens{RefreshToken: "r1"})
	backend.setFailWrite(true)
	_ = store.SetTokens(ctx, authsession.AuthTokens{RefreshToken: "r2"})

	if got, err := store.RefreshToken(ctx); err != nil || got != "r2" {
		t.Fatalf("expected rotated token r2, got %q err=%v", got, err)
	}
	if !store.Degraded() {
		t.Fatalf("expected degraded after failed write")
	}

	_ = store.Clear(ctx)
	if got, _ := store.RefreshToken(ctx); got != "" {
		t.Fatalf("expected cleared despite failed backend clear, got %q", got)
	}
}

func TestFallbackColdStartReadsBackend(t *testing.T) {
	backend := &flakyStore{token: "r0"}
	store := NewFallback(backend, authsession.TelemetryHooks{})
	ctx := context.Background()

	if got, err := store.RefreshToken(ctx); err != nil || got != "r0" {
		t.Fatalf("expected persisted r0, got %q err=%v", got, err)
	}
	backend.mu.Lock()
	backend.token = "stale"
	backend.mu.Unlock()
	if got, _ := store.RefreshToken(ctx); got != "r0" {
		t.Fatalf("expected loaded token to stay authoritative, got %q", got)
	}
}

func TestFallbackDegradesToMemory(t *testing.T) {
	var mu sync.Mutex
	var entries []authsession.LogEntry
	hooks := authsession.TelemetryHooks{OnLogEntry: func(_ context.Context, e authsession.LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		entries = append(entries, e)
	}}
	store := NewFallback(failingStore{}, hooks)
	ctx := context.Background()

	if err := store.SetTokens(ctx, authsession.AuthTokens{RefreshToken: "r1"}); err != nil {
		t.Fatalf("expected write to succeed in memory, got %v", err)
	}
	if !store.Degraded() {
		t.Fatalf("expected degraded after backend failure")
	}
	got, err := store.RefreshToken(ctx)
	if err != nil || got != "r1" {
		t.Fatalf("expected memory value r1, got %q err=%v", got, err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := store.RefreshToken(ctx); got != "" {
		t.Fatalf("expected cleared, got %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(entries) == 0 || entries[0].Level != authsession.LogLevelWarn || entries[0].Message != "token_store_degraded" {
		t.Fatalf("expected degraded warning, got %+v", entries)
	}
}

func TestFallbackRecoversWithRedis(t *testing.T) {
	mr, rdb := newTestRedis(t)
	backend, err := NewRedis(rdb, RedisConfig{})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	store := NewFallback(backend, authsession.TelemetryHooks{})
	ctx := context.Background()

	if err := backend.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.SetError("ERR simulated outage")
	if err := store.SetTokens(ctx, authsession.AuthTokens{RefreshToken: "r1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !store.Degraded() {
		t.Fatalf("expected degraded while redis fails")
	}

	mr.SetError("")
	if err := store.SetTokens(ctx, authsession.AuthTokens{RefreshToken: "r2"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if store.Degraded() {
		t.Fatalf("expected recovery after successful write")
	}
	if v, err := rdb.Get(ctx, "authsession:refresh:default").Result(); err != nil || v != "r2" {
		t.Fatalf("expected r2 in redis, got %q err=%v", v, err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := rdb.Get(ctx, "authsession:refresh:default").Result(); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected key removed, got %v", err)
	}
}

func TestFallbackWithoutBackend(t *testing.T) {
	store := NewFallback(nil, authsession.TelemetryHooks{})
	if !store.Degraded() {
		t.Fatalf("expected memory-only store to report degraded")
	}
	ctx := context.Background()
	_ = store.SetTokens(ctx, authsession.AuthTokens{RefreshToken: "r1"})
	if got, _ := store.RefreshToken(ctx); got != "r1" {
		t.Fatalf("expected r1, got %q", got)
	}
}
