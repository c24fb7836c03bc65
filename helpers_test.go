package authsession

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func onlineSnapshot() NetworkSnapshot {
	return NetworkSnapshot{IsConnected: true, IsInternetReachable: Reachable, Type: "wifi", IsOnline: true}
}

func offlineSnapshot() NetworkSnapshot {
	return NetworkSnapshot{IsConnected: false, IsInternetReachable: Unreachable, Type: "none", IsOnline: false}
}

func newTestMonitor(initial NetworkSnapshot) *NetworkMonitor {
	return NewNetworkMonitor(NetworkMonitorConfig{Initial: &initial})
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = srv.Client()
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new test client: %v", err)
	}
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func tokenBody(access, refresh string, expiresIn int) map[string]any {
	body := map[string]any{
		"accessToken": access,
		"tokenType":   "Bearer",
		"expiresIn":   expiresIn,
	}
	if refresh != "" {
		body["refreshToken"] = refresh
	}
	return body
}

// stateRecorder collects RetryState transitions and lets tests wait for one.
type stateRecorder struct {
	mu     sync.Mutex
	states []RetryState
	ch     chan RetryState
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan RetryState, 64)}
}

func (r *stateRecorder) record(s RetryState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *stateRecorder) waitFor(t *testing.T, status RetryStatus) RetryState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s.Status == status {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; seen %v", status, r.statuses())
		}
	}
}

func (r *stateRecorder) statuses() []RetryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RetryStatus, len(r.states))
	for i, s := range r.states {
		out[i] = s.Status
	}
	return out
}
