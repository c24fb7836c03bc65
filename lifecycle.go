package authsession

import "sync"

// AppState mirrors the host application's foreground state.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

// ForegroundSource publishes host application state transitions.
type ForegroundSource interface {
	Subscribe(fn func(AppState)) (unsubscribe func())
}

// AppLifecycle is a ForegroundSource the host drives with SetState, e.g. from
// a UI toolkit callback or an OS signal handler.
type AppLifecycle struct {
	mu      sync.Mutex
	state   AppState
	changes broadcaster[AppState]
}

// NewAppLifecycle starts in AppStateActive.
func NewAppLifecycle() *AppLifecycle {
	return &AppLifecycle{state: AppStateActive}
}

func (l *AppLifecycle) State() AppState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState records a transition and notifies subscribers when the state changed.
// Handlers run in subscription order and must not block; they may unsubscribe.
func (l *AppLifecycle) SetState(state AppState) {
	l.mu.Lock()
	if l.state == state {
		l.mu.Unlock()
		return
	}
	l.state = state
	l.changes.enqueue(state)
	l.mu.Unlock()
	l.changes.flush()
}

func (l *AppLifecycle) Subscribe(fn func(AppState)) (unsubscribe func()) {
	return l.changes.subscribe(fn)
}
