package authsession

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultProbeURL answers 204 quickly and is safe to poll.
	DefaultProbeURL          = "https://www.gstatic.com/generate_204"
	defaultNetworkPollPeriod = 20 * time.Second
	defaultProbeTimeout      = 5 * time.Second
)

// Reachability is a tri-state internet reachability flag.
type Reachability int8

const (
	ReachabilityUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ReachabilityOf maps a boolean probe outcome to a Reachability.
func ReachabilityOf(ok bool) Reachability {
	if ok {
		return Reachable
	}
	return Unreachable
}

// NetworkSnapshot is the observable connectivity state. IsOnline is the single
// flag other components consult.
type NetworkSnapshot struct {
	IsConnected         bool
	IsInternetReachable Reachability
	Type                string
	IsOnline            bool
	LastUpdated         time.Time
}

// sameAs compares every field except LastUpdated.
func (s NetworkSnapshot) sameAs(o NetworkSnapshot) bool {
	return s.IsConnected == o.IsConnected &&
		s.IsInternetReachable == o.IsInternetReachable &&
		s.Type == o.Type &&
		s.IsOnline == o.IsOnline
}

// NetworkStatus is the connectivity view consumed by the pipeline, the refresh
// coordinator and retry controllers.
type NetworkStatus interface {
	Snapshot() NetworkSnapshot
	Subscribe(fn func(NetworkSnapshot)) (unsubscribe func())
	IsOnline() bool
}

// Probe measures connectivity once. LastUpdated in the result is ignored.
type Probe interface {
	Probe(ctx context.Context) NetworkSnapshot
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) NetworkSnapshot

func (f ProbeFunc) Probe(ctx context.Context) NetworkSnapshot { return f(ctx) }

// HTTPProbe issues a HEAD request and treats any 2xx answer as online.
type HTTPProbe struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	// Type is reported as the snapshot transport type.
	Type string
}

func (p HTTPProbe) Probe(ctx context.Context) NetworkSnapshot {
	online := p.ping(ctx)
	typ := p.Type
	if typ == "" {
		typ = "http"
	}
	return NetworkSnapshot{
		IsConnected:         online,
		IsInternetReachable: ReachabilityOf(online),
		Type:                typ,
		IsOnline:            online,
	}
}

func (p HTTPProbe) ping(ctx context.Context) bool {
	url := p.URL
	if url == "" {
		url = DefaultProbeURL
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// NetworkMonitorConfig wires the probe and polling cadence.
type NetworkMonitorConfig struct {
	// Probe defaults to an HTTPProbe against DefaultProbeURL.
	Probe Probe
	// PollInterval defaults to 20s.
	PollInterval time.Duration
	// Initial overrides the default (online) snapshot.
	Initial   *NetworkSnapshot
	Now       func() time.Time
	Telemetry TelemetryHooks
}

// NetworkMonitor tracks connectivity by polling a Probe and by accepting
// platform signals through Apply. Subscribers are only notified when the
// snapshot changes meaningfully.
type NetworkMonitor struct {
	probe     Probe
	interval  time.Duration
	now       func() time.Time
	telemetry TelemetryHooks

	mu       sync.RWMutex
	snapshot NetworkSnapshot

	changes broadcaster[NetworkSnapshot]

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewNetworkMonitor builds a monitor. It reports online until the first probe
// or Apply says otherwise; call Start to begin polling.
func NewNetworkMonitor(cfg NetworkMonitorConfig) *NetworkMonitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	probe := cfg.Probe
	if probe == nil {
		probe = HTTPProbe{}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultNetworkPollPeriod
	}
	initial := NetworkSnapshot{
		IsConnected:         true,
		IsInternetReachable: Reachable,
		Type:                "unknown",
		IsOnline:            true,
	}
	if cfg.Initial != nil {
		initial = *cfg.Initial
	}
	initial.LastUpdated = now()
	return &NetworkMonitor{
		probe:     probe,
		interval:  interval,
		now:       now,
		telemetry: cfg.Telemetry,
		snapshot:  initial,
	}
}

// Snapshot returns the current connectivity state.
func (m *NetworkMonitor) Snapshot() NetworkSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// IsOnline reports Snapshot().IsOnline.
func (m *NetworkMonitor) IsOnline() bool {
	return m.Snapshot().IsOnline
}

// Subscribe registers fn for meaningful snapshot changes. Handlers run in
// subscription order, see changes in the order they were applied, and must not
// block. They may unsubscribe or call Apply.
func (m *NetworkMonitor) Subscribe(fn func(NetworkSnapshot)) (unsubscribe func()) {
	return m.changes.subscribe(fn)
}

// Apply records a platform connectivity signal. It returns true when the
// snapshot changed and subscribers were notified.
func (m *NetworkMonitor) Apply(state NetworkSnapshot) bool {
	m.mu.Lock()
	if m.snapshot.sameAs(state) {
		m.mu.Unlock()
		return false
	}
	state.LastUpdated = m.now()
	m.snapshot = state
	m.changes.enqueue(state)
	m.mu.Unlock()

	ctx := context.Background()
	online := 0.0
	if state.IsOnline {
		online = 1
	}
	m.telemetry.metric(ctx, MetricGauge, MetricNetworkOnline, online, nil)
	m.telemetry.log(ctx, LogLevelInfo, "network_changed", map[string]any{
		"online":    state.IsOnline,
		"connected": state.IsConnected,
		"reachable": state.IsInternetReachable.String(),
		"type":      state.Type,
	})
	m.changes.flush()
	return true
}

// Poll runs the probe once and applies its result.
func (m *NetworkMonitor) Poll(ctx context.Context) bool {
	state := m.probe.Probe(ctx)
	// A probe cut short by shutdown says nothing about connectivity.
	if ctx.Err() != nil {
		return false
	}
	return m.Apply(state)
}

// Start polls immediately and then every PollInterval until ctx is done or
// Close is called. Calling Start on a running monitor is a no-op.
func (m *NetworkMonitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	m.cancel = cancel
	m.stopped = stopped

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.Poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Poll(ctx)
			}
		}
	}()
}

// Close stops polling and waits for the poller to exit.
func (m *NetworkMonitor) Close() {
	m.runMu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel, m.stopped = nil, nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
