package authsession

import (
	"context"
	"net/http"
	"time"
)

// TelemetryHooks expose observability callbacks without forcing dependencies on the caller.
// Adapters for zerolog, slog and Prometheus live in the telemetry package.
type TelemetryHooks struct {
	// OnHTTPRequest fires before the HTTP request is sent.
	OnHTTPRequest func(ctx context.Context, req *http.Request)
	// OnHTTPResponse fires after the request completes (even when err != nil).
	OnHTTPResponse func(ctx context.Context, req *http.Request, resp *http.Response, err error, latency time.Duration)
	// OnLogEntry allows callers to capture library log events.
	OnLogEntry func(ctx context.Context, entry LogEntry)
	// OnMetric records lightweight counters/gauges for observability dashboards.
	OnMetric func(ctx context.Context, metric Metric)
}

// LogLevel encodes the severity for log hooks.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry captures structured log details for library consumers.
type LogEntry struct {
	Level   LogLevel
	Message string
	Fields  map[string]any
}

// MetricKind tells metric backends how to aggregate a datapoint.
type MetricKind string

const (
	MetricCounter   MetricKind = "counter"
	MetricGauge     MetricKind = "gauge"
	MetricHistogram MetricKind = "histogram"
)

// Metric names emitted by this package. Label sets are fixed per name.
const (
	MetricHTTPLatency   = "authsession_http_request_latency_ms" // labels: path
	MetricRefreshTotal  = "authsession_refresh_total"           // labels: result
	MetricRetryAttempts = "authsession_retry_attempts_total"    // labels: outcome
	MetricNetworkOnline = "authsession_network_online"          // no labels
)

// Metric represents a single observability datapoint.
type Metric struct {
	Name   string
	Kind   MetricKind
	Value  float64
	Labels map[string]string
}

func (t TelemetryHooks) log(ctx context.Context, level LogLevel, msg string, fields map[string]any) {
	if t.OnLogEntry == nil {
		return
	}
	entry := LogEntry{Level: level, Message: msg, Fields: fields}
	t.OnLogEntry(ctx, entry)
}

func (t TelemetryHooks) metric(ctx context.Context, kind MetricKind, name string, value float64, labels map[string]string) {
	if t.OnMetric == nil {
		return
	}
	t.OnMetric(ctx, Metric{Name: name, Kind: kind, Value: value, Labels: labels})
}
