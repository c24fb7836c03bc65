// Package telemetry adapts authsession.TelemetryHooks to logging and metrics
// backends: zerolog, log/slog and Prometheus.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelrelay/authsession"
)

// LatencyBuckets are the histogram buckets, in milliseconds, for
// authsession.MetricHTTPLatency.
var LatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Prometheus records authsession metrics in a Prometheus registry. Collectors
// are created on first use of each metric name; the label names seen first
// are fixed for that name.
type Prometheus struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewPrometheus builds an adapter on reg. A nil reg uses a fresh registry.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Prometheus{
		reg:        reg,
		gatherer:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// Record is an authsession.TelemetryHooks.OnMetric implementation.
func (p *Prometheus) Record(_ context.Context, m authsession.Metric) {
	if m.Name == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	names, ok := p.labelNames[m.Name]
	if !ok {
		names = sortedKeys(m.Labels)
	}
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = m.Labels[n]
	}

	switch m.Kind {
	case authsession.MetricCounter:
		vec, ok := p.counters[m.Name]
		if !ok {
			c := p.register(m.Name, names, prometheus.NewCounterVec(prometheus.CounterOpts{Name: m.Name, Help: help(m.Name)}, names))
			if vec, ok = c.(*prometheus.CounterVec); !ok {
				return
			}
			p.counters[m.Name] = vec
		}
		if m.Value >= 0 {
			vec.WithLabelValues(values...).Add(m.Value)
		}
	case authsession.MetricGauge:
		vec, ok := p.gauges[m.Name]
		if !ok {
			c := p.register(m.Name, names, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: m.Name, Help: help(m.Name)}, names))
			if vec, ok = c.(*prometheus.GaugeVec); !ok {
				return
			}
			p.gauges[m.Name] = vec
		}
		vec.WithLabelValues(values...).Set(m.Value)
	case authsession.MetricHistogram:
		vec, ok := p.histograms[m.Name]
		if !ok {
			c := p.register(m.Name, names, prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    m.Name,
				Help:    help(m.Name),
				Buckets: LatencyBuckets,
			}, names))
			if vec, ok = c.(*prometheus.HistogramVec); !ok {
				return
			}
			p.histograms[m.Name] = vec
		}
		vec.WithLabelValues(values...).Observe(m.Value)
	}
}

// register adds c to the registry, returning the collector already registered
// under the same description when there is one, or nil on conflict.
func (p *Prometheus) register(name string, labels []string, c prometheus.Collector) prometheus.Collector {
	if err := p.reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil
		}
		c = already.ExistingCollector
	}
	p.labelNames[name] = labels
	return c
}

func help(name string) string {
	switch name {
	case authsession.MetricHTTPLatency:
		return "Latency of HTTP round trips in milliseconds."
	case authsession.MetricRefreshTotal:
		return "Token refresh calls by result."
	case authsession.MetricRetryAttempts:
		return "Retry controller attempt outcomes."
	case authsession.MetricNetworkOnline:
		return "1 when the network monitor reports online."
	}
	return name
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
