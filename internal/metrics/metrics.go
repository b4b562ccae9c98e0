// Package metrics owns the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/monopilot/monopilot/pkg/httperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "monopilot"

type Metrics struct {
	registry     *prometheus.Registry
	httpDuration *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route class, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route_class", "method", "status"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Split, merge, link and sequencer calls by outcome.",
		}, []string{"operation", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read-through cache lookups by result.",
		}, []string{"cache", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration,
		m.operations,
		m.cacheLookups,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(routeClass string, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(routeClass, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordOutcome(operation string, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// CacheObserver plugs into ttlcache.WithObserver.
func (m *Metrics) CacheObserver(cache string) func(hit bool) {
	return func(hit bool) {
		if m == nil {
			return
		}
		result := "miss"
		if hit {
			result = "hit"
		}
		m.cacheLookups.WithLabelValues(cache, result).Inc()
	}
}

// Outcome labels err for RecordOutcome: "ok", the lower-cased application
// error code, or "error" for anything untyped.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := httperr.As(err); ok {
		return strings.ToLower(e.Code)
	}
	return "error"
}
