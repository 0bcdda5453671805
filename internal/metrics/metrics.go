// Package metrics exposes Prometheus instrumentation for the monitoring pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
)

const namespace = "heron"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	monitored     *prometheus.CounterVec
	suspicious    prometheus.Counter
	alerts        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	ruleErrors    *prometheus.CounterVec
	duration      prometheus.Histogram
	riskScores    prometheus.Histogram
	rulesLoaded   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		monitored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "transactions_total",
			Help:      "Transactions monitored, by severity.",
		}, []string{"severity"}),
		suspicious: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "suspicious_total",
			Help:      "Transactions flagged suspicious.",
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Alerts generated, by severity.",
		}, []string{"severity"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "failures_total",
			Help:      "Monitoring failures, by pipeline stage.",
		}, []string{"stage"}),
		ruleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "errors_total",
			Help:      "Rule evaluation errors, by rule.",
		}, []string{"rule_id"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "duration_seconds",
			Help:      "Time to monitor one transaction.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		riskScores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "risk_score",
			Help:      "Distribution of transaction risk scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		rulesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "loaded",
			Help:      "Active rules in the engine snapshot.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDurations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveMonitoring records one completed monitoring pass.
func (m *Metrics) ObserveMonitoring(result *domain.MonitoringResult, elapsed time.Duration) {
	m.monitored.WithLabelValues(string(result.Severity)).Inc()
	m.duration.Observe(elapsed.Seconds())
	m.riskScores.Observe(result.RiskScore.InexactFloat64())
	if result.IsSuspicious {
		m.suspicious.Inc()
	}
	if result.Alert != nil {
		m.alerts.WithLabelValues(string(result.Alert.Severity)).Inc()
	}
}

// ObserveFailure counts a failure at a pipeline stage.
func (m *Metrics) ObserveFailure(stage string) {
	m.failures.WithLabelValues(stage).Inc()
}

// ObserveRuleError counts an isolated rule failure. Its signature matches
// the rule engine's error hook.
func (m *Metrics) ObserveRuleError(ruleID string, _ error) {
	m.ruleErrors.WithLabelValues(ruleID).Inc()
}

// SetRulesLoaded records the size of the active rule snapshot.
func (m *Metrics) SetRulesLoaded(n int) {
	m.rulesLoaded.Set(float64(n))
}

// CacheStatser is a cache layer that reports hit accounting.
type CacheStatser interface {
	Stats() cache.Stats
}

// WatchCache exports the layer's counters, read at scrape time.
func (m *Metrics) WatchCache(c CacheStatser) {
	f := promauto.With(m.registry)
	read := func(pick func(cache.Stats) float64) func() float64 {
		return func() float64 { return pick(c.Stats()) }
	}
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache", Name: "hits_total",
		Help: "Local result cache hits.",
	}, read(func(s cache.Stats) float64 { return float64(s.Hits) }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache", Name: "misses_total",
		Help: "Local result cache misses.",
	}, read(func(s cache.Stats) float64 { return float64(s.Misses) }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
		Help: "Local result cache capacity evictions.",
	}, read(func(s cache.Stats) float64 { return float64(s.Evictions) }))
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "cache", Name: "entries",
		Help: "Entries held by the local result cache.",
	}, read(func(s cache.Stats) float64 { return float64(s.Entries) }))
}

// DropCounter is implemented by buses that shed messages under load.
type DropCounter interface {
	Dropped() uint64
}

// WatchBus exports messages the bus dropped for full subscriber buffers.
func (m *Metrics) WatchBus(b DropCounter) {
	promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "bus", Name: "dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	}, func() float64 { return float64(b.Dropped()) })
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
