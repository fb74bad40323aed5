package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "betting",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "unauthorized".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// MarketMetrics captures the lifecycle activity of the market runtime.
type MarketMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	value           *prometheus.CounterVec
	custodyBreaches prometheus.Counter
	sinkFailures    *prometheus.CounterVec
	marketsCreated  prometheus.Counter
}

// Markets returns the lazily-initialised market metrics registry.
func Markets() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Market operations segmented by operation and result code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "betting",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for market operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			value: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "market",
				Name:      "value_total",
				Help:      "Native value moved into (staked) and out of (paid) market custody.",
			}, []string{"direction"}),
			custodyBreaches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "market",
				Name:      "custody_shortfalls_total",
				Help:      "Claims rejected because custody could not cover the computed payout.",
			}),
			sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "market",
				Name:      "event_sink_failures_total",
				Help:      "Events that a downstream sink failed to accept after commit.",
			}, []string{"sink"}),
			marketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "betting",
				Subsystem: "market",
				Name:      "markets_created_total",
				Help:      "Markets created since process start.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.latency,
			marketRegistry.value,
			marketRegistry.custodyBreaches,
			marketRegistry.sinkFailures,
			marketRegistry.marketsCreated,
		)
	})
	return marketRegistry
}

// ObserveOperation records one runtime operation and its result code.
func (m *MarketMetrics) ObserveOperation(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(operation, code).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStake adds amount to the staked value counter.
func (m *MarketMetrics) RecordStake(amount uint64) {
	if m == nil {
		return
	}
	m.value.WithLabelValues("staked").Add(float64(amount))
}

// RecordPayout adds amount to the paid value counter.
func (m *MarketMetrics) RecordPayout(amount uint64) {
	if m == nil {
		return
	}
	m.value.WithLabelValues("paid").Add(float64(amount))
}

// RecordMarketCreated counts a newly created market.
func (m *MarketMetrics) RecordMarketCreated() {
	if m == nil {
		return
	}
	m.marketsCreated.Inc()
}

// RecordCustodyShortfall counts a claim that custody could not cover.
func (m *MarketMetrics) RecordCustodyShortfall() {
	if m == nil {
		return
	}
	m.custodyBreaches.Inc()
}

// RecordSinkFailure counts an event a sink rejected.
func (m *MarketMetrics) RecordSinkFailure(sink string) {
	if m == nil {
		return
	}
	if sink == "" {
		sink = "unknown"
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}
