package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
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
				Namespace: "luxmarket",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "luxmarket",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "luxmarket",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "luxmarket",
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

// Observe records the outcome of a JSON-RPC request. Code is the JSON-RPC
// error code, or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
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
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
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

// MarketMetrics tracks trading operations and the value they settle.
type MarketMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	settled    *prometheus.CounterVec
	events     *prometheus.CounterVec
	paused     *prometheus.GaugeVec
}

// Market returns the singleton registry for node operations.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "luxmarket",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of node operations segmented by operation and outcome kind.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "luxmarket",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for node operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "luxmarket",
				Subsystem: "market",
				Name:      "settled_amount_total",
				Help:      "Token base units moved by settlements segmented by leg.",
			}, []string{"leg"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "luxmarket",
				Subsystem: "market",
				Name:      "events_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "luxmarket",
				Subsystem: "market",
				Name:      "module_paused",
				Help:      "Reports whether a module is paused (1) or active (0).",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.latency,
			marketRegistry.settled,
			marketRegistry.events,
			marketRegistry.paused,
		)
	})
	return marketRegistry
}

// ObserveOperation records one node operation. Outcome is "success" or the
// error kind that rejected it.
func (m *MarketMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = labelOr(operation, "unknown")
	m.operations.WithLabelValues(operation, labelOr(outcome, "unknown")).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSettlement adds amount to the settled volume of leg (payee, pool,
// service).
func (m *MarketMetrics) RecordSettlement(leg string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.settled.WithLabelValues(labelOr(leg, "unknown")).Add(bigToFloat(amount))
}

// RecordEvent counts a committed event.
func (m *MarketMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(labelOr(eventType, "unknown")).Inc()
}

// SetPaused reports the pause state of a module.
func (m *MarketMetrics) SetPaused(module string, paused bool) {
	if m == nil {
		return
	}
	value := 0.0
	if paused {
		value = 1
	}
	m.paused.WithLabelValues(labelOr(module, "unknown")).Set(value)
}

// SettledCounter exposes the settlement counter for tests.
func (m *MarketMetrics) SettledCounter() *prometheus.CounterVec { return m.settled }

// OperationCounter exposes the operation counter for tests.
func (m *MarketMetrics) OperationCounter() *prometheus.CounterVec { return m.operations }

func labelOr(value, fallback string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
