// Package metrics holds the Prometheus collectors exported by a store and
// its HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "diskcache"
	subsystem = "store"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// StoreMetrics holds metrics related to store operations and persistence.
type StoreMetrics struct {
	Operations      *prometheus.CounterVec
	PersistDuration prometheus.Histogram
	Keys            *prometheus.GaugeVec
}

// NewStoreMetrics creates unregistered collectors. Register them with
// PrometheusCollectors.
func NewStoreMetrics() *StoreMetrics {
	return &StoreMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Count of store operations by operation and result",
		}, []string{"op", "result"}),

		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_duration_seconds",
			Help:      "Histogram of time spent on mutations that rewrite a shard file",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 8),
		}),

		Keys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "keys",
			Help:      "Number of keys held in memory per shard",
		}, []string{"shard"}),
	}
}

// PrometheusCollectors returns every collector for registration.
func (m *StoreMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Operations,
		m.PersistDuration,
		m.Keys,
	}
}

// ObserveOp records one operation. A nil receiver records nothing.
func (m *StoreMetrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// ObservePersist records the duration of a persisting mutation.
func (m *StoreMetrics) ObservePersist(d time.Duration) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(d.Seconds())
}

// SetKeys records the key count of a shard.
func (m *StoreMetrics) SetKeys(shard, keys int) {
	if m == nil {
		return
	}
	m.Keys.WithLabelValues(strconv.Itoa(shard)).Set(float64(keys))
}

// HTTPMetrics holds metrics for the HTTP API.
type HTTPMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates unregistered HTTP collectors.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of HTTP requests by route, method and status class",
		}, []string{"route", "method", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time taken to serve HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// PrometheusCollectors returns every collector for registration.
func (m *HTTPMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Requests, m.RequestDuration}
}

// ObserveRequest records one served request.
func (m *HTTPMetrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, StatusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// StatusClass maps a status code to its class label, such as "2XX".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "XXX"
	}
	return strconv.Itoa(code/100) + "XX"
}
