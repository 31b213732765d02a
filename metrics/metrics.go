// Package metrics exposes prometheus metrics for the RPC client and its caches.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the fixed namespace of all metrics in this module.
	Namespace = "rpcclient"

	RPCClientSubsystem = "rpc_client"
)

// RPCMetricer records the outcome of RPC calls.
type RPCMetricer interface {
	RecordRPCClientRequest(method string) func(err error)
	RecordRPCClientResponse(method string, err error)
	RecordBatchSize(size int)
}

// CacheMetrics tracks cache hit rates, keyed by a per-cache label.
type CacheMetrics interface {
	CacheAdd(label string, cacheSize int, evicted bool)
	CacheGet(label string, hit bool)
}

// Metrics implements both RPCMetricer and CacheMetrics on a prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	rpcRequestsTotal   *prometheus.CounterVec
	rpcRequestDuration *prometheus.HistogramVec
	rpcResponsesTotal  *prometheus.CounterVec
	rpcBatchSize       prometheus.Histogram
	cacheSizeGauge     *prometheus.GaugeVec
	cacheGetTotal      *prometheus.CounterVec
	cacheAddTotal      *prometheus.CounterVec
}

var (
	_ RPCMetricer  = (*Metrics)(nil)
	_ CacheMetrics = (*Metrics)(nil)
)

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	ns := Namespace

	m := &Metrics{
		registry: registry,
		rpcRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "requests_total",
			Help:      "Total RPC requests initiated",
		}, []string{"method"}),
		rpcRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "request_duration_seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			Help:      "Histogram of RPC client request durations",
		}, []string{"method"}),
		rpcResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "responses_total",
			Help:      "Total RPC request responses received",
		}, []string{"method", "error"}),
		rpcBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "batch_size",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			Help:      "Histogram of JSON-RPC batch sizes sent",
		}),
		cacheSizeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_size",
			Help:      "Cache size (number of entries) of cache by label",
		}, []string{"label"}),
		cacheGetTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_get_total",
			Help:      "Number of cache lookups, by label and hit",
		}, []string{"label", "hit"}),
		cacheAddTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_add_total",
			Help:      "Number of cache additions, by label and eviction",
		}, []string{"label", "evicted"}),
	}
	registry.MustRegister(
		m.rpcRequestsTotal, m.rpcRequestDuration, m.rpcResponsesTotal, m.rpcBatchSize,
		m.cacheSizeGauge, m.cacheGetTotal, m.cacheAddTotal,
	)
	return m
}

// Registry exposes the underlying registry, for serving a /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordRPCClientRequest(method string) func(err error) {
	m.rpcRequestsTotal.WithLabelValues(method).Inc()
	timer := prometheus.NewTimer(m.rpcRequestDuration.WithLabelValues(method))
	return func(err error) {
		m.RecordRPCClientResponse(method, err)
		timer.ObserveDuration()
	}
}

func (m *Metrics) RecordRPCClientResponse(method string, err error) {
	errStr := "<nil>"
	if err != nil {
		errStr = "<error>"
	}
	m.rpcResponsesTotal.WithLabelValues(method, errStr).Inc()
}

func (m *Metrics) RecordBatchSize(size int) {
	m.rpcBatchSize.Observe(float64(size))
}

func (m *Metrics) CacheAdd(label string, cacheSize int, evicted bool) {
	m.cacheSizeGauge.WithLabelValues(label).Set(float64(cacheSize))
	if evicted {
		m.cacheAddTotal.WithLabelValues(label, "true").Inc()
	} else {
		m.cacheAddTotal.WithLabelValues(label, "false").Inc()
	}
}

func (m *Metrics) CacheGet(label string, hit bool) {
	if hit {
		m.cacheGetTotal.WithLabelValues(label, "true").Inc()
	} else {
		m.cacheGetTotal.WithLabelValues(label, "false").Inc()
	}
}

// NoopMetrics implements the metric interfaces without recording anything.
type NoopMetrics struct{}

var (
	_ RPCMetricer  = NoopMetrics{}
	_ CacheMetrics = NoopMetrics{}
)

func (NoopMetrics) RecordRPCClientRequest(method string) func(err error) {
	return func(err error) {}
}

func (NoopMetrics) RecordRPCClientResponse(method string, err error) {}

func (NoopMetrics) RecordBatchSize(size int) {}

func (NoopMetrics) CacheAdd(label string, cacheSize int, evicted bool) {}

func (NoopMetrics) CacheGet(label string, hit bool) {}
