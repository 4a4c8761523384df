// Package metrics exposes Prometheus instruments for cache connections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the cache instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	hits        prometheus.Counter
	misses      prometheus.Counter
	collections prometheus.Gauge
	storeOpens  prometheus.Counter
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segcache",
			Name:      "operations_total",
			Help:      "Cache operations by operation and result",
		}, []string{"op", "result"}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache",
			Name:      "hits_total",
			Help:      "Get operations that found a record",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache",
			Name:      "misses_total",
			Help:      "Get operations that found no record",
		}),
		collections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcache",
			Name:      "collections_open",
			Help:      "Segment collections currently registered",
		}),
		storeOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache",
			Name:      "store_opens_total",
			Help:      "Storage handles constructed",
		}),
	}

	reg.MustRegister(m.operations, m.hits, m.misses, m.collections, m.storeOpens)
	return m
}

// ObserveOp counts one operation with its outcome.
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// Hit counts a cache hit.
func (m *Metrics) Hit() {
	if m == nil {
		return
	}
	m.hits.Inc()
}

// Miss counts a cache miss.
func (m *Metrics) Miss() {
	if m == nil {
		return
	}
	m.misses.Inc()
}

// CollectionOpened increments the registered-collections gauge.
func (m *Metrics) CollectionOpened() {
	if m == nil {
		return
	}
	m.collections.Inc()
}

// CollectionsCleared resets the registered-collections gauge.
func (m *Metrics) CollectionsCleared() {
	if m == nil {
		return
	}
	m.collections.Set(0)
}

// StoreOpened counts a storage handle construction.
func (m *Metrics) StoreOpened() {
	if m == nil {
		return
	}
	m.storeOpens.Inc()
}
