// Package metrics exposes worker counters to Prometheus. A nil *Metrics is
// valid and records nothing, so callers never need to check whether
// metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus collectors.
type Metrics struct {
	registry  *prometheus.Registry
	fetches   *prometheus.CounterVec
	lifecycle *prometheus.CounterVec
	evicted   prometheus.Counter
	cacheOps  *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry, including the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		fetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecache_fetch_total",
				Help: "Intercepted fetches by strategy and the source that answered",
			},
			[]string{"strategy", "source"}, // source: cache, network, offline, none
		),
		lifecycle: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecache_lifecycle_total",
				Help: "Install and activate attempts by result",
			},
			[]string{"event", "result"}, // result: ok, error
		),
		evicted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sitecache_partitions_evicted_total",
				Help: "Cache partitions deleted during activation",
			},
		),
		cacheOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecache_cache_writes_total",
				Help: "Background cache writes by partition and result",
			},
			[]string{"partition", "result"},
		),
	}
}

// RecordFetch counts one intercepted fetch.
func (m *Metrics) RecordFetch(strategy, source string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(strategy, source).Inc()
}

// RecordLifecycle counts one install or activate attempt.
func (m *Metrics) RecordLifecycle(event string, err error) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(event, result(err)).Inc()
}

// RecordEviction counts one deleted partition.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evicted.Inc()
}

// RecordCacheWrite counts one background cache write.
func (m *Metrics) RecordCacheWrite(partition string, err error) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(partition, result(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
