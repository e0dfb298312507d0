// Package metrics exposes Prometheus collectors for the index daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/indexd/internal/vector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "indexd"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	searches       prometheus.Counter
	nanDropped     prometheus.Counter
	searchDuration prometheus.Histogram
	upserted       prometheus.Counter
	deleted        prometheus.Counter
	storeChunks    prometheus.Gauge
	storeDims      prometheus.Gauge
	snapshots      *prometheus.CounterVec
	embeds         *prometheus.CounterVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "route", "code"})
	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	m.searches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_total",
		Help:      "Number of completed vector searches.",
	})
	m.nanDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_nan_dropped_total",
		Help:      "Candidates discarded because their score was NaN.",
	})
	m.searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Vector search latency including worker wait.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	m.upserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upserted_chunks_total",
		Help:      "Chunks written to the store.",
	})
	m.deleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deleted_chunks_total",
		Help:      "Chunks removed from the store.",
	})
	m.storeChunks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_chunks",
		Help:      "Chunks currently held in memory.",
	})
	m.storeDims = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_dims",
		Help:      "Latched vector dimensionality, 0 when unset.",
	})
	m.snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_operations_total",
		Help:      "Snapshot save, load and import operations.",
	}, []string{"op", "result"})
	m.embeds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embed_requests_total",
		Help:      "Calls to the embedding provider.",
	}, []string{"result"})

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.searches,
		m.nanDropped,
		m.searchDuration,
		m.upserted,
		m.deleted,
		m.storeChunks,
		m.storeDims,
		m.snapshots,
		m.embeds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSearch records one completed search.
func (m *Metrics) ObserveSearch(d time.Duration, stats vector.ScanStats) {
	m.searches.Inc()
	m.searchDuration.Observe(d.Seconds())
	if stats.NaNDropped > 0 {
		m.nanDropped.Add(float64(stats.NaNDropped))
	}
}

// AddUpserted counts written chunks.
func (m *Metrics) AddUpserted(n int) {
	if n > 0 {
		m.upserted.Add(float64(n))
	}
}

// AddDeleted counts removed chunks.
func (m *Metrics) AddDeleted(n int) {
	if n > 0 {
		m.deleted.Add(float64(n))
	}
}

// SetStoreSize updates the store gauges.
func (m *Metrics) SetStoreSize(chunks, dims int) {
	m.storeChunks.Set(float64(chunks))
	m.storeDims.Set(float64(dims))
}

// ObserveSnapshot counts a snapshot operation by outcome.
func (m *Metrics) ObserveSnapshot(op string, err error) {
	m.snapshots.WithLabelValues(op, result(err)).Inc()
}

// ObserveEmbed counts a call to the embedding provider by outcome.
func (m *Metrics) ObserveEmbed(err error) {
	m.embeds.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
