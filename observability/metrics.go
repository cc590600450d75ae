package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	queriesTotal     *prometheus.CounterVec
	emptyRetrievals  *prometheus.CounterVec
	indexedDocuments *prometheus.CounterVec
	indexedVectors   prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "resumerag"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Answered questions by classification",
		},
		[]string{"classification"},
	)
	m.emptyRetrievals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_retrievals_total",
			Help:      "Searches that produced no usable passages, by reason",
		},
		[]string{"reason"},
	)
	m.indexedDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_documents_total",
			Help:      "Indexing attempts by result",
		},
		[]string{"result"},
	)
	m.indexedVectors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_vectors_total",
			Help:      "Vectors written to the index",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.queriesTotal,
		m.emptyRetrievals,
		m.indexedDocuments,
		m.indexedVectors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RecordRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) RecordQuery(classification string) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(classification).Inc()
}

func (m *Metrics) RecordEmptyRetrieval(reason string) {
	if m == nil {
		return
	}
	m.emptyRetrievals.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordIndexed(vectors int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexedDocuments.WithLabelValues("error").Inc()
		return
	}
	m.indexedDocuments.WithLabelValues("ok").Inc()
	m.indexedVectors.Add(float64(vectors))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EmptyRetrievals() *prometheus.CounterVec {
	return m.emptyRetrievals
}

func (m *Metrics) Queries() *prometheus.CounterVec {
	return m.queriesTotal
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
