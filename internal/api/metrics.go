package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	imagesProcessed   *prometheus.CounterVec
	bytesSaved        *prometheus.CounterVec
	batchSize         *prometheus.HistogramVec
	inFlight          prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinkpic_api_requests_total",
			Help: "HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shrinkpic_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinkpic_api_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinkpic_queue_jobs_enqueued_total",
			Help: "Batch jobs enqueued for the worker.",
		}, []string{"queue"}),
		imagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinkpic_api_images_processed_total",
			Help: "Images processed in request.",
		}, []string{"mode"}),
		bytesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinkpic_api_bytes_saved_total",
			Help: "Bytes saved by images processed in request.",
		}, []string{"mode"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shrinkpic_api_batch_images",
			Help:    "Images per accepted batch.",
			Buckets: []float64{1, 2, 5, 10, 15, 20},
		}, []string{"mode"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shrinkpic_api_requests_in_flight",
			Help: "Requests currently being served.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.imagesProcessed,
		m.bytesSaved,
		m.batchSize,
		m.inFlight,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses request paths onto the registered routes so label
// cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case path == "/":
		return "/"
	case path == "/health", path == "/metrics", path == "/batch-compress", path == "/v1/jobs":
		return path
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	default:
		return "unmatched"
	}
}

// observeBatch records the outcome of one processed batch.
func (m *metrics) observeBatch(mode string, usage domain.Usage) {
	m.batchSize.WithLabelValues(mode).Observe(float64(usage.Images))
	m.imagesProcessed.WithLabelValues(mode).Add(float64(usage.Images))
	m.bytesSaved.WithLabelValues(mode).Add(float64(usage.BytesSaved))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
