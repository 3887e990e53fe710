package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	activeJobs      prometheus.Gauge
	imagesProcessed prometheus.Counter
	pixelsProcessed prometheus.Counter
	bytesSaved      prometheus.Counter
	webhookFailures prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinkpic_worker_jobs_total",
			Help: "Batch jobs handled by the worker, by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shrinkpic_worker_job_duration_seconds",
			Help:    "Wall time spent on each batch job.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shrinkpic_worker_active_jobs",
			Help: "Batch jobs currently being processed.",
		}),
		imagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shrinkpic_worker_images_processed_total",
			Help: "Images written by successful jobs.",
		}),
		pixelsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shrinkpic_worker_pixels_processed_total",
			Help: "Output pixels across successful jobs.",
		}),
		bytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shrinkpic_worker_bytes_saved_total",
			Help: "Bytes saved across successful jobs.",
		}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shrinkpic_worker_webhook_failures_total",
			Help: "Webhook deliveries that exhausted their attempts.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.imagesProcessed,
		m.pixelsProcessed,
		m.bytesSaved,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
