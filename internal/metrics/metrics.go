// Package metrics defines the Prometheus collectors of the ingestion service
// and the HTTP middleware that feeds the request collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	PipelinesInFlight   prometheus.Gauge
	PipelineDuration    prometheus.Histogram
	ProgramsFinished    *prometheus.CounterVec
	DocumentsCreated    prometheus.Counter
	FailuresRecorded    *prometheus.CounterVec
	IndexingRequests    *prometheus.CounterVec
	RetriedFailures     *prometheus.CounterVec
	ValidationRejected  prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg means a
// fresh private registry, which keeps tests independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		PipelinesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "program_pipelines_in_flight",
			Help: "Number of background ingestion pipelines currently running.",
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "program_pipeline_duration_seconds",
			Help:    "Wall time of one background ingestion pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ProgramsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "programs_finished_total",
				Help: "Programs that reached a terminal status, by status.",
			},
			[]string{"status"},
		),
		DocumentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_created_total",
			Help: "Document rows committed by the pipeline and by retries.",
		}),
		FailuresRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processing_failures_recorded_total",
				Help: "Processing failure rows written, by failure type.",
			},
			[]string{"failure_type"},
		),
		IndexingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vector_indexing_requests_total",
				Help: "Vector indexing requests by outcome (accepted, rejected, error).",
			},
			[]string{"outcome"},
		),
		RetriedFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failure_retries_total",
				Help: "Failure retry attempts by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		ValidationRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "program_validation_rejected_total",
			Help: "Registrations rejected by file validation.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PipelinesInFlight,
		m.PipelineDuration,
		m.ProgramsFinished,
		m.DocumentsCreated,
		m.FailuresRecorded,
		m.IndexingRequests,
		m.RetriedFailures,
		m.ValidationRejected,
	)
	return m
}

// Handler returns the scrape handler for the registry the collectors live in.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
