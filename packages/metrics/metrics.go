// Package metrics
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeCached  = "cached"
)

var (
	CollaboratorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urlscan_collaborator_requests_total",
			Help: "Verification calls per collaborator, labeled by outcome.",
		},
		[]string{"collaborator", "outcome"},
	)
	CollaboratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "urlscan_collaborator_duration_seconds",
			Help:    "Duration of a single-URL verification per collaborator.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator"},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "urlscan_batch_duration_seconds",
			Help:    "Time from batch dispatch until all collaborators joined.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
	URLsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "urlscan_urls_processed_total",
			Help: "URLs moved from pending to processed.",
		},
	)
	PendingURLs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urlscan_urls_pending",
			Help: "URLs still waiting for a batch.",
		},
	)
)

func init() {
	prometheus.MustRegister(CollaboratorRequests)
	prometheus.MustRegister(CollaboratorDuration)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(URLsProcessed)
	prometheus.MustRegister(PendingURLs)
}

func ObserveCall(collaborator, outcome string, seconds float64) {
	CollaboratorRequests.WithLabelValues(collaborator, outcome).Inc()
	CollaboratorDuration.WithLabelValues(collaborator).Observe(seconds)
}

func ExposeMetrics(addr string) {
	slog.Info("Exposing Prometheus metrics", "address", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
	}
}
