// Package telemetry exposes an optional Prometheus compatible metrics
// endpoint for a stage process.
package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aviarylab/birdstation/internal/conf"
)

// Metrics holds the pipeline counters registered for one stage process.
// Counters irrelevant to the running stage simply stay at zero.
type Metrics struct {
	RecordingsFlushed  prometheus.Counter
	RecordingsEvicted  prometheus.Counter
	RecordingsConsumed prometheus.Counter
	ClaimConflicts     prometheus.Counter
	Quarantined        prometheus.Counter
	DetectionsAppended prometheus.Counter
	ImagesFetched      prometheus.Counter
	FetchFailures      prometheus.Counter
}

// NewMetrics registers the pipeline counters on a fresh registry and
// returns both.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		RecordingsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_recordings_flushed_total",
			Help: "Recordings assembled and published to the queue directory.",
		}),
		RecordingsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_recordings_evicted_total",
			Help: "Recordings deleted by the retention cap.",
		}),
		RecordingsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_recordings_consumed_total",
			Help: "Recordings fully processed and deleted by the analyzer.",
		}),
		ClaimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_claim_conflicts_total",
			Help: "Claim attempts lost to another analyzer instance.",
		}),
		Quarantined: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_recordings_quarantined_total",
			Help: "Recordings moved to quarantine after exhausting retries.",
		}),
		DetectionsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_detections_appended_total",
			Help: "Detection rows appended to the ledger.",
		}),
		ImagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_images_fetched_total",
			Help: "Species images fetched and published.",
		}),
		FetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdstation_image_fetch_failures_total",
			Help: "Image fetch attempts that failed.",
		}),
	}

	return m, registry
}

// Serve starts the metrics endpoint when telemetry is enabled. It returns
// immediately; the listener runs until the process exits.
func Serve(settings *conf.TelemetrySettings, registry *prometheus.Registry, logger *slog.Logger) {
	if !settings.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              settings.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("telemetry endpoint listening", "addr", settings.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("telemetry endpoint failed", "error", err)
		}
	}()
}
