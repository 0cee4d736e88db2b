// Package metrics provides Prometheus metrics for feedguard.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SourceFetchesTotal is a counter of source reads by outcome.
	SourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_source_fetches_total",
			Help: "Total number of price source reads",
		},
		[]string{"source", "status"},
	)

	// SourceFetchDuration is a histogram of source read latencies.
	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedguard_source_fetch_duration_seconds",
			Help:    "Duration of price source reads",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	// ResolutionsTotal is a counter of price resolutions by outcome.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_resolutions_total",
			Help: "Total number of price resolutions (primary, fallback, none, stale, invalid)",
		},
		[]string{"feed", "mode", "outcome"},
	)

	// DeviationBps is a gauge of the last measured primary/fallback deviation.
	DeviationBps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedguard_deviation_bps",
			Help: "Deviation between primary and fallback in basis points (-1 when undefined)",
		},
		[]string{"feed"},
	)

	// DeviationWithinThreshold is a gauge of the last deviation check result.
	DeviationWithinThreshold = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedguard_deviation_within_threshold",
			Help: "Whether primary and fallback agree within the threshold (1=yes, 0=no)",
		},
		[]string{"feed"},
	)

	// SourceStale is a gauge of the staleness of each side of a feed.
	SourceStale = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedguard_source_stale",
			Help: "Staleness of a feed side (1=stale or absent, 0=fresh)",
		},
		[]string{"feed", "side"},
	)

	// ConfigChangesTotal is a counter of accepted configuration updates.
	ConfigChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_config_changes_total",
			Help: "Total number of accepted policy configuration changes",
		},
		[]string{"feed", "field"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedguard_http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)

	// WebSocketClients is a gauge of connected WebSocket clients.
	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedguard_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)
)

var initOnce sync.Once

// Init registers all metrics with the default Prometheus registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			SourceFetchesTotal,
			SourceFetchDuration,
			ResolutionsTotal,
			DeviationBps,
			DeviationWithinThreshold,
			SourceStale,
			ConfigChangesTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			WebSocketClients,
		)
	})
}

// NewServer returns a server exposing Prometheus metrics on addr at path.
func NewServer(addr, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// RecordSourceFetch records a read of a price source.
func RecordSourceFetch(source, status string, duration time.Duration) {
	SourceFetchesTotal.WithLabelValues(source, status).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordResolution records the outcome of a resolution. mode is "lenient" or "strict".
func RecordResolution(feed, mode, outcome string) {
	ResolutionsTotal.WithLabelValues(feed, mode, outcome).Inc()
}

// RecordDeviation records the last deviation check for a feed.
func RecordDeviation(feed string, bps uint64, within bool, undefined bool) {
	if undefined {
		DeviationBps.WithLabelValues(feed).Set(-1)
	} else {
		DeviationBps.WithLabelValues(feed).Set(float64(bps))
	}
	DeviationWithinThreshold.WithLabelValues(feed).Set(boolToFloat(within))
}

// RecordStaleness records the staleness of one side of a feed.
func RecordStaleness(feed, side string, stale bool) {
	SourceStale.WithLabelValues(feed, side).Set(boolToFloat(stale))
}

// RecordConfigChange records an accepted configuration change.
func RecordConfigChange(feed, field string) {
	ConfigChangesTotal.WithLabelValues(feed, field).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
