package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AnalysisRequests counts analysis operations by name and outcome.
	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_analysis_requests_total",
			Help: "Analysis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// AnalysisDuration tracks how long analysis operations take.
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxima_analysis_duration_seconds",
			Help:    "Analysis operation latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"operation"},
	)

	// BootstrapFailedDraws counts resampling draws that could not be evaluated.
	BootstrapFailedDraws = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_bootstrap_failed_draws_total",
			Help: "Bootstrap draws skipped because the statistic could not be computed",
		},
		[]string{"procedure"},
	)

	// SessionsActive is the number of live sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxima_sessions_active",
		Help: "Sessions currently held in memory",
	})

	// DatasetRows is the size of the last dataset loaded, by source.
	DatasetRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxima_dataset_rows",
			Help: "Rows in the most recently loaded dataset",
		},
		[]string{"source"},
	)
)

// MetricsHandler serves the default registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
