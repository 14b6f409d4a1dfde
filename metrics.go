package imageload

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	LabelSuccess = "success"
	LabelSource  = "source"
	LabelHit     = "hit"
	LabelPhase   = "phase"

	SourceLocal    = "local"
	SourceCache    = "cache"
	SourceDownload = "download"

	PhaseCache    = "cache"
	PhaseDownload = "download"
)

// Metrics instruments a loader. Use NewMetrics for prometheus-backed
// instruments; the zero value is not usable, so New falls back to
// NopMetrics when none are supplied.
type Metrics struct {
	// Latency of a whole fetch, by source of the result.
	FetchDuration metrics.Histogram
	// Counts of cache consultations, labelled hit or miss.
	CacheRequests metrics.Counter
	// Completions discarded because their request had been superseded.
	StaleResults metrics.Counter
}

func NewMetrics() Metrics {
	return Metrics{
		FetchDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: "imageload",
			Subsystem: "loader",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of image fetches, in seconds.",
			Buckets:   stdprometheus.DefBuckets,
		}, []string{LabelSource, LabelSuccess}),
		CacheRequests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "imageload",
			Subsystem: "loader",
			Name:      "cache_requests_total",
			Help:      "Count of cache consultations.",
		}, []string{LabelHit}),
		StaleResults: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "imageload",
			Subsystem: "loader",
			Name:      "stale_results_total",
			Help:      "Count of completions discarded because the request was superseded.",
		}, []string{LabelPhase}),
	}
}

func NopMetrics() Metrics {
	return Metrics{
		FetchDuration: discard.NewHistogram(),
		CacheRequests: discard.NewCounter(),
		StaleResults:  discard.NewCounter(),
	}
}
