package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for RowsProcessed.
const (
	RowSkipped  = "skipped"
	RowFound    = "found"
	RowNotFound = "not_found"
	RowFailed   = "failed"
)

// Label values for CacheLookups.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

type Metrics struct {
	RowsProcessed  *prometheus.CounterVec
	APIErrors      prometheus.Counter
	RequestSeconds *prometheus.HistogramVec
	CacheLookups   *prometheus.CounterVec
	RowsPending    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RowsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pinpoint_rows_processed_total",
			Help: "Total number of place rows processed, by outcome.",
		}, []string{"status"}),
		APIErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pinpoint_provider_api_errors_total",
			Help: "Total number of errors received from the geocoding provider API.",
		}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pinpoint_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		CacheLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pinpoint_cache_lookups_total",
			Help: "Geocode cache lookups, by result.",
		}, []string{"result"}),
		RowsPending: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pinpoint_rows_pending",
			Help: "Rows still waiting for coordinates in the current run.",
		}),
	}
}
