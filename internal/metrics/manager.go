// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "strava_wrapped"
	Subsystem = "server"
)

// Manager holds every instrument the service updates.
type Manager struct {
	// counters
	CounterRequests           *prometheus.CounterVec
	CounterHandleRequestPanic prometheus.Counter
	CounterSyncs              *prometheus.CounterVec
	CounterActivitiesSynced   prometheus.Counter
	CounterSummaryCache       *prometheus.CounterVec
	CounterTokenRefreshes     *prometheus.CounterVec
	CounterImagesRendered     prometheus.Counter

	// gauges
	GaugeRequests       prometheus.Gauge
	GaugeLastSyncUnix   prometheus.Gauge
	GaugeRateLimitUsage *prometheus.GaugeVec

	// histograms
	HistogramRequestDuration *prometheus.HistogramVec
	HistSyncDuration         prometheus.Histogram
	HistSummaryDuration      prometheus.Histogram
}

// SetupPrometheus returns a registry carrying the build, Go runtime and process collectors.
func SetupPrometheus() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewUnregisteredManager returns a manager with the production names on a private registry that
// is never exported. Components built without a manager record into it.
func NewUnregisteredManager() *Manager {
	return NewManager(Namespace, Subsystem, prometheus.NewRegistry())
}

func NewTestManager() *Manager {
	return NewManager(Namespace, "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager(Namespace, "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request",
			Help:      "The total number of incoming requests",
		}, []string{"method", "status"}),
		CounterHandleRequestPanic: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handle_request_panic",
			Help:      "The total number of serve request panics",
		}),
		CounterSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "syncs",
			Help:      "Activity syncs by result",
		}, []string{"result"}),
		CounterActivitiesSynced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "activities_synced",
			Help:      "Activities written to the store by syncs",
		}),
		CounterSummaryCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "summary_cache",
			Help:      "Summary cache lookups by outcome",
		}, []string{"outcome"}),
		CounterTokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "token_refreshes",
			Help:      "Access token refresh attempts by result",
		}, []string{"result"}),
		CounterImagesRendered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "images_rendered",
			Help:      "Summary images rendered",
		}),

		GaugeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_requests",
			Help:      "Current number of requests served",
		}),
		GaugeLastSyncUnix: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last successful sync",
		}),
		GaugeRateLimitUsage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "strava_rate_limit_usage",
			Help:      "Strava API usage reported by the last response",
		}, []string{"window"}),

		HistogramRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Histogram of response time for requests in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route", "method", "status_code"}),
		HistSyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a single activity sync in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 900},
		}),
		HistSummaryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "summary_build_duration_seconds",
			Help:      "Time spent loading records and building a summary",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
}

// Sync result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Cache outcome labels.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// ObserveRateLimit records the Strava usage counters.
func (m *Manager) ObserveRateLimit(usage15Min, usageDaily int) {
	m.GaugeRateLimitUsage.WithLabelValues("15min").Set(float64(usage15Min))
	m.GaugeRateLimitUsage.WithLabelValues("daily").Set(float64(usageDaily))
}
