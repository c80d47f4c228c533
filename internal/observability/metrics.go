// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	TicksProcessed    prometheus.Counter
	TicksDropped      prometheus.Counter
	FeedConnects      prometheus.Counter
	FeedDisconnects   prometheus.Counter
	SubscribedSymbols prometheus.Gauge

	// Match metrics
	MatchesCreated   prometheus.Counter
	MatchesStarted   prometheus.Counter
	MatchesCompleted *prometheus.CounterVec
	MatchesCancelled prometheus.Counter
	ActiveMatches    prometheus.Gauge

	// Scoring metrics
	SamplesAppended   prometheus.Counter
	TickRecordsStored prometheus.Counter
	TickFanoutLatency prometheus.Histogram

	// Settlement metrics
	PotSettled prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
// against the default registerer.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against a caller-supplied registerer. Tests use
// this with a private registry to avoid duplicate registration panics.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	return newMetrics(namespace, reg)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_battles"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Feed metrics
		TicksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ticks_processed_total",
			Help:      "Total number of price ticks fanned out to matches",
		}),
		TicksDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ticks_dropped_total",
			Help:      "Total number of ticks received for symbols no match tracks",
		}),
		FeedConnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connects_total",
			Help:      "Total number of symbol stream connections established",
		}),
		FeedDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "disconnects_total",
			Help:      "Total number of symbol stream disconnects",
		}),
		SubscribedSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribed_symbols",
			Help:      "Current number of symbols with an active subscription",
		}),

		// Match metrics
		MatchesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "created_total",
			Help:      "Total number of matches created",
		}),
		MatchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "started_total",
			Help:      "Total number of matches that entered IN_PROGRESS",
		}),
		MatchesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "completed_total",
			Help:      "Total number of matches completed by result",
		}, []string{"result"}),
		MatchesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "cancelled_total",
			Help:      "Total number of matches cancelled",
		}),
		ActiveMatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "active",
			Help:      "Current number of matches IN_PROGRESS",
		}),

		// Scoring metrics
		SamplesAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "samples_appended_total",
			Help:      "Total number of team score samples appended",
		}),
		TickRecordsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "tick_records_stored_total",
			Help:      "Total number of tick history records flushed to storage",
		}),
		TickFanoutLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "tick_fanout_latency_seconds",
			Help:      "Time to fan a single tick out to all active matches",
			Buckets:   prometheus.DefBuckets,
		}),

		// Settlement metrics
		PotSettled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "pot_settled_total",
			Help:      "Total pot amount settled across completed matches",
		}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
