package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_translations_total",
			Help: "Total number of natural-language to SQL translations by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	translationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_translation_latency_seconds",
			Help:    "Round-trip latency of remote model completions.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"provider"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_query_executions_total",
			Help: "Total number of SQL executions against the local database by outcome.",
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_duration_seconds",
			Help:    "SQL execution latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_rows_returned",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_exports_total",
			Help: "Total number of result exports by sink and outcome.",
		},
		[]string{"sink", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		translationsTotal,
		translationLatencySeconds,
		queryExecutionsTotal,
		queryDurationSeconds,
		queryRowsReturned,
		exportsTotal,
	)
}

func ObserveTranslation(provider string, err error, elapsed time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	translationsTotal.WithLabelValues(provider, outcome(err)).Inc()
	translationLatencySeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func ObserveQuery(rows int, err error, elapsed time.Duration) {
	queryExecutionsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return
	}
	queryDurationSeconds.Observe(elapsed.Seconds())
	queryRowsReturned.Observe(float64(rows))
}

func ObserveExport(sink string, err error) {
	exportsTotal.WithLabelValues(sink, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
