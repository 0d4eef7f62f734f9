package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatAnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvqa_chat_answers_total",
			Help: "Chat requests by the strategy that produced the answer and the terminal state.",
		},
		[]string{"strategy", "state"},
	)
	chatRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csvqa_chat_rows_returned",
			Help:    "Total rows matched by executed chat queries.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 10000},
		},
	)
	sqlRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvqa_sql_rejections_total",
			Help: "Statements rejected by the SQL validator, by origin.",
		},
		[]string{"origin"},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csvqa_query_duration_ms",
			Help:    "Engine execution latency (page plus count) in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	generatorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvqa_generator_calls_total",
			Help: "Generative capability calls by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)
	datasetReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvqa_dataset_reloads_total",
			Help: "Dataset reload attempts by outcome.",
		},
		[]string{"outcome"},
	)
	datasetLoadedAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "csvqa_dataset_loaded_timestamp_seconds",
			Help: "Unix time of the last successful dataset load.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatAnswersTotal,
		chatRowsReturned,
		sqlRejectionsTotal,
		queryDurationMs,
		generatorCallsTotal,
		datasetReloadsTotal,
		datasetLoadedAt,
	)
}

func ObserveChatAnswer(strategy, state string, rowCount int) {
	chatAnswersTotal.WithLabelValues(strategy, state).Inc()
	if rowCount >= 0 {
		chatRowsReturned.Observe(float64(rowCount))
	}
}

func IncrementSQLRejection(origin string) {
	sqlRejectionsTotal.WithLabelValues(origin).Inc()
}

func ObserveQueryDuration(elapsed time.Duration) {
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveGeneratorCall(purpose, outcome string) {
	generatorCallsTotal.WithLabelValues(purpose, outcome).Inc()
}

func ObserveDatasetReload(outcome string, loadedAt time.Time) {
	datasetReloadsTotal.WithLabelValues(outcome).Inc()
	if !loadedAt.IsZero() {
		datasetLoadedAt.Set(float64(loadedAt.Unix()))
	}
}
