package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus collectors owned by a Controller.
type metrics struct {
	// queries counts finished queries by branch and outcome: ok,
	// degraded, clarification or cancelled.
	queries *prometheus.CounterVec

	// queryDuration records end-to-end query latency per branch.
	queryDuration *prometheus.HistogramVec

	// stageDuration records the latency of each pipeline stage.
	stageDuration *prometheus.HistogramVec

	// ingestedChunks counts chunks committed to the index.
	ingestedChunks prometheus.Counter

	// ingestFailures counts rejected documents by error kind.
	ingestFailures *prometheus.CounterVec

	// evaluationOverall records the overall evaluation score.
	evaluationOverall prometheus.Histogram
}

// newMetrics registers the pipeline collectors against reg.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routerag",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total number of queries answered, partitioned by branch and outcome.",
		}, []string{"branch", "outcome"}),

		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "routerag",
			Subsystem: "pipeline",
			Name:      "query_duration_seconds",
			Help:      "End-to-end latency of answered queries.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		}, []string{"branch"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "routerag",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of individual pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		ingestedChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "routerag",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total number of chunks committed to the vector index.",
		}),

		ingestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routerag",
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of rejected documents, partitioned by error kind.",
		}, []string{"kind"}),

		evaluationOverall: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "routerag",
			Subsystem: "evaluation",
			Name:      "overall_score",
			Help:      "Overall evaluation score of answered queries.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
}

func (m *metrics) observeStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
