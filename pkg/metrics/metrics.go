package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archi3d_jobs_completed_total",
			Help: "Total number of generation jobs completed successfully",
		},
	)

	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archi3d_jobs_failed_total",
			Help: "Total number of generation jobs that ended in failure",
		},
	)

	JobsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archi3d_jobs_skipped_total",
			Help: "Total number of jobs skipped at claim time (already terminal or claimed elsewhere)",
		},
	)

	AdapterRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archi3d_adapter_retries_total",
			Help: "Total number of adapter retries after transient failures, by algorithm",
		},
		[]string{"algo"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archi3d_generation_duration_seconds",
			Help:    "Wall-clock duration of adapter invocations in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"algo"},
	)

	// Planner metrics
	JobsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archi3d_jobs_enqueued_total",
			Help: "Total number of generation jobs enqueued by the batch planner",
		},
	)

	// Consolidator metrics
	ConsolidationCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archi3d_consolidation_cycles_total",
			Help: "Total number of consolidation passes",
		},
	)

	ConsolidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archi3d_consolidation_duration_seconds",
			Help:    "Consolidation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictsResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archi3d_conflicts_resolved_total",
			Help: "Total number of duplicate-row conflicts resolved by the consolidator",
		},
	)

	// SSOT metrics
	RowsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archi3d_rows_upserted_total",
			Help: "Total number of SSOT rows written, by table and kind (inserted/updated)",
		},
		[]string{"table", "kind"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(JobsSkipped)
	prometheus.MustRegister(AdapterRetries)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(JobsEnqueued)
	prometheus.MustRegister(ConsolidationCycles)
	prometheus.MustRegister(ConsolidationDuration)
	prometheus.MustRegister(ConflictsResolved)
	prometheus.MustRegister(RowsUpserted)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr in a background goroutine. Used by the
// worker when --metrics-addr is set; errors are returned on the channel.
func Serve(addr string) <-chan error {
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	go func() {
		errCh <- http.ListenAndServe(addr, mux)
	}()
	return errCh
}
