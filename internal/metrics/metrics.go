// Package metrics exposes Prometheus metrics for pipeline health and
// throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_events_read_total",
			Help: "Total number of raw events pulled from the stream",
		},
	)

	EventsValidTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_events_valid_total",
			Help: "Total number of events that passed validation",
		},
	)

	EventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_events_rejected_total",
			Help: "Total number of events rejected by validation, by reason",
		},
		[]string{"reason"},
	)

	DuplicatesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_duplicates_dropped_total",
			Help: "Total number of duplicate order ids dropped by the dedup window",
		},
	)

	DedupWindowSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "order_dedup_window_entries",
			Help: "Current number of order ids held in the dedup window",
		},
	)

	BatchesCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_batches_committed_total",
			Help: "Total number of batches committed to the warehouse",
		},
	)

	BatchCommitRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_batch_commit_retries_total",
			Help: "Total number of retried warehouse commits",
		},
	)

	BatchesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_batches_failed_total",
			Help: "Total number of batches that failed fatally and were parked",
		},
	)

	RecordsCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_records_committed_total",
			Help: "Total number of order records upserted into the warehouse",
		},
	)

	PartitionsHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "order_partitions_halted",
			Help: "Number of partitions currently halted on a fatal commit error",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_batch_commit_duration_seconds",
			Help:    "Duration of warehouse batch commits",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointAdvancesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_checkpoint_advances_total",
			Help: "Total number of checkpoint advances",
		},
	)
)

// Register registers all pipeline metrics with the default registry.
func Register() {
	prometheus.MustRegister(EventsReadTotal)
	prometheus.MustRegister(EventsValidTotal)
	prometheus.MustRegister(EventsRejectedTotal)
	prometheus.MustRegister(DuplicatesDroppedTotal)
	prometheus.MustRegister(DedupWindowSize)
	prometheus.MustRegister(BatchesCommittedTotal)
	prometheus.MustRegister(BatchCommitRetriesTotal)
	prometheus.MustRegister(BatchesFailedTotal)
	prometheus.MustRegister(RecordsCommittedTotal)
	prometheus.MustRegister(PartitionsHalted)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(CheckpointAdvancesTotal)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
