// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Finished sync runs partitioned by terminal status
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ltvsync_runs_total",
			Help: "Total number of finished sync runs",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ltvsync_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"status"},
	)

	runInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ltvsync_run_in_progress",
			Help: "1 while a sync run is executing",
		},
	)

	contactsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ltvsync_contacts_processed_total",
			Help: "Contacts fetched from the CRM and scored",
		},
	)

	contactsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ltvsync_contacts_uploaded_total",
			Help: "Rows accepted by the ad platform",
		},
	)

	invalidEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ltvsync_invalid_entries_total",
			Help: "Rows rejected by the ad platform as invalid",
		},
	)
)

// RunStarted marks a run as in progress.
func RunStarted() {
	runInProgress.Set(1)
}

// RunFinished records the outcome of a run.
func RunFinished(status string, d time.Duration) {
	runInProgress.Set(0)
	runsTotal.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(d.Seconds())
}

// Uploaded records per-run contact counters.
func Uploaded(processed, received, invalid int) {
	contactsProcessed.Add(float64(processed))
	contactsUploaded.Add(float64(received))
	invalidEntries.Add(float64(invalid))
}
