// Package metrics exposes Prometheus collectors for the ETL service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	etlJobsTotal            *prometheus.CounterVec
	etlPollCyclesTotal      *prometheus.CounterVec
	etlPollCycleDuration    prometheus.Histogram
	etlActiveWorkers        prometheus.Gauge
	etlTilesUploadedTotal   prometheus.Counter
	etlRastersExportedTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		etlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_jobs_total",
				Help: "Total number of jobs finalized, labeled by type and terminal status.",
			},
			[]string{"type", "status"},
		)

		etlPollCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_poll_cycles_total",
				Help: "Total number of scheduler poll cycles, labeled by result.",
			},
			[]string{"result"},
		)

		etlPollCycleDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "etl_poll_cycle_duration_seconds",
				Help:    "Histogram of poll cycle wall time.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
			},
		)

		etlActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "etl_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		etlTilesUploadedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_tiles_uploaded_total",
				Help: "Total number of map tiles uploaded to the tile bucket.",
			},
		)

		etlRastersExportedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rasters_exported_total",
				Help: "Total number of monthly composites exported, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given type and terminal status.
func ObserveJob(jobType, status string) {
	etlJobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObservePollCycle records one completed poll cycle.
func ObservePollCycle(result string, duration time.Duration) {
	etlPollCyclesTotal.WithLabelValues(result).Inc()
	etlPollCycleDuration.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	etlActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	etlActiveWorkers.Dec()
}

// AddTilesUploaded adds to the uploaded-tile counter.
func AddTilesUploaded(n int) {
	etlTilesUploadedTotal.Add(float64(n))
}

// ObserveRasterExport counts one monthly composite export attempt.
func ObserveRasterExport(outcome string) {
	etlRastersExportedTotal.WithLabelValues(outcome).Inc()
}
