// Package metrics exposes Prometheus metrics for recovery runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the run, day and dataset series. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	recoveryGap      prometheus.Gauge
	lastSuccess      prometheus.Gauge
	days             *prometheus.CounterVec
	recordsLoaded    *prometheus.CounterVec
	rowsSkipped      *prometheus.CounterVec
	datasetFailures  *prometheus.CounterVec
	allSkippedFiles  *prometheus.CounterVec
	reconcileErrors  *prometheus.CounterVec
	datasetDurations *prometheus.HistogramVec
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// New creates and registers the metrics with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jusosync_runs_total",
			Help: "Recovery runs by outcome (completed, halted, window_exceeded, busy, noop)",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jusosync_run_duration_seconds",
			Help:    "Wall time of recovery runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		recoveryGap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jusosync_recovery_gap_days",
			Help: "Days between the progress marker and today at the start of the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jusosync_last_success_date_seconds",
			Help: "Unix time of the last fully successful day",
		}),
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jusosync_days_processed_total",
			Help: "Processed days by outcome (advanced, failed, marker_write_failed)",
		}, []string{"outcome"}),
		recordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jusosync_records_loaded_total",
			Help: "Rows committed to staging by dataset",
		}, []string{"dataset"}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jusosync_rows_skipped_total",
			Help: "Source lines skipped by dataset and reason",
		}, []string{"dataset", "reason"}),
		datasetFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jusosync_dataset_failures_total",
			Help: "Dataset runs that ended in an error by dataset and error kind",
		}, []string{"dataset", "kind"}),
		allSkippedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jusosync_all_lines_skipped_files_total",
			Help: "Files whose every line was skipped",
		}, []string{"dataset"}),
		reconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jusosync_reconcile_errors_total",
			Help: "Failed downstream reconciliation calls by dataset",
		}, []string{"dataset"}),
		datasetDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jusosync_dataset_duration_seconds",
			Help:    "Time to fetch, extract, parse and load one dataset for one day",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"dataset"}),
	}

	registry.MustRegister(
		m.runs,
		m.runDuration,
		m.recoveryGap,
		m.lastSuccess,
		m.days,
		m.recordsLoaded,
		m.rowsSkipped,
		m.datasetFailures,
		m.allSkippedFiles,
		m.reconcileErrors,
		m.datasetDurations,
	)
	return m
}

// RunFinished records a run's outcome and duration.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// RecoveryGap records the gap seen at the start of a run.
func (m *Metrics) RecoveryGap(days int) {
	if m == nil {
		return
	}
	m.recoveryGap.Set(float64(days))
}

// DayAdvanced records a day whose marker was written.
func (m *Metrics) DayAdvanced(day time.Time) {
	if m == nil {
		return
	}
	m.days.WithLabelValues("advanced").Inc()
	m.lastSuccess.Set(float64(day.Unix()))
}

// DayFailed records a day that stopped the run or whose marker write failed.
func (m *Metrics) DayFailed(outcome string) {
	if m == nil {
		return
	}
	m.days.WithLabelValues(outcome).Inc()
}

// RecordsLoaded adds committed rows.
func (m *Metrics) RecordsLoaded(dataset string, n int) {
	if m == nil {
		return
	}
	m.recordsLoaded.WithLabelValues(dataset).Add(float64(n))
}

// RowsSkipped adds skipped lines for a reason (short, missing_required).
func (m *Metrics) RowsSkipped(dataset, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsSkipped.WithLabelValues(dataset, reason).Add(float64(n))
}

// AllLinesSkipped counts a file that yielded no records at all.
func (m *Metrics) AllLinesSkipped(dataset string) {
	if m == nil {
		return
	}
	m.allSkippedFiles.WithLabelValues(dataset).Inc()
}

// DatasetFailed counts a dataset error by kind.
func (m *Metrics) DatasetFailed(dataset, kind string) {
	if m == nil {
		return
	}
	m.datasetFailures.WithLabelValues(dataset, kind).Inc()
}

// ReconcileFailed counts a failed reconciliation call.
func (m *Metrics) ReconcileFailed(dataset string) {
	if m == nil {
		return
	}
	m.reconcileErrors.WithLabelValues(dataset).Inc()
}

// DatasetDuration observes one dataset run.
func (m *Metrics) DatasetDuration(dataset string, d time.Duration) {
	if m == nil {
		return
	}
	m.datasetDurations.WithLabelValues(dataset).Observe(d.Seconds())
}
