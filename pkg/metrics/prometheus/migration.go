package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/gridfsmigrate/pkg/metrics"
)

// migrationMetrics is the Prometheus implementation of metrics.MigrationMetrics.
type migrationMetrics struct {
	filesTotal    *prometheus.CounterVec
	fileDuration  *prometheus.HistogramVec
	bytesTotal    *prometheus.CounterVec
	fileSize      *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	tasksInFlight *prometheus.GaugeVec
	ledgerFiles   *prometheus.GaugeVec
}

// NewMigrationMetrics creates a new Prometheus-backed MigrationMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewMigrationMetrics() metrics.MigrationMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopMigrationMetrics()
	}

	reg := metrics.GetRegistry()

	return &migrationMetrics{
		filesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridfsmigrate_files_total",
				Help: "Total number of files processed by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		fileDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gridfsmigrate_file_duration_seconds",
				Help: "Time spent per file in seconds",
				Buckets: []float64{
					0.01, // 10ms
					0.1,  // 100ms
					0.5,  // 500ms
					1,    // 1s
					5,    // 5s
					30,   // 30s
					120,  // 2m
				},
			},
			[]string{"phase"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridfsmigrate_bytes_total",
				Help: "Total bytes moved by phase",
			},
			[]string{"phase"},
		),
		fileSize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gridfsmigrate_file_size_bytes",
				Help: "Distribution of migrated file sizes",
				Buckets: []float64{
					4096,      // 4KB
					65536,     // 64KB
					1048576,   // 1MB
					10485760,  // 10MB
					104857600, // 100MB
				},
			},
			[]string{"phase"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridfsmigrate_retries_total",
				Help: "Total number of retried target writes by phase",
			},
			[]string{"phase"},
		),
		tasksInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridfsmigrate_tasks_in_flight",
				Help: "Current number of files being processed",
			},
			[]string{"phase"},
		),
		ledgerFiles: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridfsmigrate_ledger_files",
				Help: "Number of files per latest ledger status",
			},
			[]string{"status"},
		),
	}
}

func (m *migrationMetrics) RecordFile(phase, outcome string, bytes int64, duration time.Duration) {
	m.filesTotal.WithLabelValues(phase, outcome).Inc()
	if outcome != "succeeded" {
		return
	}

	m.fileDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytesTotal.WithLabelValues(phase).Add(float64(bytes))
		m.fileSize.WithLabelValues(phase).Observe(float64(bytes))
	}
}

func (m *migrationMetrics) RecordRetry(phase string) {
	m.retriesTotal.WithLabelValues(phase).Inc()
}

func (m *migrationMetrics) RecordTaskStart(phase string) {
	m.tasksInFlight.WithLabelValues(phase).Inc()
}

func (m *migrationMetrics) RecordTaskEnd(phase string) {
	m.tasksInFlight.WithLabelValues(phase).Dec()
}

func (m *migrationMetrics) SetLedgerFiles(status string, count int) {
	m.ledgerFiles.WithLabelValues(status).Set(float64(count))
}
