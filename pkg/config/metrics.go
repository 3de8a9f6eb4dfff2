package config

import (
	"github.com/marmos91/gridfsmigrate/pkg/metrics"
	promMetrics "github.com/marmos91/gridfsmigrate/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Migration is the collector for the migration phases (never nil, uses noop if disabled)
	Migration metrics.MigrationMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, whose /status endpoint reports status
//   - Creates Prometheus-backed migration metrics
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Call it before CreateTarget so the S3 target picks up its collectors.
//
// Parameters:
//   - cfg: The complete gridfsmigrate configuration
//   - status: Optional ledger counts provider for /status
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config, status func() map[string]int) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Migration: metrics.NewNoopMigrationMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:   cfg.Metrics.Port,
		Status: status,
	})

	return &MetricsResult{
		Server:    server,
		Migration: promMetrics.NewMigrationMetrics(),
	}
}
