// Package metrics exports Prometheus metrics for the migration phases and the
// S3 target.
//
// Metrics are opt-in. Until InitRegistry is called every constructor in this
// package and in metrics/prometheus returns nil, and callers treat a nil
// collector as "do not record":
//
//	metrics.InitRegistry()
//	m := prometheus.NewMigrationMetrics()
//	srv := metrics.NewServer(metrics.ServerConfig{Port: 9090})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the process-wide registry, or nil when metrics are off.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return registry != nil
}
