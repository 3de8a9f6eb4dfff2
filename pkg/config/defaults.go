package config

import (
	"strings"
	"time"

	"github.com/marmos91/gridfsmigrate/pkg/metrics"
	"github.com/marmos91/gridfsmigrate/pkg/migrate"
)

// Default values shared with the command line.
const (
	DefaultMongoHost     = "localhost"
	DefaultMongoPort     = 27017
	DefaultMongoDatabase = "rocketchat"
	DefaultLedgerPath    = "gridfsmigrate-ledger.jsonl"
	DefaultFSPath        = "/var/lib/rocketchat/uploads"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Type-specific map entries are only added when absent
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySourceDefaults(&cfg.Source)
	applyTargetDefaults(&cfg.Target)
	applyLedgerDefaults(&cfg.Ledger)
	applyMigrationDefaults(&cfg.Migration)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applySourceDefaults(cfg *SourceConfig) {
	if cfg.Type == "" {
		cfg.Type = "mongo"
	}
	if cfg.Mongo == nil {
		cfg.Mongo = make(map[string]any)
	}

	setDefault(cfg.Mongo, "host", DefaultMongoHost)
	setDefault(cfg.Mongo, "port", DefaultMongoPort)
	setDefault(cfg.Mongo, "database", DefaultMongoDatabase)
}

func applyTargetDefaults(cfg *TargetConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Defaults for every target type, so generated config files show them
	setDefault(cfg.Filesystem, "path", DefaultFSPath)
	setDefault(cfg.Filesystem, "create_dir", true)
	setDefault(cfg.S3, "region", "us-east-1")
	setDefault(cfg.S3, "max_retries", 10)
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}
	if cfg.Path == "" {
		cfg.Path = DefaultLedgerPath
	}
}

func applyMigrationDefaults(cfg *MigrationConfig) {
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = migrate.DefaultMaxWorkers
	}
	if cfg.WriteRetries == 0 {
		cfg.WriteRetries = migrate.DefaultWriteRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = migrate.DefaultRetryDelay
	}
	if cfg.Filter.IDs == nil {
		cfg.Filter.IDs = []string{}
	}
	// RateLimit 0 means unlimited; Burst is clamped by the rate limiter.
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = metrics.DefaultPort
	}
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Migration: MigrationConfig{
			RetryDelay:   time.Second,
			VerifyTarget: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
