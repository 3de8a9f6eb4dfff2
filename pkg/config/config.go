package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete gridfsmigrate configuration.
//
// This structure captures all configurable aspects of a migration run:
//   - Logging configuration
//   - Source database selection and connection settings (source-specific)
//   - Target storage selection and configuration (target-specific)
//   - Ledger backend and location
//   - Migration tuning (workers, retries, rate limit, file filter)
//   - Prometheus metrics endpoint
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (GRIDFSMIGRATE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Each source and target implementation defines its own configuration type and
// factory function. The Config struct contains type-specific sections (e.g.,
// target.filesystem, target.s3) and only the section matching the selected type
// is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Source specifies where uploads are read from
	Source SourceConfig `mapstructure:"source" yaml:"source"`

	// Target specifies where uploads are written to
	Target TargetConfig `mapstructure:"target" yaml:"target"`

	// Ledger specifies the migration ledger backend
	Ledger LedgerConfig `mapstructure:"ledger" yaml:"ledger"`

	// Migration contains worker pool and filtering settings
	Migration MigrationConfig `mapstructure:"migration" yaml:"migration"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// SourceConfig specifies the source database.
type SourceConfig struct {
	// Type specifies which source implementation to use
	// Valid values: mongo
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=mongo"`

	// Mongo contains MongoDB connection settings
	// Only used when Type = "mongo"
	Mongo map[string]any `mapstructure:"mongo" yaml:"mongo"`
}

// TargetConfig specifies the destination storage.
//
// The Type field determines which target implementation is used.
// Only the corresponding type-specific configuration section is used.
type TargetConfig struct {
	// Type specifies which target implementation to use
	// Valid values: filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// LedgerConfig specifies the ledger backend.
type LedgerConfig struct {
	// Type specifies which ledger implementation to use
	// Valid values: file (JSON lines), badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=file badger"`

	// Path is the ledger file, or the database directory for badger
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// MigrationConfig tunes the migration phases.
type MigrationConfig struct {
	// MaxWorkers is the number of concurrent dump workers
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" validate:"gte=1,lte=1024"`

	// WriteRetries is the number of attempts for a failing target write
	WriteRetries int `mapstructure:"write_retries" yaml:"write_retries" validate:"gte=1,lte=100"`

	// RetryDelay is the initial delay between write attempts; it doubles on
	// every retry
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`

	// RateLimit caps dispatched files per second (0 = unlimited)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`

	// Burst is the number of files that may be dispatched at once under the
	// rate limit
	Burst int `mapstructure:"burst" yaml:"burst" validate:"gte=0"`

	// VerifyTarget re-checks the stored object before source chunks are removed
	VerifyTarget bool `mapstructure:"verify_target" yaml:"verify_target"`

	// Filter restricts every phase to a subset of files
	Filter FilterConfig `mapstructure:"filter" yaml:"filter"`
}

// FilterConfig selects files by id, room or uploader.
type FilterConfig struct {
	// IDs lists explicit upload ids; empty means all
	IDs []string `mapstructure:"ids" yaml:"ids" validate:"dive,required"`

	// RoomID restricts to uploads posted in one room
	RoomID string `mapstructure:"room_id" yaml:"room_id"`

	// UserID restricts to uploads by one user
	UserID string `mapstructure:"user_id" yaml:"user_id"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics server for the duration of the run
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics and /status
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GRIDFSMIGRATE_*)
//  2. Configuration file
//  3. Default values
//
// CLI flags are applied by the caller on the returned Config.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	cfg, err := LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadUnvalidated reads and defaults the configuration without validating
// it, so that command-line overrides can be applied before Validate.
func LoadUnvalidated(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: GRIDFSMIGRATE_MIGRATION_MAX_WORKERS=8
	v.SetEnvPrefix("GRIDFSMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// scalar that may come from the environment is registered here.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"source.type", "target.type",
		"ledger.type", "ledger.path",
		"migration.max_workers", "migration.write_retries", "migration.retry_delay",
		"migration.rate_limit", "migration.burst",
		"migration.filter.room_id", "migration.filter.user_id",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	// Booleans that default to true cannot be detected as unset after
	// unmarshalling, so their defaults live in viper.
	v.SetDefault("migration.verify_target", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/gridfsmigrate/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is reported as a plain
		// os error, not ConfigFileNotFoundError.
		if configPath != "" && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gridfsmigrate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "gridfsmigrate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
