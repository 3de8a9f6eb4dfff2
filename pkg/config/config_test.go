package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"

target:
  type: "filesystem"
  filesystem:
    path: "/srv/uploads"

migration:
  max_workers: 8
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Migration.MaxWorkers != 8 {
		t.Errorf("Expected max_workers 8, got %d", cfg.Migration.MaxWorkers)
	}
	if cfg.Migration.WriteRetries != 3 {
		t.Errorf("Expected default write_retries 3, got %d", cfg.Migration.WriteRetries)
	}
	if !cfg.Migration.VerifyTarget {
		t.Error("Expected verify_target to default to true")
	}
	if cfg.Target.Filesystem["path"] != "/srv/uploads" {
		t.Errorf("Expected filesystem path from file, got %v", cfg.Target.Filesystem["path"])
	}
	if cfg.Source.Mongo["database"] != "rocketchat" {
		t.Errorf("Expected default database 'rocketchat', got %v", cfg.Source.Mongo["database"])
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A path in a fresh directory keeps the user's own config out of the test
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Target.Type != "filesystem" {
		t.Errorf("Expected default target type 'filesystem', got %q", cfg.Target.Type)
	}
	if cfg.Ledger.Type != "file" || cfg.Ledger.Path != DefaultLedgerPath {
		t.Errorf("Expected default file ledger at %s, got %s %s", DefaultLedgerPath, cfg.Ledger.Type, cfg.Ledger.Path)
	}
	if cfg.Migration.MaxWorkers != 1 {
		t.Errorf("Expected default max_workers 1, got %d", cfg.Migration.MaxWorkers)
	}
	if cfg.Migration.RetryDelay != time.Second {
		t.Errorf("Expected default retry_delay 1s, got %v", cfg.Migration.RetryDelay)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("logging:\n  level: [unclosed\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
target:
  type: "ftp"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown target type")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
migration:
  max_workers: 2
  retry_delay: 5s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("GRIDFSMIGRATE_MIGRATION_MAX_WORKERS", "16")
	t.Setenv("GRIDFSMIGRATE_LEDGER_TYPE", "badger")
	t.Setenv("GRIDFSMIGRATE_LOGGING_LEVEL", "warn")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Migration.MaxWorkers != 16 {
		t.Errorf("Expected env max_workers 16, got %d", cfg.Migration.MaxWorkers)
	}
	if cfg.Migration.RetryDelay != 5*time.Second {
		t.Errorf("Expected retry_delay 5s from file, got %v", cfg.Migration.RetryDelay)
	}
	if cfg.Ledger.Type != "badger" {
		t.Errorf("Expected env ledger type 'badger', got %q", cfg.Ledger.Type)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env level 'WARN', got %q", cfg.Logging.Level)
	}
}

func TestLoad_VerifyTargetCanBeDisabled(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("migration:\n  verify_target: false\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Migration.VerifyTarget {
		t.Error("Expected verify_target false from file")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[target]
type = "s3"

[target.s3]
bucket = "uploads"
region = "eu-west-1"

[ledger]
type = "badger"
path = "/var/lib/gridfsmigrate/ledger"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Target.Type != "s3" || cfg.Target.S3["bucket"] != "uploads" {
		t.Errorf("Expected s3 target with bucket 'uploads', got %s %v", cfg.Target.Type, cfg.Target.S3)
	}
	if cfg.Ledger.Path != "/var/lib/gridfsmigrate/ledger" {
		t.Errorf("Unexpected ledger path %q", cfg.Ledger.Path)
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	want := filepath.Join(tmpDir, "gridfsmigrate")
	if got := GetConfigDir(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if got := GetDefaultConfigPath(); got != filepath.Join(want, "config.yaml") {
		t.Errorf("Unexpected default config path %s", got)
	}
	if ConfigExists() {
		t.Error("Expected no config in a fresh directory")
	}
}
