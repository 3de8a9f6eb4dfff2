package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if configPath != GetDefaultConfigPath() {
		t.Errorf("Expected default path %s, got %s", GetDefaultConfigPath(), configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# gridfsmigrate configuration file",
		"logging:",
		"source:",
		"target:",
		"ledger:",
		"migration:",
		"metrics:",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := os.WriteFile(configPath, []byte("old content"), 0644); err != nil {
		t.Fatalf("Failed to write existing file: %v", err)
	}

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("Force InitConfigToPath failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	if strings.Contains(string(content), "old content") {
		t.Error("Expected existing file to be overwritten")
	}
}

func TestInitConfigToPath_CreatesDirectories(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "gridfsmigrate.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600 for a file that may hold credentials, got %o", info.Mode().Perm())
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	out, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	for _, s := range sectionComments {
		if !strings.Contains(out, "# "+s.comment) {
			t.Errorf("Missing comment for section %s", s.key)
		}
	}
	for _, want := range []string{"INFO", "rocketchat", "27017", "max_workers: 1", "verify_target: true", "retry_delay: 1s"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected generated config to contain %q", want)
		}
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config failed to load: %v", err)
	}

	def := GetDefaultConfig()
	if cfg.Migration.MaxWorkers != def.Migration.MaxWorkers {
		t.Errorf("max_workers: expected %d, got %d", def.Migration.MaxWorkers, cfg.Migration.MaxWorkers)
	}
	if cfg.Migration.RetryDelay != def.Migration.RetryDelay {
		t.Errorf("retry_delay: expected %v, got %v", def.Migration.RetryDelay, cfg.Migration.RetryDelay)
	}
	if cfg.Ledger != def.Ledger {
		t.Errorf("ledger: expected %+v, got %+v", def.Ledger, cfg.Ledger)
	}
	if cfg.Target.Filesystem["path"] != def.Target.Filesystem["path"] {
		t.Errorf("target path: expected %v, got %v", def.Target.Filesystem["path"], cfg.Target.Filesystem["path"])
	}
}
