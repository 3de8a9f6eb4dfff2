package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sectionComments documents each top-level section of a generated config file.
var sectionComments = []struct {
	key     string
	comment string
}{
	{"logging", "Logging: level DEBUG|INFO|WARN|ERROR, format text|json, output stdout|stderr|<file>"},
	{"source", "Source database holding the rocketchat_uploads collection and its GridFS bucket"},
	{"target", "Destination storage: filesystem (path) or s3 (bucket, region, optional endpoint)"},
	{"ledger", "Append-only migration ledger: file (JSON lines) or badger (directory)"},
	{"migration", "Worker pool, write retries, dispatch rate limit and file filter"},
	{"metrics", "Prometheus endpoint (/metrics and /status) served while a phase runs"},
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path written. Fails when the file exists unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold database and S3 credentials.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg section by section so every section
// carries an explanatory comment.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	comments := make(map[string]string, len(sectionComments))
	for _, s := range sectionComments {
		comments[s.key] = s.comment
	}

	// doc is a mapping node of alternating key and value nodes.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := comments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	var b strings.Builder
	b.WriteString("# gridfsmigrate configuration file\n")
	b.WriteString("#\n")
	b.WriteString("# Every key can be overridden with a GRIDFSMIGRATE_ environment variable,\n")
	b.WriteString("# e.g. GRIDFSMIGRATE_MIGRATION_MAX_WORKERS=8, and by command-line flags.\n\n")
	b.Write(out)
	return b.String(), nil
}
