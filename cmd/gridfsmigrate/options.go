package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/gridfsmigrate/pkg/config"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// options holds every command-line flag. Only flags the user actually set
// override the configuration.
type options struct {
	configPath string
	logLevel   string
	ledgerPath string
	ledgerType string

	host     string
	port     int
	database string
	user     string
	password string
	mongoURI string

	target      string
	destination string

	ids    []string
	roomID string
	userID string

	maxWorkers  int
	rateLimit   float64
	metrics     bool
	metricsPort int

	dryRun         bool
	noVerifyTarget bool
	reconcile      bool
}

// loadConfig loads the configuration file and environment, applies the
// flags set on cmd, and validates the result.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(o.configPath)
	if err != nil {
		return nil, err
	}

	if err := o.applyOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	config.ApplyDefaults(cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (o *options) applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if changed("ledger") {
		cfg.Ledger.Path = o.ledgerPath
	}
	if changed("ledger-type") {
		cfg.Ledger.Type = o.ledgerType
	}

	mongo := cfg.Source.Mongo
	if changed("host") {
		mongo["host"] = o.host
	}
	if changed("port") {
		mongo["port"] = o.port
	}
	if changed("database") {
		mongo["database"] = o.database
	}
	if changed("user") {
		mongo["username"] = o.user
	}
	if changed("password") {
		mongo["password"] = o.password
	}
	if changed("mongo-uri") {
		mongo["uri"] = o.mongoURI
	}

	if changed("target") {
		kind, err := target.ParseKind(o.target)
		if err != nil {
			return err
		}
		cfg.Target.Type = string(kind)
	}
	if changed("destination") {
		switch target.Kind(cfg.Target.Type) {
		case target.KindS3:
			cfg.Target.S3["bucket"] = o.destination
		default:
			cfg.Target.Filesystem["path"] = o.destination
		}
	}

	if changed("id") {
		cfg.Migration.Filter.IDs = o.ids
	}
	if changed("room") {
		cfg.Migration.Filter.RoomID = o.roomID
	}
	if changed("user-id") {
		cfg.Migration.Filter.UserID = o.userID
	}

	if changed("max-workers") {
		cfg.Migration.MaxWorkers = o.maxWorkers
	}
	if changed("rate-limit") {
		cfg.Migration.RateLimit = o.rateLimit
	}
	if changed("no-verify-target") {
		cfg.Migration.VerifyTarget = !o.noVerifyTarget
	}
	if changed("metrics") {
		cfg.Metrics.Enabled = o.metrics
	}
	if changed("metrics-port") {
		cfg.Metrics.Port = o.metricsPort
	}

	return nil
}
