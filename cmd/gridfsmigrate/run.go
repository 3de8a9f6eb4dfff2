package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/internal/ratelimiter"
	"github.com/marmos91/gridfsmigrate/pkg/config"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/migrate"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

func newDumpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "copy GridFS uploads to the target",
		Long: `Copy every upload still stored in GridFS to the target and record each
outcome in the ledger. Files already dumped are skipped, so an interrupted
dump can simply be run again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runPhase(cmd, (*migrate.Migrator).Dump)
		},
	}
}

func newUpdateMetadataCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update-metadata",
		Short: "point dumped uploads at their new location",
		Long: `Rewrite the storage fields of every upload the ledger records as dumped
so that Rocket.Chat serves it from the target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runPhase(cmd, (*migrate.Migrator).UpdateMetadata)
		},
	}
}

func newRemoveSourceBlobsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-source-blobs",
		Short: "delete GridFS chunks of migrated uploads",
		Long: `Delete the GridFS chunks of every upload whose metadata now points at the
target. By default the target object is checked first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runPhase(cmd, (*migrate.Migrator).RemoveSourceBlobs)
		},
	}
	cmd.Flags().BoolVar(
		&opts.dryRun, "dry-run", false, "log what would be removed without deleting anything")
	cmd.Flags().BoolVar(
		&opts.noVerifyTarget, "no-verify-target", false, "skip checking the target object before deleting")
	return cmd
}

// phaseFunc runs one migration phase.
type phaseFunc func(m *migrate.Migrator, ctx context.Context) (*migrate.Summary, error)

// runPhase wires configuration, ledger, metrics, source and target together,
// runs phase until it completes or the process is interrupted, and prints
// the summary. The returned error is non-nil when any file failed.
func (o *options) runPhase(cmd *cobra.Command, phase phaseFunc) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	env, err := openEnvironment(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	m := migrate.New(env.source, env.target, env.ledger, migrate.Config{
		MaxWorkers:   cfg.Migration.MaxWorkers,
		WriteRetries: cfg.Migration.WriteRetries,
		RetryDelay:   cfg.Migration.RetryDelay,
		VerifyTarget: cfg.Migration.VerifyTarget,
		DryRun:       o.dryRun,
		Filter: source.Filter{
			IDs:    cfg.Migration.Filter.IDs,
			RoomID: cfg.Migration.Filter.RoomID,
			UserID: cfg.Migration.Filter.UserID,
		},
		RateLimiter: ratelimiter.New(cfg.Migration.RateLimit, cfg.Migration.Burst),
		Metrics:     env.metrics.Migration,
	})

	summary, err := phase(m, ctx)
	if summary != nil {
		fmt.Fprintln(cmd.OutOrStdout(), summary.String())
		for _, id := range summary.FailedIDs {
			fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s\n", id)
		}
	}
	if err != nil {
		if isInterrupted(err) {
			logger.Warn("Run interrupted; run the same command again to resume")
		}
		return err
	}
	return summary.Err()
}

// environment holds the resources one command run needs.
type environment struct {
	ledger  ledger.Ledger
	source  source.Source
	target  target.Target
	metrics *config.MetricsResult

	stopMetrics func()
}

// openEnvironment opens the ledger first so that a broken ledger fails the
// run before the database is touched. The metrics registry is initialised
// before the target so the S3 collectors are registered.
func openEnvironment(ctx context.Context, cfg *config.Config) (env *environment, err error) {
	env = &environment{stopMetrics: func() {}}
	defer func() {
		if err != nil {
			env.Close()
			env = nil
		}
	}()

	if env.ledger, err = config.CreateLedger(ctx, &cfg.Ledger); err != nil {
		return env, err
	}

	led := env.ledger
	env.metrics = config.InitializeMetrics(cfg, func() map[string]int {
		counts := make(map[string]int)
		for status, n := range led.Counts() {
			counts[string(status)] = n
		}
		return counts
	})
	if env.metrics.Server != nil {
		env.stopMetrics = serveMetrics(env.metrics)
	}

	if env.source, err = config.CreateSource(ctx, &cfg.Source); err != nil {
		return env, err
	}
	if env.target, err = config.CreateTarget(ctx, &cfg.Target, env.source); err != nil {
		return env, err
	}

	return env, nil
}

// Close releases everything in reverse order of opening. The ledger is
// closed last so that no append can be lost.
func (e *environment) Close() {
	if e.target != nil {
		if err := e.target.Close(); err != nil {
			logger.Warn("Failed to close target: %v", err)
		}
	}
	if e.source != nil {
		if err := e.source.Close(); err != nil {
			logger.Warn("Failed to close source: %v", err)
		}
	}
	e.stopMetrics()
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil {
			logger.Error("Failed to close ledger: %v", err)
		}
	}
}

// serveMetrics runs the metrics server in the background and returns a
// function that stops it and waits for it to exit.
func serveMetrics(m *config.MetricsResult) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := m.Server.Start(ctx); err != nil {
			logger.Error("Metrics server error: %v", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// interruptContext returns a context cancelled on SIGINT or SIGTERM. A
// second signal terminates the process immediately.
func interruptContext(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	stopped := make(chan struct{})

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			logger.Warn("Interrupt received, finishing in-flight files (interrupt again to abort)")
			cancel()
		case <-stopped:
			return
		}
		select {
		case <-sigChan:
			logger.Error("Second interrupt received, aborting")
			os.Exit(130)
		case <-stopped:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(stopped)
			cancel()
		})
	}
}

// isInterrupted reports whether err stems from an interrupted run.
func isInterrupted(err error) bool {
	return errors.Is(err, migrate.ErrInterrupted) || errors.Is(err, context.Canceled)
}
