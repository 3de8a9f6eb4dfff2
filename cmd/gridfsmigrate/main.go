// Command gridfsmigrate moves Rocket.Chat file uploads out of MongoDB GridFS
// into a filesystem directory or an S3 bucket.
//
// The migration runs as three separately invoked phases:
//
//	gridfsmigrate dump                 copy every upload to the target
//	gridfsmigrate update-metadata      repoint upload records at the copies
//	gridfsmigrate remove-source-blobs  delete the GridFS chunks
//
// Progress is kept in an append-only ledger, so every phase can be re-run
// after an interruption and resumes where it stopped.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gridfsmigrate [command] (flags)",
		Short: "migrate Rocket.Chat uploads from GridFS to a filesystem or S3",
		Long: `Migrate Rocket.Chat file uploads from MongoDB GridFS to a filesystem
directory or an S3 bucket.

Run the phases in order: dump, update-metadata, remove-source-blobs. Each phase
only acts on files the previous one completed, as recorded in the ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().StringVarP(
		&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/gridfsmigrate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(
		&opts.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	rootCmd.PersistentFlags().StringVarP(
		&opts.ledgerPath, "ledger", "l", "", "ledger file (or badger directory)")
	rootCmd.PersistentFlags().StringVar(
		&opts.ledgerType, "ledger-type", "", "ledger backend: file or badger")

	dumpCmd := newDumpCommand(opts)
	updateMetadataCmd := newUpdateMetadataCommand(opts)
	removeSourceBlobsCmd := newRemoveSourceBlobsCommand(opts)
	statusCmd := newStatusCommand(opts)

	for _, cmd := range []*cobra.Command{dumpCmd, updateMetadataCmd, removeSourceBlobsCmd, statusCmd} {
		cmd.Flags().StringVarP(
			&opts.host, "host", "s", "", "MongoDB host")
		cmd.Flags().IntVarP(
			&opts.port, "port", "p", 0, "MongoDB port")
		cmd.Flags().StringVarP(
			&opts.database, "database", "r", "", "database name")
		cmd.Flags().StringVar(
			&opts.user, "user", "", "MongoDB username")
		cmd.Flags().StringVar(
			&opts.password, "password", "", "MongoDB password")
		cmd.Flags().StringVar(
			&opts.mongoURI, "mongo-uri", "", "MongoDB connection string (overrides host and port)")
		cmd.Flags().StringVarP(
			&opts.target, "target", "t", "", "storage target: filesystem or s3")
		cmd.Flags().StringVarP(
			&opts.destination, "destination", "d", "", "output directory or S3 bucket")
		cmd.Flags().StringSliceVar(
			&opts.ids, "id", nil, "upload id to process (repeatable)")
		cmd.Flags().StringVar(
			&opts.roomID, "room", "", "only process uploads of this room")
		cmd.Flags().StringVar(
			&opts.userID, "user-id", "", "only process uploads of this user")
	}

	for _, cmd := range []*cobra.Command{dumpCmd, updateMetadataCmd, removeSourceBlobsCmd} {
		cmd.Flags().IntVarP(
			&opts.maxWorkers, "max-workers", "w", 0, "number of parallel dump workers")
		cmd.Flags().Float64Var(
			&opts.rateLimit, "rate-limit", 0, "maximum files dispatched per second (0 = unlimited)")
		cmd.Flags().BoolVar(
			&opts.metrics, "metrics", false, "serve Prometheus metrics while running")
		cmd.Flags().IntVar(
			&opts.metricsPort, "metrics-port", 0, "metrics server port")
	}

	rootCmd.AddCommand(
		dumpCmd,
		updateMetadataCmd,
		removeSourceBlobsCmd,
		statusCmd,
		newInitCommand(),
	)

	return rootCmd
}

func main() {
	if err := newRootCommand(&options{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
