package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/config"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/migrate"
	"github.com/marmos91/gridfsmigrate/pkg/source"
)

func newStatusCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show migration progress recorded in the ledger",
		Long: `Print the number of files in each ledger status. With --reconcile, also
list every migrated file whose object is missing from the target or has the
wrong size.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runStatus(cmd)
		},
	}
	cmd.Flags().BoolVar(
		&opts.reconcile, "reconcile", false, "check migrated files against the target")
	return cmd
}

func (o *options) runStatus(cmd *cobra.Command) error {
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

	out := cmd.OutOrStdout()

	if !o.reconcile {
		led, err := config.CreateLedger(ctx, &cfg.Ledger)
		if err != nil {
			return err
		}
		defer func() { _ = led.Close() }()

		printCounts(out, led.Counts())
		return nil
	}

	env, err := openEnvironment(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	printCounts(out, env.ledger.Counts())

	m := migrate.New(env.source, env.target, env.ledger, migrate.Config{
		Filter: source.Filter{IDs: cfg.Migration.Filter.IDs},
	})
	report, err := m.Reconcile(ctx)
	if err != nil {
		return err
	}

	printReconcile(out, report)
	if !report.OK() {
		return fmt.Errorf("reconcile: %d missing and %d size mismatches out of %d migrated files",
			len(report.Missing), len(report.SizeMismatch), report.Tracked)
	}
	return nil
}

// printCounts renders per-status file counts in phase order.
func printCounts(w io.Writer, counts map[ledger.Status]int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Status", "Files"})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	total := 0
	for _, status := range ledger.Statuses {
		n := counts[status]
		total += n
		table.Append([]string{string(status), humanize.Comma(int64(n))})
	}
	table.SetFooter([]string{"Total", humanize.Comma(int64(total))})
	table.Render()
}

// printReconcile renders the problems found by a reconciliation.
func printReconcile(w io.Writer, r *migrate.ReconcileReport) {
	fmt.Fprintf(w, "\nReconcile: %s\n", r.Summary())
	if r.OK() {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Status", "Key", "Problem", "Recorded"})

	for _, e := range r.Missing {
		table.Append([]string{e.FileID, string(e.Status), e.Key, "missing", humanize.IBytes(uint64(e.Bytes))})
	}
	for _, e := range r.SizeMismatch {
		table.Append([]string{e.FileID, string(e.Status), e.Key, "size mismatch", strconv.FormatInt(e.Bytes, 10) + " bytes"})
	}
	table.Render()
}
