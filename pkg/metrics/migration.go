package metrics

import "time"

// MigrationMetrics provides observability for the migration phases.
//
// The prometheus subpackage provides the Prometheus implementation. This
// interface is optional: phases given a nil MigrationMetrics use the no-op
// implementation.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewMigrationMetrics()
//	migrator := migrate.New(cfg, migrate.WithMetrics(m))
//
//	// Without metrics (no-op)
//	migrator := migrate.New(cfg)
type MigrationMetrics interface {
	// RecordFile records the outcome of one file in a phase.
	//
	// Parameters:
	//   - phase: "dump", "update-metadata" or "remove-source-blobs"
	//   - outcome: "succeeded", "failed", "skipped" or "already_done"
	//   - bytes: Bytes moved for the file (0 when none)
	//   - duration: Time spent on the file
	RecordFile(phase, outcome string, bytes int64, duration time.Duration)

	// RecordRetry increments the retry counter for a phase.
	RecordRetry(phase string)

	// RecordTaskStart increments the in-flight task gauge.
	RecordTaskStart(phase string)

	// RecordTaskEnd decrements the in-flight task gauge.
	RecordTaskEnd(phase string)

	// SetLedgerFiles sets the number of files whose latest ledger status is
	// status.
	SetLedgerFiles(status string, count int)
}

// NewNoopMigrationMetrics returns a MigrationMetrics that discards everything.
func NewNoopMigrationMetrics() MigrationMetrics {
	return noopMigrationMetrics{}
}

type noopMigrationMetrics struct{}

func (noopMigrationMetrics) RecordFile(phase, outcome string, bytes int64, duration time.Duration) {}
func (noopMigrationMetrics) RecordRetry(phase string)                                              {}
func (noopMigrationMetrics) RecordTaskStart(phase string)                                          {}
func (noopMigrationMetrics) RecordTaskEnd(phase string)                                            {}
func (noopMigrationMetrics) SetLedgerFiles(status string, count int)                               {}
