// Package migrate runs the three migration phases over a source, a target and
// the ledger.
//
// Dump copies every eligible GridFS file into the target with a bounded pool
// of workers. UpdateMetadata repoints the upload records of dumped files at
// their new location. RemoveSourceBlobs deletes the GridFS chunks of files
// whose records already point elsewhere. Each phase takes its worklist from,
// and records its progress in, the ledger, so phases are idempotent and can
// run in separate invocations.
package migrate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/internal/ratelimiter"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/metrics"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

const (
	DefaultMaxWorkers   = 1
	DefaultWriteRetries = 3
	DefaultRetryDelay   = time.Second
)

// Config contains configuration for a Migrator.
type Config struct {
	// MaxWorkers is the number of concurrent dump workers (default: 1)
	MaxWorkers int

	// WriteRetries is the number of write attempts per file, including the
	// first (default: 3). Only target write failures are retried.
	WriteRetries int

	// RetryDelay is the delay before the first retry; it doubles on each
	// further attempt (default: 1s)
	RetryDelay time.Duration

	// VerifyTarget makes the removal phase check that the target object still
	// exists with the recorded size before deleting chunks
	VerifyTarget bool

	// DryRun makes the removal phase log what it would delete without
	// deleting or recording anything
	DryRun bool

	// Filter narrows every phase to matching files
	Filter source.Filter

	// RunID tags the ledger entries written by this process (default: random uuid)
	RunID string

	// RateLimiter throttles dump dispatch. Nil disables throttling.
	RateLimiter *ratelimiter.RateLimiter

	// Metrics is optional; nil selects the no-op implementation
	Metrics metrics.MigrationMetrics

	// Clock drives retry delays (default: clock.WallClock)
	Clock clock.Clock
}

// Migrator coordinates the migration phases.
//
// Thread Safety: a Migrator runs one phase at a time.
type Migrator struct {
	source source.Source
	target target.Target
	ledger ledger.Ledger
	config Config
}

// New creates a Migrator.
//
// Parameters:
//   - src: Document store holding the upload records and GridFS chunks
//   - tgt: Destination for file bytes
//   - led: Ledger shared by every phase
//   - config: Migration configuration; zero values get defaults
//
// Returns a Migrator ready to run phases.
func New(src source.Source, tgt target.Target, led ledger.Ledger, config Config) *Migrator {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultMaxWorkers
	}
	if config.WriteRetries <= 0 {
		config.WriteRetries = DefaultWriteRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.RunID == "" {
		config.RunID = uuid.NewString()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNoopMigrationMetrics()
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}

	return &Migrator{
		source: src,
		target: tgt,
		ledger: led,
		config: config,
	}
}

// RunID returns the id written into this run's ledger entries.
func (m *Migrator) RunID() string {
	return m.config.RunID
}

// appendEntry records e. A ledger write failure is returned as is and must
// abort the run; any other rejection is logged and reported as a per-file
// failure by the caller.
func (m *Migrator) appendEntry(ctx context.Context, phase Phase, e ledger.Entry) error {
	e.RunID = m.config.RunID
	err := m.ledger.Append(ctx, e)
	if err != nil && !ledger.IsWriteError(err) {
		logger.Warn("%s: ledger rejected %s for %s: %v", phase, e.Status, e.FileID, err)
	}
	return err
}

// publishLedgerCounts exports the current ledger status counts.
func (m *Migrator) publishLedgerCounts() {
	counts := m.ledger.Counts()
	for _, status := range ledger.Statuses {
		m.config.Metrics.SetLedgerFiles(string(status), counts[status])
	}
}

func (m *Migrator) finish(phase Phase, t *tally, start time.Time) *Summary {
	m.publishLedgerCounts()

	s := t.summary(m.config.Clock.Now().Sub(start))
	if s.Failed > 0 {
		logger.Warn("%s", s)
		logger.Warn("%s: failed files: %v", phase, s.FailedIDs)
	} else {
		logger.Info("%s", s)
	}
	return s
}
